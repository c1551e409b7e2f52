// Command lambda runs the cache engine behind API Gateway, adapting
// the same chi router cmd/api serves locally through
// aws-lambda-go-api-proxy (spec.md §6's external fetch/response
// interfaces are unaffected by which transport fronts them).
package main

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/63klabs/cache-data-proxy/internal/bootstrap"
	"github.com/63klabs/cache-data-proxy/internal/restapi"
)

var (
	chiLambda     *chiadapter.ChiLambdaV2
	container     *bootstrap.Container
	coldStart     = true
	coldStartTime time.Time
)

func init() {
	coldStartTime = time.Now()
	log.Println("lambda cold start initiated")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	container, err = bootstrap.New(ctx, "")
	if err != nil {
		log.Fatalf("failed to initialize cache engine: %v", err)
	}

	router := restapi.NewRouter(container)
	handler := router.Setup()

	chiRouter, ok := handler.(*chi.Mux)
	if !ok {
		log.Fatal("failed to cast handler to chi.Mux")
	}
	chiLambda = chiadapter.NewV2(chiRouter)

	container.Logger.Info("lambda cold start completed", zap.Duration("duration", time.Since(coldStartTime)))
}

// Handler is the Lambda entry point, proxying API Gateway v2 HTTP
// events through the chi router.
func Handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	resp, err := chiLambda.ProxyWithContextV2(ctx, req)

	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	if coldStart {
		resp.Headers["x-cprxy-cold-start"] = "true"
		coldStart = false
	} else {
		resp.Headers["x-cprxy-cold-start"] = "false"
	}
	if req.RequestContext.RequestID != "" {
		resp.Headers["x-request-id"] = req.RequestContext.RequestID
	}

	return resp, err
}

func main() {
	lambda.Start(Handler)
}
