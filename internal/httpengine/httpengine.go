// Package httpengine implements the HTTPEngine component: a
// single-request HTTPS client with redirect-follow safety, configurable
// timeouts, and origin parameter serialization rules (spec.md §4.8).
package httpengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DuplicateParameterMode controls how sequence-valued parameters are
// serialized onto the query string.
type DuplicateParameterMode string

const (
	// ModeCombined joins sequence values into one k=v1,v2,... parameter.
	ModeCombined DuplicateParameterMode = ""
	// ModeBracket emits k[]=v1&k[]=v2.
	ModeBracket DuplicateParameterMode = "[]"
	// ModeIndexFromZero emits k0=v1&k1=v2.
	ModeIndexFromZero DuplicateParameterMode = "0++"
	// ModeIndexFromOne emits k1=v1&k2=v2.
	ModeIndexFromOne DuplicateParameterMode = "1++"
)

const (
	defaultTimeout   = 8 * time.Second
	maxRedirects     = 5
)

// Options configures a single request.
type Options struct {
	TimeoutMS                       int64
	SeparateDuplicateParameters     bool
	DuplicateParameterAppendToKey   DuplicateParameterMode
	CombinedDuplicateParameterDelim string
}

func (o Options) timeout() time.Duration {
	if o.TimeoutMS <= 0 {
		return defaultTimeout
	}
	return time.Duration(o.TimeoutMS) * time.Millisecond
}

func (o Options) delimiter() string {
	if o.CombinedDuplicateParameterDelim == "" {
		return ","
	}
	return o.CombinedDuplicateParameterDelim
}

// Request describes a single outbound call.
type Request struct {
	Method     string
	URI        string
	Headers    map[string]string
	Body       io.Reader
	Parameters map[string]any
	Options    Options
}

// Response is the shape every caller-supplied fetch function and every
// HTTPEngine call returns (spec.md §4.8, §6).
type Response struct {
	Success    bool
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Message    string
}

// Engine performs redirect-safe HTTPS requests.
type Engine struct {
	logger *zap.Logger
}

// New builds an Engine.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Do executes req, following redirects up to maxRedirects while
// enforcing HTTPS-downgrade protection (spec.md §4.8, P5), and shaping
// the result into a Response that never carries a Go error across the
// boundary — transport failures become {success:false, statusCode,
// message}.
func (e *Engine) Do(ctx context.Context, req Request) Response {
	target, err := buildURL(req.URI, req.Parameters, req.Options)
	if err != nil {
		return Response{Success: false, StatusCode: 500, Message: "https.get resulted in error"}
	}

	client := &http.Client{
		Timeout: req.Options.timeout(),
		// Redirects are followed manually in doWithRedirects so the
		// HTTPS-downgrade rewrite rule can run between hops.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	wasHTTPS := strings.EqualFold(target.Scheme, "https")
	resp, err := e.doWithRedirects(ctx, client, req, target, wasHTTPS, 0)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return Response{Success: false, StatusCode: 504, Message: "https.request resulted in timeout"}
		}
		if err.Error() == "too many redirects" {
			return Response{Success: false, StatusCode: 500, Message: "Too many redirects"}
		}
		return Response{Success: false, StatusCode: 500, Message: "https.get resulted in error"}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{Success: false, StatusCode: 500, Message: "https.get resulted in error"}
	}
	if resp.StatusCode == http.StatusNotModified {
		body = nil
	}

	headers := map[string]string{}
	for k, v := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}

	return Response{
		Success:    resp.StatusCode < 400,
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
	}
}

// doWithRedirects performs the raw HTTP round-trip, re-issuing the
// request manually (rather than letting net/http auto-follow) so it can
// apply the HTTPS-downgrade rewrite rule between hops.
func (e *Engine) doWithRedirects(ctx context.Context, client *http.Client, req Request, target *url.URL, wasHTTPS bool, depth int) (*http.Response, error) {
	if depth > maxRedirects {
		return nil, fmt.Errorf("too many redirects")
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), req.Body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		loc := resp.Header.Get("Location")
		resp.Body.Close()
		if loc == "" {
			return nil, fmt.Errorf("redirect with no Location header")
		}
		if resp.StatusCode == http.StatusMovedPermanently {
			e.logger.Warn("httpengine: following 301 redirect", zap.String("location", loc))
		}

		nextURL, err := target.Parse(loc)
		if err != nil {
			return nil, err
		}
		if wasHTTPS && strings.EqualFold(nextURL.Scheme, "http") {
			nextURL.Scheme = "https"
		}
		return e.doWithRedirects(ctx, client, req, nextURL, wasHTTPS, depth+1)
	default:
		return resp, nil
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}

// buildURL appends parameters onto uri's query string per the
// serialization rules in spec.md §4.8.
func buildURL(uri string, params map[string]any, opts Options) (*url.URL, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return u, nil
	}

	q := u.Query()
	for k, v := range params {
		switch seq := v.(type) {
		case []string:
			appendSequence(&q, k, seq, opts)
		case []any:
			strs := make([]string, len(seq))
			for i, e := range seq {
				strs[i] = fmt.Sprint(e)
			}
			appendSequence(&q, k, strs, opts)
		default:
			q.Set(k, fmt.Sprint(v))
		}
	}
	u.RawQuery = q.Encode()
	return u, nil
}

func appendSequence(q *url.Values, key string, values []string, opts Options) {
	if !opts.SeparateDuplicateParameters {
		q.Set(key, strings.Join(values, opts.delimiter()))
		return
	}
	switch opts.DuplicateParameterAppendToKey {
	case ModeBracket:
		for _, v := range values {
			q.Add(key+"[]", v)
		}
	case ModeIndexFromZero:
		for i, v := range values {
			q.Add(key+strconv.Itoa(i), v)
		}
	case ModeIndexFromOne:
		for i, v := range values {
			q.Add(key+strconv.Itoa(i+1), v)
		}
	default:
		for _, v := range values {
			q.Add(key, v)
		}
	}
}

// SaltFromEnvironment returns AWS_LAMBDA_FUNCTION_NAME, used as the
// default fingerprint salt (spec.md §9 open question) when no explicit
// configuration value is supplied.
func SaltFromEnvironment() string {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
}
