// Package crypto implements the cache engine's at-rest symmetric
// encryption: AES-256-CBC with a random 16-byte IV per call, a
// hex-encoded envelope of {iv, encryptedData}, and a sentinel string
// that round-trips a JSON null through the cipher rather than
// special-casing it at every call site (spec.md §3).
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	cacheerrors "github.com/63klabs/cache-data-proxy/internal/errors"
)

// nullSentinel stands in for a JSON null value so Encrypt/Decrypt never
// have to special-case the zero-length plaintext case.
const nullSentinel = "{{{null}}}"

// Envelope is the hex-encoded, at-rest representation of an encrypted
// cache entry payload.
type Envelope struct {
	IV             string `json:"iv"`
	EncryptedData  string `json:"encryptedData"`
}

// KeyMaterial resolves the 32-byte AES-256 key. Implementations may read
// the key eagerly (RawBytes, HexString) or defer resolution until first
// use (Lazy), matching the three key_source modes in internal/config.
type KeyMaterial interface {
	Bytes(ctx context.Context) ([]byte, error)
}

// RawBytes is key material supplied directly as 32 raw bytes.
type RawBytes []byte

func (r RawBytes) Bytes(context.Context) ([]byte, error) {
	if len(r) != 32 {
		return nil, fmt.Errorf("crypto.RawBytes: key must be 32 bytes, got %d", len(r))
	}
	return []byte(r), nil
}

// HexString is key material supplied as a 64-character hex string.
type HexString string

func (h HexString) Bytes(context.Context) ([]byte, error) {
	b, err := hex.DecodeString(string(h))
	if err != nil {
		return nil, fmt.Errorf("crypto.HexString: decode key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto.HexString: key must decode to 32 bytes, got %d", len(b))
	}
	return b, nil
}

// Lazy defers key resolution to a Resolve function, caching the result
// after the first successful Bytes call. Used for keys fetched from a
// secrets manager or another out-of-band source that shouldn't be hit on
// every cold start unconditionally.
type Lazy struct {
	Resolve func(ctx context.Context) ([]byte, error)

	resolved []byte
}

// Prime forces resolution now, surfacing any error before the key is
// needed on a request's hot path.
func (l *Lazy) Prime(ctx context.Context) error {
	_, err := l.Bytes(ctx)
	return err
}

func (l *Lazy) Bytes(ctx context.Context) ([]byte, error) {
	if l.resolved != nil {
		return l.resolved, nil
	}
	b, err := l.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto.Lazy: resolved key must be 32 bytes, got %d", len(b))
	}
	l.resolved = b
	return b, nil
}

// Cipher encrypts and decrypts cache payloads with a single KeyMaterial.
type Cipher struct {
	key KeyMaterial
}

// New builds a Cipher backed by key.
func New(key KeyMaterial) *Cipher {
	return &Cipher{key: key}
}

// Prime resolves the underlying key material now, if it supports eager
// resolution (see Lazy.Prime). Key material that resolves eagerly
// already (RawBytes, HexString) is a no-op.
func (c *Cipher) Prime(ctx context.Context) error {
	type primer interface{ Prime(context.Context) error }
	if p, ok := c.key.(primer); ok {
		return p.Prime(ctx)
	}
	return nil
}

// Encrypt AES-256-CBC encrypts plaintext under a fresh random IV and
// returns the hex-encoded envelope. An empty plaintext (nil or
// zero-length) is encrypted as nullSentinel, which Decrypt turns back
// into nil; nil and zero-length plaintexts are not told apart.
func (c *Cipher) Encrypt(ctx context.Context, plaintext []byte) (Envelope, error) {
	key, err := c.key.Bytes(ctx)
	if err != nil {
		return Envelope{}, cacheerrors.Wrap(cacheerrors.CodeCrypto, "crypto.Encrypt", "resolve key", err)
	}

	if len(plaintext) == 0 {
		plaintext = []byte(nullSentinel)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return Envelope{}, cacheerrors.Wrap(cacheerrors.CodeCrypto, "crypto.Encrypt", "init cipher", err)
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Envelope{}, cacheerrors.Wrap(cacheerrors.CodeCrypto, "crypto.Encrypt", "generate iv", err)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return Envelope{
		IV:            hex.EncodeToString(iv),
		EncryptedData: hex.EncodeToString(ciphertext),
	}, nil
}

// Decrypt reverses Encrypt. A sentinel-valued plaintext decodes back to a
// nil slice, representing the original JSON null. Decrypt failures are
// non-fatal by spec.md §7: callers should treat them as a cache miss
// (status "error:cache"/500), not propagate a process-level error.
func (c *Cipher) Decrypt(ctx context.Context, env Envelope) ([]byte, error) {
	key, err := c.key.Bytes(ctx)
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.CodeCrypto, "crypto.Decrypt", "resolve key", err)
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.CodeCrypto, "crypto.Decrypt", "decode iv", err)
	}
	ciphertext, err := hex.DecodeString(env.EncryptedData)
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.CodeCrypto, "crypto.Decrypt", "decode ciphertext", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, cacheerrors.Wrap(cacheerrors.CodeCrypto, "crypto.Decrypt", "invalid iv length", nil)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, cacheerrors.Wrap(cacheerrors.CodeCrypto, "crypto.Decrypt", "invalid ciphertext length", nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.CodeCrypto, "crypto.Decrypt", "init cipher", err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded)
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.CodeCrypto, "crypto.Decrypt", "remove padding", err)
	}

	if string(plaintext) == nullSentinel {
		return nil, nil
	}
	return plaintext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	return data[:len(data)-padLen], nil
}
