package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/valyala/fasthttp"
)

// Registrar is told about a payment signature before the transaction is broadcast.
type Registrar interface {
	Register(ctx context.Context, orderID string, signature string) error
}

// RegistrarFunc adapts a function to Registrar.
type RegistrarFunc func(ctx context.Context, orderID string, signature string) error

func (f RegistrarFunc) Register(ctx context.Context, orderID string, signature string) error {
	return f(ctx, orderID, signature)
}

// NoopRegistrar accepts every signature.
type NoopRegistrar struct{}

func (NoopRegistrar) Register(context.Context, string, string) error {
	return nil
}

// EncodeSignature renders sig the way registrars expect it: base58.
func EncodeSignature(sig solana.Signature) string {
	return base58.Encode(sig[:])
}

type registerRequest struct {
	UUID      string `json:"uuid"`
	Signature string `json:"signature"`
}

// HTTPRegistrar posts {"uuid","signature"} to a backend endpoint.
type HTTPRegistrar struct {
	URL     string
	Timeout time.Duration
	client  *fasthttp.Client
}

func NewHTTPRegistrar(url string) *HTTPRegistrar {
	return &HTTPRegistrar{
		URL:     url,
		Timeout: 10 * time.Second,
		client:  &fasthttp.Client{},
	}
}

func (r *HTTPRegistrar) Register(ctx context.Context, orderID string, signature string) error {
	body, err := json.Marshal(registerRequest{UUID: orderID, Signature: signature})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	timeout := r.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	if err := r.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("register %s: %w", orderID, err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("register %s: status %d: %s", orderID, code, resp.Body())
	}
	return nil
}
