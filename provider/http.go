package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config is the per-provider connection configuration.
type Config struct {
	BaseURL   string
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	Timeout   time.Duration
	// RequestsPerSecond limits calls to the provider API; zero disables the limit.
	RequestsPerSecond float64
	Burst             int
}

const defaultTimeout = 60 * time.Second

var tracer = otel.Tracer("StoryReel-server/provider")

// classifyFunc lets an adapter map provider specific error bodies before the
// generic HTTP status mapping applies. Returning nil defers to the default.
type classifyFunc func(status int, body []byte) *Error

// httpClient is the JSON transport shared by the adapters.
type httpClient struct {
	name     string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	auth     func(r *http.Request) error
	classify classifyFunc
}

func newHTTPClient(name string, cfg Config, logger *zap.Logger, auth func(r *http.Request) error) *httpClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httpClient{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger.With(zap.String("provider", name)),
		auth:    auth,
	}
}

func bearer(token string) func(r *http.Request) error {
	return func(r *http.Request) error {
		r.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// doJSON sends body as JSON and decodes the response into out. Transport
// failures are transient, HTTP failures are classified, undecodable bodies
// are protocol errors.
func (c *httpClient) doJSON(ctx context.Context, method, url string, body, out any) error {
	ctx, span := tracer.Start(ctx, c.name+" "+method)
	span.SetAttributes(attribute.String("http.url", url))
	defer span.End()

	raw, err := c.do(ctx, method, url, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		perr := NewError(c.name, KindProtocol, "decode response").WithCause(err).WithRaw(raw)
		c.logger.Debug("undecodable response", zap.String("url", url), zap.String("body", perr.Raw))
		span.RecordError(perr)
		return perr
	}
	return nil
}

func (c *httpClient) do(ctx context.Context, method, url string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, NewError(c.name, KindTransient, "rate limiter").WithCause(err)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, NewError(c.name, KindInvalidInput, "encode request").WithCause(err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, NewError(c.name, KindInvalidInput, "build request").WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		if err := c.auth(req); err != nil {
			return nil, NewError(c.name, KindAuth, "sign request").WithCause(err)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewError(c.name, KindTransient, method+" "+url).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(c.name, KindTransient, "read response").WithCause(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		perr := c.classifyResponse(resp.StatusCode, raw)
		c.logger.Debug("provider error response",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(perr.Kind)),
			zap.String("body", perr.Raw))
		return nil, perr
	}
	return raw, nil
}

func (c *httpClient) classifyResponse(status int, body []byte) *Error {
	if c.classify != nil {
		if e := c.classify(status, body); e != nil {
			if e.Provider == "" {
				e.Provider = c.name
			}
			if e.HTTPStatus == 0 {
				e.HTTPStatus = status
			}
			if e.Raw == "" {
				e.WithRaw(body)
			}
			return e
		}
	}
	return classifyHTTP(c.name, status, body)
}

// classifyHTTP is the status code mapping shared by every provider.
func classifyHTTP(name string, status int, body []byte) *Error {
	var kind Kind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusPaymentRequired:
		kind = KindQuota
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusBadRequest || status == http.StatusNotFound ||
		status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge:
		kind = KindInvalidInput
	case status >= http.StatusInternalServerError ||
		status == http.StatusRequestTimeout || status == http.StatusTooEarly:
		kind = KindTransient
	default:
		kind = KindProtocol
	}
	return NewError(name, kind, fmt.Sprintf("http status %d", status)).WithHTTPStatus(status).WithRaw(body)
}

// download fetches artifact bytes. headers are added verbatim, for providers
// whose download URLs need credentials.
func (c *httpClient) download(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	if url == "" {
		return nil, NewError(c.name, KindProtocol, "empty artifact url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewError(c.name, KindProtocol, "build download request").WithCause(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	// artifacts can be large, so the per-call API timeout does not apply here
	client := &http.Client{Transport: c.client.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, NewError(c.name, KindTransient, "download artifact").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyHTTP(c.name, resp.StatusCode, raw)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(c.name, KindTransient, "read artifact").WithCause(err)
	}
	if len(data) == 0 {
		return nil, NewError(c.name, KindProtocol, "empty artifact")
	}
	return data, nil
}
