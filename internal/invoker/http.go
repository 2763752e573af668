package invoker

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ordinaut/ordinaut/internal/value"
)

// HTTP invokes a step by treating its `uses` address as an HTTP(S)
// endpoint and its rendered `with` as a JSON POST body. The transport
// tuning (TLS floor, connection pooling, redirect cap) is carried over
// from the teacher's scheduler.Executor, generalized from "the job's
// one fixed request" to "any step's address."
type HTTP struct {
	client *http.Client
	logger *slog.Logger
}

func NewHTTP(logger *slog.Logger) *HTTP {
	return &HTTP{
		client: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		logger: logger.With("component", "invoker.http"),
	}
}

func (h *HTTP) Invoke(ctx context.Context, address string, args value.Value, timeout time.Duration) (value.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(args)
	if err != nil {
		return value.Null(), &InvocationError{Address: address, Retryable: false, Cause: fmt.Errorf("marshal args: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader(body))
	if err != nil {
		return value.Null(), &InvocationError{Address: address, Retryable: false, Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Invocation-ID", uuid.NewString())

	start := time.Now()
	h.logger.InfoContext(ctx, "invoking tool", "address", address)

	resp, err := h.client.Do(req)
	if err != nil {
		retryable := ctx.Err() != nil || isTransient(err)
		h.logger.ErrorContext(ctx, "tool invocation failed", "address", address, "error", err, "duration", time.Since(start))
		return value.Null(), &InvocationError{Address: address, Retryable: retryable, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return value.Null(), &InvocationError{Address: address, Retryable: true, Cause: fmt.Errorf("read response: %w", err)}
	}

	h.logger.InfoContext(ctx, "tool invocation complete", "address", address, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 500 {
		return value.Null(), &InvocationError{Address: address, Retryable: true, Cause: fmt.Errorf("tool returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return value.Null(), &InvocationError{Address: address, Retryable: false, Cause: fmt.Errorf("tool returned status %d", resp.StatusCode)}
	}

	if len(raw) == 0 {
		return value.Object(map[string]value.Value{"ok": value.Bool(true)}), nil
	}

	var out value.Value
	if err := json.Unmarshal(raw, &out); err != nil {
		return value.Str(string(raw)), nil
	}
	return out, nil
}

func isTransient(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
