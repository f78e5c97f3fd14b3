// Package restchannel implements a channel.Adapter over a generic JSON
// REST API. The tenant's own store and third-party marketplaces all expose
// the same commit surface; only the base URL and credentials differ.
package restchannel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/drawbridge-sh/drawbridge/internal/config"
	"github.com/drawbridge-sh/drawbridge/internal/port/channel"
)

const defaultRetryAfter = 5 * time.Second

// Adapter commits actions to one REST endpoint.
type Adapter struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a REST channel adapter from its endpoint configuration.
func New(cfg config.ChannelEndpoint) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Adapter{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (a *Adapter) Name() string { return a.name }

// commitBody is the wire form of a commit request.
type commitBody struct {
	ActionID string `json:"action_id"`
	TenantID string `json:"tenant_id"`
	Kind     string `json:"kind"`
	Payload  any    `json:"payload"`
}

// commitResponse is the provider's reply to a successful commit.
type commitResponse struct {
	Ref     string `json:"ref"`
	Message string `json:"message,omitempty"`
}

func (a *Adapter) Commit(ctx context.Context, req channel.CommitRequest) channel.Result {
	body := commitBody{
		ActionID: req.ActionID,
		TenantID: req.TenantID,
		Kind:     string(req.Payload.Kind()),
		Payload:  req.Payload,
	}
	return a.post(ctx, a.baseURL+"/v1/commits", body)
}

func (a *Adapter) Withdraw(ctx context.Context, actionID, externalRef string) channel.Result {
	body := map[string]string{
		"action_id": actionID,
		"ref":       externalRef,
	}
	return a.post(ctx, a.baseURL+"/v1/withdrawals", body)
}

func (a *Adapter) post(ctx context.Context, endpoint string, body any) channel.Result {
	data, err := json.Marshal(body)
	if err != nil {
		return channel.Result{ErrKind: channel.KindPermanent, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return channel.Result{ErrKind: channel.KindPermanent, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are infrastructure problems.
		kind := channel.KindTransient
		if errors.Is(err, context.Canceled) {
			kind = channel.KindPermanent
		}
		return channel.Result{ErrKind: kind, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode < 300:
		var cr commitResponse
		if err := json.Unmarshal(respBody, &cr); err != nil {
			return channel.Result{
				ErrKind:    channel.KindPermanent,
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("decode response: %v", err),
			}
		}
		return channel.Result{Success: true, ExternalRef: cr.Ref, Message: cr.Message}

	case resp.StatusCode == http.StatusTooManyRequests:
		return channel.Result{
			ErrKind:    channel.KindRateLimited,
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			RetryAfter: retryAfter(resp),
		}

	case resp.StatusCode >= 500:
		return channel.Result{
			ErrKind:    channel.KindTransient,
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}

	default:
		return channel.Result{
			ErrKind:    channel.KindPermanent,
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
}

// retryAfter parses the Retry-After header (delta-seconds form), falling
// back to a default wait when the header is absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}
