package facilitator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

const (
	defaultClientTimeout = 60 * time.Second
	defaultRetryCount    = 2
)

// ErrFacilitator is returned for non-2xx facilitator responses.
var ErrFacilitator = errors.New("facilitator error")

type errorResponse struct {
	Error string `json:"error"`
}

// Client calls a remote facilitator.
type Client struct {
	http *resty.Client
}

var _ Interface = (*Client)(nil)

type ClientOption func(*resty.Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *resty.Client) {
		c.SetTimeout(d)
	}
}

// WithRetry sets how often verify and supported calls are retried on 5xx and transport errors.
func WithRetry(count int, wait time.Duration) ClientOption {
	return func(c *resty.Client) {
		c.SetRetryCount(count).SetRetryWaitTime(wait)
	}
}

// WithAuthorization sends a static Authorization header on every call.
func WithAuthorization(value string) ClientOption {
	return func(c *resty.Client) {
		c.SetHeader("Authorization", value)
	}
}

// NewClient returns a client for the facilitator at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(defaultClientTimeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(defaultRetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(retryable)

	for _, opt := range opts {
		opt(rc)
	}
	return &Client{http: rc}
}

// retryable retries idempotent calls only. A repeated settle could broadcast twice.
func retryable(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil {
		return false
	}
	if strings.HasSuffix(r.Request.URL, "/settle") {
		return false
	}
	return err != nil || r.StatusCode() >= http.StatusInternalServerError
}

func (c *Client) Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerificationResult, error) {
	var result types.VerificationResult
	if err := c.post(ctx, "/verify", payload, requirements, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettlementResult, error) {
	var result types.SettlementResult
	if err := c.post(ctx, "/settle", payload, requirements, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Supported(ctx context.Context) (*types.SupportedResponse, error) {
	var (
		result  types.SupportedResponse
		failure errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&failure).
		Get("/supported")
	if err != nil {
		return nil, fmt.Errorf("supported request failed: %w", err)
	}
	if resp.IsError() {
		return nil, responseError(resp, failure)
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, payload *types.PaymentPayload, requirements *types.PaymentRequirements, result any) error {
	if payload == nil || requirements == nil {
		return fmt.Errorf("%w: payload and requirements are required", ErrFacilitator)
	}

	body := types.VerifyRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      *payload,
		PaymentRequirements: *requirements,
	}

	var failure errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&failure).
		Post(path)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", strings.TrimPrefix(path, "/"), err)
	}
	if resp.IsError() {
		return responseError(resp, failure)
	}
	return nil
}

func responseError(resp *resty.Response, failure errorResponse) error {
	msg := failure.Error
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	return fmt.Errorf("%w: status %d: %s", ErrFacilitator, resp.StatusCode(), msg)
}
