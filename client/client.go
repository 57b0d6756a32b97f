// Package client is an HTTP client that pays for x402 protected resources.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/A-Maugli/x402-avm-avm-exmaples/encoding"
	"github.com/A-Maugli/x402-avm-avm-exmaples/logger"
	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

var (
	// ErrNoPayableRequirement is returned when no offered requirement can be paid.
	ErrNoPayableRequirement = errors.New("no payable requirement")
	// ErrPaymentRejected is returned when the server still answers 402 after payment.
	ErrPaymentRejected = errors.New("payment rejected")
	// ErrSettlementPending is returned when the payment was broadcast but not
	// confirmed in time. The transaction may still land.
	ErrSettlementPending = errors.New("settlement pending")
)

// PayloadBuilder creates signed payloads for the networks it supports.
// *exact.ClientScheme implements it.
type PayloadBuilder interface {
	Scheme() string
	Supports(network string) bool
	CreatePaymentPayload(ctx context.Context, req types.PaymentRequirements) (*types.PaymentPayload, error)
}

// Response is the final answer of a paid request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Payment is the payload sent, nil when the resource was free.
	Payment *types.PaymentPayload
	// Settlement is decoded from PAYMENT-RESPONSE when present.
	Settlement *types.SettlementResult
}

// Client retries 402 responses with a payment built by its builders.
type Client struct {
	http      *resty.Client
	builders  []PayloadBuilder
	maxAmount uint64
	log       logger.Logger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// WithMaxAmount refuses requirements above amount atomic units.
func WithMaxAmount(amount uint64) Option {
	return func(c *Client) {
		c.maxAmount = amount
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a client that pays with the first builder able to serve a requirement.
func New(builders []PayloadBuilder, opts ...Option) *Client {
	c := &Client{
		http:     resty.New().SetTimeout(2 * time.Minute),
		builders: builders,
		log:      logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches url, paying if the server asks for it.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil)
}

// Do sends a request and, on 402, builds a payment and sends it once more.
func (c *Client) Do(ctx context.Context, method, url string, body any) (*Response, error) {
	resp, err := c.send(ctx, method, url, body, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusPaymentRequired {
		return toResponse(resp, nil), nil
	}

	required, err := paymentRequired(resp)
	if err != nil {
		return nil, err
	}

	req, builder, err := c.selectRequirement(required.Accepts)
	if err != nil {
		return nil, err
	}

	payload, err := builder.CreatePaymentPayload(ctx, *req)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	payload.Resource = required.Resource

	header, err := encoding.EncodePayment(*payload)
	if err != nil {
		return nil, err
	}

	c.log.Info("paying for resource", map[string]any{
		"url":     url,
		"network": req.Network,
		"amount":  req.Amount,
		"asset":   req.Asset,
		"payTo":   req.PayTo,
	})

	resp, err = c.send(ctx, method, url, body, header)
	if err != nil {
		return nil, err
	}

	out := toResponse(resp, payload)
	if out.Settlement != nil && out.Settlement.State() == types.StateSettlementTimeout {
		c.log.Warn("payment broadcast but not confirmed", map[string]any{
			"url":         url,
			"transaction": out.Settlement.Transaction,
		})
		return out, fmt.Errorf("%w: transaction %s", ErrSettlementPending, out.Settlement.Transaction)
	}
	if resp.StatusCode() == http.StatusPaymentRequired {
		reason := ""
		if again, err := paymentRequired(resp); err == nil {
			reason = again.Error
		}
		return out, fmt.Errorf("%w: %s", ErrPaymentRejected, reason)
	}
	return out, nil
}

func (c *Client) send(ctx context.Context, method, url string, body any, payment string) (*resty.Response, error) {
	r := c.http.R().SetContext(ctx)
	if body != nil {
		r.SetBody(body)
	}
	if payment != "" {
		r.SetHeader(types.HeaderPaymentSignature, payment)
	}
	resp, err := r.Execute(method, url)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	return resp, nil
}

// selectRequirement returns the first offered requirement a builder can pay.
func (c *Client) selectRequirement(accepts []types.PaymentRequirements) (*types.PaymentRequirements, PayloadBuilder, error) {
	for i := range accepts {
		req := &accepts[i]
		if c.maxAmount > 0 {
			amount, err := req.AmountUint64()
			if err != nil || amount > c.maxAmount {
				continue
			}
		}
		for _, b := range c.builders {
			if b.Scheme() == req.Scheme && b.Supports(req.Network) {
				return req, b, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("%w among %d options", ErrNoPayableRequirement, len(accepts))
}

// paymentRequired prefers the PAYMENT-REQUIRED header and falls back to the body.
func paymentRequired(resp *resty.Response) (*types.PaymentRequired, error) {
	if header := resp.Header().Get(types.HeaderPaymentRequired); header != "" {
		required, err := encoding.DecodeRequirements(header)
		if err == nil {
			return &required, nil
		}
	}

	var required types.PaymentRequired
	if err := json.Unmarshal(resp.Body(), &required); err != nil {
		return nil, fmt.Errorf("failed to decode payment requirements: %w", err)
	}
	if len(required.Accepts) == 0 {
		return nil, fmt.Errorf("%w: server offered no requirements", ErrNoPayableRequirement)
	}
	return &required, nil
}

func toResponse(resp *resty.Response, payment *types.PaymentPayload) *Response {
	out := &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
		Payment:    payment,
	}
	if header := resp.Header().Get(types.HeaderPaymentResponse); header != "" {
		if settlement, err := encoding.DecodeSettlement(header); err == nil {
			out.Settlement = &settlement
		}
	}
	return out
}
