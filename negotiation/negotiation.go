// Package negotiation builds the payment requirements a resource server offers
// for a route and writes the 402 Payment Required response.
package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/A-Maugli/x402-avm-avm-exmaples/encoding"
	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
	"github.com/A-Maugli/x402-avm-avm-exmaples/utils"
)

var (
	// ErrMalformedRequirement is returned when a route option cannot be turned into a requirement.
	ErrMalformedRequirement = errors.New("malformed payment requirement")
	// ErrNoMatchingRequirement is returned when a payload does not reference any offered requirement.
	ErrNoMatchingRequirement = errors.New("no matching payment requirement")
)

const defaultMaxTimeoutSeconds = 60

// PriceParser converts a human price into an atomic amount for one scheme.
type PriceParser interface {
	Scheme() string
	ParsePrice(price any, network types.Network) (types.AssetAmount, error)
}

// PaymentOption is one way a route may be paid for.
type PaymentOption struct {
	Scheme            string
	Price             any
	Network           types.Network
	PayTo             string
	MaxTimeoutSeconds int
	Extra             types.ExtraData
}

// RouteConfig lists the accepted payment options of a protected route.
type RouteConfig struct {
	Accepts     []PaymentOption
	Resource    string
	Description string
	MimeType    string
}

// Negotiator turns route configuration into payment requirements.
type Negotiator struct {
	mu      sync.RWMutex
	parsers map[string]PriceParser
	kinds   []types.SupportedKind
}

func NewNegotiator(parsers ...PriceParser) *Negotiator {
	n := &Negotiator{parsers: make(map[string]PriceParser)}
	for _, p := range parsers {
		n.Register(p)
	}
	return n
}

// Register adds or replaces the price parser for its scheme.
func (n *Negotiator) Register(p PriceParser) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parsers[p.Scheme()] = p
}

// SetSupported stores the facilitator kinds whose extras are merged into requirements.
func (n *Negotiator) SetSupported(supported *types.SupportedResponse) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if supported == nil {
		n.kinds = nil
		return
	}
	n.kinds = append([]types.SupportedKind(nil), supported.Kinds...)
}

// Requirements builds one requirement per option of route. It fails as a whole
// when any option cannot be priced.
func (n *Negotiator) Requirements(r *http.Request, route RouteConfig) ([]types.PaymentRequirements, error) {
	if len(route.Accepts) == 0 {
		return nil, fmt.Errorf("%w: route has no payment options", ErrMalformedRequirement)
	}

	resource := route.Resource
	if resource == "" && r != nil {
		resource = ResourceURL(r)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	reqs := make([]types.PaymentRequirements, 0, len(route.Accepts))
	for i, opt := range route.Accepts {
		parser, ok := n.parsers[opt.Scheme]
		if !ok {
			return nil, fmt.Errorf("%w: option %d: no price parser for scheme %q", ErrMalformedRequirement, i, opt.Scheme)
		}

		network := opt.Network.Normalize()
		price, err := parser.ParsePrice(opt.Price, network)
		if err != nil {
			return nil, fmt.Errorf("%w: option %d: %v", ErrMalformedRequirement, i, err)
		}

		timeout := opt.MaxTimeoutSeconds
		if timeout == 0 {
			timeout = defaultMaxTimeoutSeconds
		}

		req := types.PaymentRequirements{
			Scheme:            opt.Scheme,
			Network:           network.String(),
			Amount:            price.Amount,
			Asset:             price.Asset,
			PayTo:             opt.PayTo,
			MaxTimeoutSeconds: timeout,
			Extra:             n.mergeExtra(opt, network, price.Extra),
			Resource:          resource,
			Description:       route.Description,
			MimeType:          route.MimeType,
		}

		if err := utils.ValidateRequirements(&req); err != nil {
			return nil, fmt.Errorf("%w: option %d: %v", ErrMalformedRequirement, i, err)
		}
		reqs = append(reqs, req)
	}

	return reqs, nil
}

// mergeExtra layers price extras, then facilitator kind extras, then the option's own extras.
func (n *Negotiator) mergeExtra(opt PaymentOption, network types.Network, priceExtra types.ExtraData) types.ExtraData {
	extra := types.ExtraData{}
	for k, v := range priceExtra {
		extra[k] = v
	}
	for _, kind := range n.kinds {
		if kind.Scheme != opt.Scheme || !types.SameNetwork(kind.Network, network.String()) {
			continue
		}
		for k, v := range kind.Extra {
			extra[k] = v
		}
	}
	for k, v := range opt.Extra {
		extra[k] = v
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

// FindMatchingRequirement returns the offered requirement the payload accepted.
func FindMatchingRequirement(payload *types.PaymentPayload, reqs []types.PaymentRequirements) (*types.PaymentRequirements, error) {
	accepted := payload.Accepted
	for i := range reqs {
		req := &reqs[i]
		if req.Scheme == accepted.Scheme &&
			types.SameNetwork(req.Network, accepted.Network) &&
			req.PayTo == accepted.PayTo &&
			req.Amount == accepted.Amount &&
			assetID(req.Asset) == assetID(accepted.Asset) {
			return req, nil
		}
	}
	return nil, fmt.Errorf("%w: scheme %s network %s", ErrNoMatchingRequirement, accepted.Scheme, accepted.Network)
}

func assetID(asset string) string {
	if asset == "" {
		return "0"
	}
	return asset
}

// ResourceURL reconstructs the absolute URL of the request.
func ResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// WritePaymentRequired writes a 402 with the requirements both as the JSON body
// and as the base64 PAYMENT-REQUIRED header.
func WritePaymentRequired(w http.ResponseWriter, resource types.ResourceInfo, reqs []types.PaymentRequirements, errMsg string) error {
	body := types.PaymentRequired{
		X402Version: int(types.X402Version2),
		Error:       errMsg,
		Resource:    &resource,
		Accepts:     reqs,
	}
	if body.Accepts == nil {
		body.Accepts = []types.PaymentRequirements{}
	}

	header, err := encoding.EncodeRequirements(body)
	if err != nil {
		return err
	}

	w.Header().Set(types.HeaderPaymentRequired, header)
	w.Header().Set("Access-Control-Expose-Headers", types.HeaderPaymentRequired+", "+types.HeaderPaymentResponse)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return fmt.Errorf("encoding PaymentRequired response: %w", err)
	}
	return nil
}
