package exact

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
	"github.com/A-Maugli/x402-avm-avm-exmaples/utils"
)

var (
	dollarPrice = regexp.MustCompile(`^\$\s*([0-9]+(\.[0-9]+)?)$`)
	unitPrice   = regexp.MustCompile(`^([0-9]+(\.[0-9]+)?)\s*([A-Za-z]+)$`)
	atomicPrice = regexp.MustCompile(`^[0-9]+$`)
)

// ServerScheme turns route prices into atomic asset amounts for the resource server.
type ServerScheme struct{}

func NewServerScheme() *ServerScheme { return &ServerScheme{} }

func (s *ServerScheme) Scheme() string { return Scheme }

// ParsePrice accepts "$0.001", "0.001 USDC", "0.5 ALGO", an atomic USDC integer
// string or int, a float dollar amount, or a types.AssetAmount passed through.
func (s *ServerScheme) ParsePrice(price any, network types.Network) (types.AssetAmount, error) {
	network = network.Normalize()

	switch p := price.(type) {
	case types.AssetAmount:
		return s.passThrough(p)
	case *types.AssetAmount:
		if p == nil {
			return types.AssetAmount{}, fmt.Errorf("%w: nil price", ErrMalformedRequirement)
		}
		return s.passThrough(*p)
	case int:
		if p < 0 {
			return types.AssetAmount{}, fmt.Errorf("%w: negative price %d", ErrMalformedRequirement, p)
		}
		return usdcAtomic(strconv.Itoa(p), network)
	case uint64:
		return usdcAtomic(strconv.FormatUint(p, 10), network)
	case float64:
		return usdc(decimal.NewFromFloat(p), network)
	case string:
		return s.parseString(strings.TrimSpace(p), network)
	default:
		return types.AssetAmount{}, fmt.Errorf("%w: unsupported price type %T", ErrMalformedRequirement, price)
	}
}

func (s *ServerScheme) parseString(price string, network types.Network) (types.AssetAmount, error) {
	if m := dollarPrice.FindStringSubmatch(price); m != nil {
		d, err := decimal.NewFromString(m[1])
		if err != nil {
			return types.AssetAmount{}, fmt.Errorf("%w: %v", ErrMalformedRequirement, err)
		}
		return usdc(d, network)
	}

	if atomicPrice.MatchString(price) {
		return usdcAtomic(price, network)
	}

	if m := unitPrice.FindStringSubmatch(price); m != nil {
		d, err := decimal.NewFromString(m[1])
		if err != nil {
			return types.AssetAmount{}, fmt.Errorf("%w: %v", ErrMalformedRequirement, err)
		}
		switch strings.ToUpper(m[3]) {
		case "USDC", "USD":
			return usdc(d, network)
		case "ALGO", "ALGOS":
			return toAtomic(d, "0", "ALGO", types.AlgoDecimals)
		default:
			return types.AssetAmount{}, fmt.Errorf("%w: unknown currency %q", ErrMalformedRequirement, m[3])
		}
	}

	return types.AssetAmount{}, fmt.Errorf("%w: cannot parse price %q", ErrMalformedRequirement, price)
}

func (s *ServerScheme) passThrough(p types.AssetAmount) (types.AssetAmount, error) {
	if _, err := utils.ValidateAtomicAmount(p.Amount); err != nil {
		return types.AssetAmount{}, fmt.Errorf("%w: %v", ErrMalformedRequirement, err)
	}
	if p.Asset != "" {
		if _, err := strconv.ParseUint(p.Asset, 10, 64); err != nil {
			return types.AssetAmount{}, fmt.Errorf("%w: invalid asset id %q", ErrMalformedRequirement, p.Asset)
		}
	}
	return p, nil
}

func usdc(d decimal.Decimal, network types.Network) (types.AssetAmount, error) {
	asset, err := types.DefaultStablecoin(network)
	if err != nil {
		return types.AssetAmount{}, fmt.Errorf("%w: %v", ErrMalformedRequirement, err)
	}
	return toAtomic(d, strconv.FormatUint(asset, 10), "USDC", types.USDCDecimals)
}

func usdcAtomic(amount string, network types.Network) (types.AssetAmount, error) {
	asset, err := types.DefaultStablecoin(network)
	if err != nil {
		return types.AssetAmount{}, fmt.Errorf("%w: %v", ErrMalformedRequirement, err)
	}
	if _, err := utils.ValidateAtomicAmount(amount); err != nil {
		return types.AssetAmount{}, fmt.Errorf("%w: %v", ErrMalformedRequirement, err)
	}
	return types.AssetAmount{
		Amount: amount,
		Asset:  strconv.FormatUint(asset, 10),
		Extra:  types.ExtraData{types.ExtraName: "USDC", types.ExtraDecimals: types.USDCDecimals},
	}, nil
}

func toAtomic(d decimal.Decimal, asset, name string, decimals int) (types.AssetAmount, error) {
	atomic, err := utils.ParseAmountWithDecimals(d.String(), decimals)
	if err != nil {
		return types.AssetAmount{}, fmt.Errorf("%w: %v", ErrMalformedRequirement, err)
	}
	if atomic.Sign() <= 0 {
		return types.AssetAmount{}, fmt.Errorf("%w: price must be positive", ErrMalformedRequirement)
	}
	return types.AssetAmount{
		Amount: atomic.String(),
		Asset:  asset,
		Extra:  types.ExtraData{types.ExtraName: name, types.ExtraDecimals: decimals},
	}, nil
}
