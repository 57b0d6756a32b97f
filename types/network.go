package types

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Network is a CAIP-2 chain identifier.
type Network string

// Algorand networks, keyed by genesis hash.
const (
	NetworkAlgorandMainnet Network = "algorand:wGHE2Pwdvd7S12BL5FaOP20EGYesN73ktiC1qzkkit8="
	NetworkAlgorandTestnet Network = "algorand:SGO1GKSzyE7IEPItTxCByw9x8FmnrCDexi9/cOUJOiI="
)

const algorandNamespace = "algorand"

var networkAliases = map[string]Network{
	"algorand:mainnet": NetworkAlgorandMainnet,
	"algorand:testnet": NetworkAlgorandTestnet,
	"algorand-mainnet": NetworkAlgorandMainnet,
	"algorand-testnet": NetworkAlgorandTestnet,
}

// Normalize maps the friendly aliases onto their CAIP-2 genesis hash form.
func (n Network) Normalize() Network {
	if alias, ok := networkAliases[strings.ToLower(string(n))]; ok {
		return alias
	}
	return n
}

// IsAlgorand reports whether the identifier lives in the algorand CAIP-2 namespace.
func (n Network) IsAlgorand() bool {
	return strings.HasPrefix(string(n.Normalize()), algorandNamespace+":")
}

func (n Network) IsTestnet() bool {
	return n.Normalize() == NetworkAlgorandTestnet
}

// Reference returns the CAIP-2 reference part, the base64 genesis hash for Algorand.
func (n Network) Reference() string {
	_, ref, _ := strings.Cut(string(n.Normalize()), ":")
	return ref
}

// GenesisHash decodes the CAIP-2 reference of an Algorand network.
func (n Network) GenesisHash() ([32]byte, error) {
	var hash [32]byte
	if !n.IsAlgorand() {
		return hash, fmt.Errorf("network %s is not an algorand network", n)
	}
	raw, err := base64.StdEncoding.DecodeString(n.Reference())
	if err != nil || len(raw) != len(hash) {
		return hash, fmt.Errorf("network %s does not carry a genesis hash", n)
	}
	copy(hash[:], raw)
	return hash, nil
}

func (n Network) String() string {
	return string(n)
}

// SameNetwork compares two identifiers after alias normalization.
func SameNetwork(a, b string) bool {
	return Network(a).Normalize() == Network(b).Normalize()
}

// USDC ASA ids per network.
const (
	USDCMainnetAssetID uint64 = 31566704
	USDCTestnetAssetID uint64 = 10458941
	USDCDecimals              = 6
	AlgoDecimals              = 6
)

// DefaultStablecoin returns the USDC asset id for a network.
func DefaultStablecoin(n Network) (uint64, error) {
	switch n.Normalize() {
	case NetworkAlgorandMainnet:
		return USDCMainnetAssetID, nil
	case NetworkAlgorandTestnet:
		return USDCTestnetAssetID, nil
	default:
		return 0, fmt.Errorf("no default stablecoin for network %s", n)
	}
}
