package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetwork_Normalize(t *testing.T) {
	assert.Equal(t, NetworkAlgorandTestnet, Network("algorand:testnet").Normalize())
	assert.Equal(t, NetworkAlgorandTestnet, Network("algorand-testnet").Normalize())
	assert.Equal(t, NetworkAlgorandMainnet, Network("Algorand:Mainnet").Normalize())
	assert.Equal(t, NetworkAlgorandMainnet, NetworkAlgorandMainnet.Normalize())
	assert.Equal(t, Network("eip155:8453"), Network("eip155:8453").Normalize())
}

func TestNetwork_GenesisHash(t *testing.T) {
	hash, err := NetworkAlgorandTestnet.GenesisHash()
	require.NoError(t, err)
	assert.Equal(t, byte(0x48), hash[0])

	_, err = Network("algorand:not-a-hash").GenesisHash()
	assert.Error(t, err)

	_, err = Network("eip155:8453").GenesisHash()
	assert.Error(t, err)
}

func TestSameNetwork(t *testing.T) {
	assert.True(t, SameNetwork("algorand:testnet", NetworkAlgorandTestnet.String()))
	assert.False(t, SameNetwork("algorand:testnet", "algorand:mainnet"))
}

func TestDefaultStablecoin(t *testing.T) {
	id, err := DefaultStablecoin("algorand-testnet")
	require.NoError(t, err)
	assert.Equal(t, USDCTestnetAssetID, id)

	id, err = DefaultStablecoin(NetworkAlgorandMainnet)
	require.NoError(t, err)
	assert.Equal(t, USDCMainnetAssetID, id)

	_, err = DefaultStablecoin("algorand:betanet")
	assert.Error(t, err)
}

func TestPaymentRequirements_AssetID(t *testing.T) {
	req := PaymentRequirements{Asset: ""}
	id, err := req.AssetID()
	require.NoError(t, err)
	assert.Zero(t, id)

	req.Asset = "10458941"
	id, err = req.AssetID()
	require.NoError(t, err)
	assert.Equal(t, USDCTestnetAssetID, id)

	req.Asset = "usdc"
	_, err = req.AssetID()
	assert.Error(t, err)
}
