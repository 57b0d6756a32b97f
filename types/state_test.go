package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentState_HappyPath(t *testing.T) {
	path := []PaymentState{
		StateRequirementsIssued,
		StatePayloadBuilt,
		StateVerified,
		StateSettling,
		StateSettled,
	}

	state := StateUnpaid
	for _, next := range path {
		var err error
		state, err = state.Advance(next)
		require.NoError(t, err)
	}
	assert.Equal(t, StateSettled, state)
	assert.True(t, state.Terminal())
}

func TestPaymentState_IllegalTransitions(t *testing.T) {
	tests := []struct {
		from PaymentState
		to   PaymentState
	}{
		{StateUnpaid, StateVerified},
		{StateRequirementsIssued, StateSettling},
		{StatePayloadBuilt, StateSettled},
		{StateVerified, StateSettled},
		{StateSettled, StateSettling},
		{StateSettlementFailed, StateSettling},
		{StateSettlementTimeout, StateSettled},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.False(t, tt.from.CanTransition(tt.to))
			state, err := tt.from.Advance(tt.to)
			assert.Error(t, err)
			assert.Equal(t, tt.from, state)
		})
	}
}

func TestPaymentState_SettlingOutcomes(t *testing.T) {
	for _, next := range []PaymentState{StateSettled, StateSettlementFailed, StateSettlementTimeout} {
		assert.True(t, StateSettling.CanTransition(next), next)
		assert.True(t, next.Terminal(), next)
	}
	assert.False(t, StateSettling.Terminal())
}

func TestSettlementResult_State(t *testing.T) {
	assert.Equal(t, StateSettled, (&SettlementResult{Success: true}).State())
	assert.Equal(t, StateSettlementTimeout, (&SettlementResult{ErrorReason: ReasonConfirmationTimeout}).State())
	assert.Equal(t, StateSettlementFailed, (&SettlementResult{ErrorReason: ReasonDuplicateSettlement}).State())
	assert.Equal(t, StateSettlementFailed, (&SettlementResult{ErrorReason: ReasonBroadcastFailure}).State())
}
