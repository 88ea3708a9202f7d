package onchain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimisticScores_ForIsSupplyMinusAgainst(t *testing.T) {
	scores := optimisticScores(1000, 150)
	assert.Equal(t, []float64{150, 850}, scores)
}

func TestOptimisticScores_ForNeverNegative(t *testing.T) {
	scores := optimisticScores(100, 250)
	assert.Equal(t, []float64{250, 0}, scores)
}

func TestDecodeVoteParams_RoundTrip(t *testing.T) {
	packed, err := voteParamsArgs.Pack([]*big.Int{big.NewInt(0), big.NewInt(2), big.NewInt(3)})
	require.NoError(t, err)

	indices, err := decodeVoteParams(packed)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3}, indices)
}

func TestDecodeVoteParams_EmptyBlobIsNoSelection(t *testing.T) {
	indices, err := decodeVoteParams(nil)
	require.NoError(t, err)
	assert.Empty(t, indices)
}

func TestDecodeOptimisticSettings_RoundTrip(t *testing.T) {
	packed, err := optimisticProposalDataArgs.Pack(big.NewInt(500000000000000000), true)
	require.NoError(t, err)

	threshold, relative, err := decodeOptimisticSettings(packed)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, threshold, 1e-9)
	assert.True(t, relative)
}

func TestDecodeApprovalOptions_UsesDescriptionsWithFallback(t *testing.T) {
	options := []ApprovalOption{
		{
			BudgetTokensSpent: big.NewInt(0),
			Targets:           []common.Address{},
			Values:            []*big.Int{},
			Calldatas:         [][]byte{},
			Description:       "Fund team A",
		},
		{
			BudgetTokensSpent: big.NewInt(0),
			Targets:           []common.Address{},
			Values:            []*big.Int{},
			Calldatas:         [][]byte{},
			Description:       "",
		},
	}
	settings := struct {
		MaxApprovals  uint8
		Criteria      uint8
		BudgetToken   common.Address
		CriteriaValue *big.Int
		BudgetAmount  *big.Int
	}{
		MaxApprovals:  1,
		Criteria:      0,
		BudgetToken:   common.Address{},
		CriteriaValue: big.NewInt(0),
		BudgetAmount:  big.NewInt(0),
	}

	packed, err := approvalProposalDataArgs.Pack(options, settings)
	require.NoError(t, err)

	choices, err := decodeApprovalOptions(packed)
	require.NoError(t, err)
	assert.Equal(t, []string{"Fund team A", "Option 2"}, choices)
}
