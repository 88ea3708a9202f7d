package adapters

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"governanceagg/store"
)

func TestDecodeOnChainChoice_RemapsSupportCode(t *testing.T) {
	against, err := DecodeOnChainChoice(0)
	require.NoError(t, err)
	assert.Equal(t, 1, against.Index)

	for_, err := DecodeOnChainChoice(1)
	require.NoError(t, err)
	assert.Equal(t, 0, for_.Index)

	abstain, err := DecodeOnChainChoice(2)
	require.NoError(t, err)
	assert.Equal(t, 2, abstain.Index)

	_, err = DecodeOnChainChoice(3)
	assert.Error(t, err)
}

func TestDecodeSnapshotChoice_OneBasedSingle(t *testing.T) {
	choice, err := DecodeSnapshotChoice(json.RawMessage("2"))
	require.NoError(t, err)
	assert.Equal(t, ChoiceKindOneBased, choice.Kind)
	assert.Equal(t, 1, choice.Index)
}

func TestDecodeSnapshotChoice_ListOfOneBased(t *testing.T) {
	choice, err := DecodeSnapshotChoice(json.RawMessage("[1,3,4]"))
	require.NoError(t, err)
	assert.Equal(t, ChoiceKindList, choice.Kind)
	assert.Equal(t, []int{0, 2, 3}, choice.Indices)
}

func TestDecodeSnapshotChoice_WeightedObjectRemapsKeys(t *testing.T) {
	choice, err := DecodeSnapshotChoice(json.RawMessage(`{"1":0.6,"2":0.4}`))
	require.NoError(t, err)
	assert.Equal(t, ChoiceKindWeighted, choice.Kind)
	assert.Equal(t, 0.6, choice.Weights[0])
	assert.Equal(t, 0.4, choice.Weights[1])
}

func TestDecodeSnapshotChoice_ShutterHexIsHidden(t *testing.T) {
	choice, err := DecodeSnapshotChoice(json.RawMessage(`"0xabc123"`))
	require.NoError(t, err)
	assert.True(t, choice.IsHidden())
	assert.Equal(t, "0xabc123", choice.HexValue)
}

func TestDecodeSnapshotChoice_RejectsZeroBasedInput(t *testing.T) {
	_, err := DecodeSnapshotChoice(json.RawMessage("0"))
	assert.Error(t, err)
}

func TestChoiceValue_MarshalJSON_EncodesEachKind(t *testing.T) {
	cases := []ChoiceValue{
		{Kind: ChoiceKindIndex, Index: 1},
		{Kind: ChoiceKindList, Indices: []int{0, 2}},
		{Kind: ChoiceKindWeighted, Weights: map[int]float64{0: 1.5}},
		{Kind: ChoiceKindHidden, HexValue: "0xdead"},
	}
	for _, c := range cases {
		raw, err := json.Marshal(c)
		require.NoError(t, err)
		assert.NotEmpty(t, raw)
	}
}

func TestProposalIndexerVariantFor_CrossChainRouting(t *testing.T) {
	assert.Equal(t, store.VariantMakerPollMain, ProposalIndexerVariantFor(store.VariantMakerPollArb))
}

func TestProposalIndexerVariantFor_DefaultsToOwnVariant(t *testing.T) {
	assert.Equal(t, store.VariantArbitrumCore, ProposalIndexerVariantFor(store.VariantArbitrumCore))
}
