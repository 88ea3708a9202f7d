package onchain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"governanceagg/adapters"
	"governanceagg/store"
)

func TestExtractTitle_StripsLeadingHashAndTruncates(t *testing.T) {
	assert.Equal(t, "AIP-1.2 - Foundation and DAO Governance",
		extractTitle("# AIP-1.2 - Foundation and DAO Governance\n\nBody text here."))
}

func TestExtractTitle_SkipsBlankLeadingLines(t *testing.T) {
	assert.Equal(t, "Real Title", extractTitle("\n\n   \nReal Title\nmore body"))
}

func TestExtractTitle_EmptyDescriptionFallsBackToUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", extractTitle("\n\n   \n"))
}

func TestExtractTitle_TruncatesTo120CodePoints(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "a"
	}
	got := extractTitle(long)
	assert.Len(t, []rune(got), 120)
}

func TestMapProposalState_KnownCodes(t *testing.T) {
	assert.Equal(t, store.ProposalPending, mapProposalState(0))
	assert.Equal(t, store.ProposalActive, mapProposalState(1))
	assert.Equal(t, store.ProposalExecuted, mapProposalState(7))
	assert.Equal(t, store.ProposalUnknown, mapProposalState(99))
}

func TestNextCursorFor_NoOpenProposalsAdvancesToWindowEnd(t *testing.T) {
	closed := uint64(120)
	proposals := []adapters.ProposalRecord{
		{State: store.ProposalExecuted, BlockCreatedAt: &closed},
	}
	assert.Equal(t, int64(200), nextCursorFor(proposals, 200))
}

func TestNextCursorFor_RewindsToEarliestOpenProposal(t *testing.T) {
	early := uint64(110)
	late := uint64(150)
	proposals := []adapters.ProposalRecord{
		{State: store.ProposalActive, BlockCreatedAt: &late},
		{State: store.ProposalPending, BlockCreatedAt: &early},
		{State: store.ProposalExecuted, BlockCreatedAt: &late},
	}
	assert.Equal(t, int64(110), nextCursorFor(proposals, 200))
}

func TestNextCursorFor_PartialUpdatesDoNotPinTheWindow(t *testing.T) {
	block := uint64(110)
	proposals := []adapters.ProposalRecord{
		{State: store.ProposalActive, BlockCreatedAt: &block, PartialUpdate: true},
	}
	assert.Equal(t, int64(200), nextCursorFor(proposals, 200))
}

func TestWeiToFloat_DividesBy1e18(t *testing.T) {
	assert.InDelta(t, 1.0, weiToFloat(big.NewInt(1000000000000000000)), 1e-9)
	assert.Equal(t, float64(0), weiToFloat(nil))
}
