package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"governanceagg/store"
)

func TestMapSnapshotState_ShutterActiveIsHidden(t *testing.T) {
	assert.Equal(t, store.ProposalHidden, mapSnapshotState("active", "shutter"))
}

func TestMergeProposalMessages_BatchCopyWinsOnOverlap(t *testing.T) {
	batch := []proposalMessage{{ID: "a", Title: "fresh"}, {ID: "b"}}
	refresh := []proposalMessage{{ID: "a", Title: "stale"}, {ID: "c"}}

	merged := mergeProposalMessages(batch, refresh)
	assert.Len(t, merged, 3)
	assert.Equal(t, "fresh", merged[0].Title)
	assert.Equal(t, "c", merged[2].ID)
}

func TestMergeProposalMessages_EmptyBatchKeepsRefresh(t *testing.T) {
	merged := mergeProposalMessages(nil, []proposalMessage{{ID: "x"}})
	assert.Len(t, merged, 1)
}

func TestMapSnapshotState_PlainStates(t *testing.T) {
	assert.Equal(t, store.ProposalPending, mapSnapshotState("pending", ""))
	assert.Equal(t, store.ProposalActive, mapSnapshotState("active", ""))
	assert.Equal(t, store.ProposalSucceeded, mapSnapshotState("closed", ""))
	assert.Equal(t, store.ProposalUnknown, mapSnapshotState("bogus", ""))
}
