package persist

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"governanceagg/store"
)

func voteRow(proposalID uuid.UUID, voter string, createdAt time.Time) store.Vote {
	return store.Vote{
		ID:           uuid.New(),
		ProposalID:   &proposalID,
		VoterAddress: voter,
		CreatedAt:    createdAt,
	}
}

func TestMissingProposalIDs_AllKnownIsEmpty(t *testing.T) {
	known := map[string]uuid.UUID{"1143": uuid.New(), "77": uuid.New()}
	assert.Empty(t, missingProposalIDs([]string{"1143", "77"}, known))
}

func TestMissingProposalIDs_ReportsEveryUnknownID(t *testing.T) {
	known := map[string]uuid.UUID{"1143": uuid.New()}
	missing := missingProposalIDs([]string{"1143", "9999", "77"}, known)
	assert.Equal(t, []string{"9999", "77"}, missing)
}

func TestDedupeNewestVotes_KeepsNewestPerKey(t *testing.T) {
	proposalID := uuid.New()
	older := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	rows := dedupeNewestVotes([]store.Vote{
		voteRow(proposalID, "0x04", older),
		voteRow(proposalID, "0x04", newer),
		voteRow(proposalID, "0x05", older),
	})
	require.Len(t, rows, 2)
	for _, row := range rows {
		if row.VoterAddress == "0x04" {
			assert.Equal(t, newer, row.CreatedAt)
		}
	}
}

func TestDedupeNewestVotes_DeterministicOrder(t *testing.T) {
	proposalID := uuid.New()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first := dedupeNewestVotes([]store.Vote{
		voteRow(proposalID, "0x0b", at),
		voteRow(proposalID, "0x0a", at),
	})
	second := dedupeNewestVotes([]store.Vote{
		voteRow(proposalID, "0x0a", at),
		voteRow(proposalID, "0x0b", at),
	})
	require.Len(t, first, 2)
	assert.Equal(t, first[0].VoterAddress, second[0].VoterAddress)
	assert.Equal(t, first[1].VoterAddress, second[1].VoterAddress)
}

func TestDropStaleVotes_DropsOlderThanStored(t *testing.T) {
	proposalID := uuid.New()
	storedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	stale := voteRow(proposalID, "0x04", storedAt.Add(-time.Hour))
	fresh := voteRow(proposalID, "0x05", storedAt.Add(time.Hour))
	existing := map[string]time.Time{
		voteKey(stale): storedAt,
		voteKey(fresh): storedAt,
	}

	kept := dropStaleVotes([]store.Vote{stale, fresh}, existing)
	require.Len(t, kept, 1)
	assert.Equal(t, "0x05", kept[0].VoterAddress)
}

func TestDropStaleVotes_KeepsUnseenAndEqualTimestamps(t *testing.T) {
	proposalID := uuid.New()
	storedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	equal := voteRow(proposalID, "0x04", storedAt)
	unseen := voteRow(proposalID, "0x06", storedAt.Add(-time.Hour))
	existing := map[string]time.Time{voteKey(equal): storedAt}

	kept := dropStaleVotes([]store.Vote{equal, unseen}, existing)
	assert.Len(t, kept, 2)
}
