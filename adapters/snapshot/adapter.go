package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"governanceagg/adapters"
	"governanceagg/store"
)

const proposalsQuery = `
query Proposals($spaces: [String], $cursor: Int, $limit: Int) {
  proposals(
    where: { space_in: $spaces, mci_gt: $cursor }
    orderBy: "mci"
    orderDirection: asc
    first: $limit
  ) {
    id
    mci
    title
    body
    choices
    start
    end
    snapshot
    state
    author
    quorum
    scores
    scores_total
    created
    link
    discussion
    privacy
  }
}`

const votesQuery = `
query Votes($spaces: [String], $cursor: Int, $limit: Int) {
  votes(
    where: { space_in: $spaces, mci_gt: $cursor }
    orderBy: "mci"
    orderDirection: asc
    first: $limit
  ) {
    id
    mci
    voter
    choice
    vp
    reason
    created
    proposal {
      id
    }
  }
}`

const activeProposalsQuery = `
query ActiveProposals($spaces: [String]) {
  proposals(
    where: { space_in: $spaces, state_in: ["active", "pending"] }
    orderBy: "created"
    orderDirection: asc
    first: 1000
  ) {
    id
    mci
    title
    body
    choices
    start
    end
    snapshot
    state
    author
    quorum
    scores
    scores_total
    created
    link
    discussion
    privacy
  }
}`

const votesForProposalQuery = `
query VotesForProposal($proposal: String) {
  votes(where: { proposal: $proposal }, first: 1000) {
    id
    voter
    choice
    vp
    reason
    created
  }
}`

type proposalMessage struct {
	ID          string    `json:"id"`
	MCI         int64     `json:"mci"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Choices     []string  `json:"choices"`
	Start       int64     `json:"start"`
	End         int64     `json:"end"`
	Snapshot    string    `json:"snapshot"`
	State       string    `json:"state"`
	Author      string    `json:"author"`
	Quorum      float64   `json:"quorum"`
	Scores      []float64 `json:"scores"`
	ScoresTotal float64   `json:"scores_total"`
	Created     int64     `json:"created"`
	Link        string    `json:"link"`
	Discussion  string    `json:"discussion"`
	Privacy     string    `json:"privacy"`
}

type voteMessage struct {
	ID       string          `json:"id"`
	MCI      int64           `json:"mci"`
	Voter    string          `json:"voter"`
	Choice   json.RawMessage `json:"choice"`
	VP       float64         `json:"vp"`
	Reason   string          `json:"reason"`
	Created  int64           `json:"created"`
	Proposal struct {
		ID string `json:"id"`
	} `json:"proposal"`
}

const shutterPrivacy = "shutter"

// Adapter indexes one or more Snapshot spaces belonging to a single DAO,
// sharing a Governor row's cursor as a Message Chain Index (MCI) watermark
// across both proposals and votes.
type Adapter struct {
	Client *Client
	Spaces []string
}

// NewAdapter builds a Snapshot Adapter for the given spaces.
func NewAdapter(client *Client, spaces []string) *Adapter {
	return &Adapter{Client: client, Spaces: spaces}
}

// Describe reports the adapter's static metadata to the scheduler. The
// refresh speeds are in messages per batch, not blocks.
func (a *Adapter) Describe() adapters.Descriptor {
	return adapters.Descriptor{
		VariantTag:      store.VariantSnapshot,
		MinRefreshSpeed: 10,
		MaxRefreshSpeed: 1000,
		Timeout:         adapters.DefaultTimeout,
	}
}

// ProcessProposals implements adapters.ProposalIndexer. Each window merges
// two pulls: the MCI-ordered batch past the cursor, and a full refresh of
// every still-open proposal in the monitored spaces, so active scores and
// state keep updating even when nothing new lands on the message chain.
func (a *Adapter) ProcessProposals(ctx context.Context, governor *store.Governor, dao *store.DAO) (adapters.WindowResult, error) {
	var resp struct {
		Proposals []proposalMessage `json:"proposals"`
	}
	if err := a.Client.Query(ctx, proposalsQuery, map[string]interface{}{
		"spaces": a.Spaces,
		"cursor": governor.Cursor,
		"limit":  governor.Speed,
	}, &resp); err != nil {
		return adapters.WindowResult{}, fmt.Errorf("snapshot: fetch proposals: %w", err)
	}

	var active struct {
		Proposals []proposalMessage `json:"proposals"`
	}
	if err := a.Client.Query(ctx, activeProposalsQuery, map[string]interface{}{
		"spaces": a.Spaces,
	}, &active); err != nil {
		return adapters.WindowResult{}, fmt.Errorf("snapshot: refresh active proposals: %w", err)
	}

	maxMCI := governor.Cursor
	for _, msg := range resp.Proposals {
		if msg.MCI > maxMCI {
			maxMCI = msg.MCI
		}
	}

	merged := mergeProposalMessages(resp.Proposals, active.Proposals)
	records := make([]adapters.ProposalRecord, 0, len(merged))
	for _, msg := range merged {
		records = append(records, proposalRecordFrom(msg))
	}

	return adapters.WindowResult{Proposals: records, SuggestedCursor: maxMCI}, nil
}

// mergeProposalMessages unions the MCI batch with the active refresh,
// keeping the MCI batch's copy on overlap since it is at least as fresh.
func mergeProposalMessages(batch, refresh []proposalMessage) []proposalMessage {
	seen := make(map[string]bool, len(batch))
	merged := make([]proposalMessage, 0, len(batch)+len(refresh))
	for _, msg := range batch {
		seen[msg.ID] = true
		merged = append(merged, msg)
	}
	for _, msg := range refresh {
		if seen[msg.ID] {
			continue
		}
		merged = append(merged, msg)
	}
	return merged
}

func proposalRecordFrom(msg proposalMessage) adapters.ProposalRecord {
	author := msg.Author
	var discussionURL *string
	if msg.Discussion != "" {
		discussionURL = &msg.Discussion
	}

	state := mapSnapshotState(msg.State, msg.Privacy)
	scoresQuorum := 0.0
	for _, s := range msg.Scores {
		scoresQuorum += s
	}

	return adapters.ProposalRecord{
		ExternalID:    msg.ID,
		AuthorAddress: &author,
		Name:          msg.Title,
		Body:          msg.Body,
		URL:           msg.Link,
		DiscussionURL: discussionURL,
		Choices:       msg.Choices,
		Scores:        msg.Scores,
		ScoresTotal:   msg.ScoresTotal,
		Quorum:        msg.Quorum,
		ScoresQuorum:  scoresQuorum,
		State:         state,
		CreatedAt:     time.Unix(msg.Created, 0).UTC(),
		StartAt:       time.Unix(msg.Start, 0).UTC(),
		EndAt:         time.Unix(msg.End, 0).UTC(),
		Metadata: map[string]interface{}{
			"vote_type": "basic",
			"privacy":   msg.Privacy,
			"snapshot":  msg.Snapshot,
		},
	}
}

// ProcessVotes implements adapters.VotesIndexer.
func (a *Adapter) ProcessVotes(ctx context.Context, governor *store.Governor) (adapters.WindowResult, error) {
	var resp struct {
		Votes []voteMessage `json:"votes"`
	}
	if err := a.Client.Query(ctx, votesQuery, map[string]interface{}{
		"spaces": a.Spaces,
		"cursor": governor.Cursor,
		"limit":  governor.Speed,
	}, &resp); err != nil {
		return adapters.WindowResult{}, fmt.Errorf("snapshot: fetch votes: %w", err)
	}

	records := make([]adapters.VoteRecord, 0, len(resp.Votes))
	maxMCI := governor.Cursor
	for _, msg := range resp.Votes {
		if msg.MCI > maxMCI {
			maxMCI = msg.MCI
		}
		choice, err := adapters.DecodeSnapshotChoice(msg.Choice)
		if err != nil {
			continue
		}
		var reason *string
		if msg.Reason != "" {
			reason = &msg.Reason
		}
		records = append(records, adapters.VoteRecord{
			ProposalExternalID: msg.Proposal.ID,
			VoterAddress:       msg.Voter,
			Choice:             choice,
			VotingPower:        msg.VP,
			Reason:             reason,
			CreatedAt:          time.Unix(msg.Created, 0).UTC(),
		})
	}

	return adapters.WindowResult{Votes: records, SuggestedCursor: maxMCI}, nil
}

// ProcessProposalVotes implements adapters.ProposalVotesRefresher: an
// ad-hoc refetch of every vote on one proposal, used by the shutter
// reveal sweep once a privacy-enabled proposal's voting period ends and
// individual choices become decryptable.
func (a *Adapter) ProcessProposalVotes(ctx context.Context, governor *store.Governor, proposal *store.Proposal) ([]adapters.VoteRecord, error) {
	var resp struct {
		Votes []voteMessage `json:"votes"`
	}
	if err := a.Client.Query(ctx, votesForProposalQuery, map[string]interface{}{
		"proposal": proposal.ExternalID,
	}, &resp); err != nil {
		return nil, fmt.Errorf("snapshot: refetch votes for %s: %w", proposal.ExternalID, err)
	}

	records := make([]adapters.VoteRecord, 0, len(resp.Votes))
	for _, msg := range resp.Votes {
		choice, err := adapters.DecodeSnapshotChoice(msg.Choice)
		if err != nil {
			continue
		}
		var reason *string
		if msg.Reason != "" {
			reason = &msg.Reason
		}
		records = append(records, adapters.VoteRecord{
			ProposalExternalID: proposal.ExternalID,
			VoterAddress:       msg.Voter,
			Choice:             choice,
			VotingPower:        msg.VP,
			Reason:             reason,
			CreatedAt:          time.Unix(msg.Created, 0).UTC(),
		})
	}
	return records, nil
}

func mapSnapshotState(state, privacy string) store.ProposalState {
	if privacy == shutterPrivacy && state == "active" {
		return store.ProposalHidden
	}
	switch state {
	case "pending":
		return store.ProposalPending
	case "active":
		return store.ProposalActive
	case "closed":
		return store.ProposalSucceeded
	default:
		return store.ProposalUnknown
	}
}
