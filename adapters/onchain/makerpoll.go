package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"governanceagg/adapters"
	"governanceagg/chainrpc"
	"governanceagg/store"
)

// makerPollABIJSON covers Maker's polling emitter contracts: polls are
// announced on Mainnet with their metadata URL, and ballots arrive as Voted
// events on either the Mainnet or the Arbitrum emitter. The Arbitrum
// emitter never announces polls of its own, which is why its votes bind
// against Mainnet-indexed proposals through the variant routing table.
const makerPollABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "creator", "type": "address"},
      {"indexed": false, "name": "blockCreated", "type": "uint256"},
      {"indexed": true, "name": "pollId", "type": "uint256"},
      {"indexed": false, "name": "startDate", "type": "uint256"},
      {"indexed": false, "name": "endDate", "type": "uint256"},
      {"indexed": false, "name": "multiHash", "type": "string"},
      {"indexed": false, "name": "url", "type": "string"}
    ],
    "name": "PollCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "creator", "type": "address"},
      {"indexed": false, "name": "blockCreated", "type": "uint256"},
      {"indexed": false, "name": "pollId", "type": "uint256"}
    ],
    "name": "PollWithdrawn",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "voter", "type": "address"},
      {"indexed": true, "name": "pollId", "type": "uint256"},
      {"indexed": true, "name": "optionId", "type": "uint256"}
    ],
    "name": "Voted",
    "type": "event"
  }
]`

var makerPollABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(makerPollABIJSON))
	if err != nil {
		panic("onchain: invalid maker poll ABI: " + err.Error())
	}
	makerPollABI = parsed
}

var pollCreatedTopic = makerPollABI.Events["PollCreated"].ID
var pollWithdrawnTopic = makerPollABI.Events["PollWithdrawn"].ID
var pollVotedTopic = makerPollABI.Events["Voted"].ID

// MakerPollAdapter indexes a Maker polling emitter. The Mainnet variant
// announces polls and collects votes; the Arbitrum variant is a vote-only
// mirror whose ballots reference Mainnet poll ids.
type MakerPollAdapter struct {
	Descriptor adapters.Descriptor
	Address    common.Address
	Chain      *chainrpc.Chain
	PortalURL  func(externalID string) string
}

// NewMakerPollAdapter builds the adapter for either emitter variant.
func NewMakerPollAdapter(variant store.GovernorVariant, chain *chainrpc.Chain, address common.Address, portalURL func(string) string) *MakerPollAdapter {
	return &MakerPollAdapter{
		Descriptor: adapters.Descriptor{
			VariantTag:             variant,
			MinRefreshSpeed:        1,
			MaxRefreshSpeed:        10_000_000,
			Timeout:                adapters.DefaultTimeout,
			ProposalIndexerVariant: adapters.ProposalIndexerVariantFor(variant),
		},
		Address:   address,
		Chain:     chain,
		PortalURL: portalURL,
	}
}

// Describe reports the adapter's static metadata to the scheduler.
func (a *MakerPollAdapter) Describe() adapters.Descriptor {
	return a.Descriptor
}

func (a *MakerPollAdapter) window(ctx context.Context, governor *store.Governor) (from, to uint64, err error) {
	current, err := a.Chain.LatestBlock(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("makerpoll: latest block: %w", err)
	}
	from = uint64(governor.Cursor)
	to = from + governor.Speed
	if to > current {
		to = current
	}
	return from, to, nil
}

// ProcessProposals implements adapters.ProposalIndexer. The Arbitrum mirror
// announces no polls, so its windows advance empty.
func (a *MakerPollAdapter) ProcessProposals(ctx context.Context, governor *store.Governor, dao *store.DAO) (adapters.WindowResult, error) {
	from, to, err := a.window(ctx, governor)
	if err != nil {
		return adapters.WindowResult{}, err
	}
	if a.Descriptor.VariantTag != store.VariantMakerPollMain {
		return adapters.WindowResult{SuggestedCursor: int64(to)}, nil
	}

	logs, err := a.Chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{a.Address},
		Topics:    [][]common.Hash{{pollCreatedTopic, pollWithdrawnTopic}},
	})
	if err != nil {
		return adapters.WindowResult{}, fmt.Errorf("makerpoll: filter poll logs: %w", err)
	}

	var proposals []adapters.ProposalRecord
	for _, log := range logs {
		switch log.Topics[0] {
		case pollCreatedTopic:
			record, err := a.decodePollCreated(log)
			if err != nil {
				return adapters.WindowResult{}, fmt.Errorf("makerpoll: decode PollCreated: %w", err)
			}
			proposals = append(proposals, record)
		case pollWithdrawnTopic:
			record, err := decodePollWithdrawn(log)
			if err != nil {
				return adapters.WindowResult{}, fmt.Errorf("makerpoll: decode PollWithdrawn: %w", err)
			}
			proposals = append(proposals, record)
		}
	}

	return adapters.WindowResult{Proposals: proposals, SuggestedCursor: nextCursorFor(proposals, to)}, nil
}

// ProcessVotes implements adapters.VotesIndexer.
func (a *MakerPollAdapter) ProcessVotes(ctx context.Context, governor *store.Governor) (adapters.WindowResult, error) {
	from, to, err := a.window(ctx, governor)
	if err != nil {
		return adapters.WindowResult{}, err
	}

	logs, err := a.Chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{a.Address},
		Topics:    [][]common.Hash{{pollVotedTopic}},
	})
	if err != nil {
		return adapters.WindowResult{}, fmt.Errorf("makerpoll: filter vote logs: %w", err)
	}

	votes := make([]adapters.VoteRecord, 0, len(logs))
	for _, log := range logs {
		record, err := a.decodeVoted(ctx, log)
		if err != nil {
			return adapters.WindowResult{}, fmt.Errorf("makerpoll: decode Voted: %w", err)
		}
		votes = append(votes, record)
	}

	return adapters.WindowResult{Votes: votes, SuggestedCursor: int64(to)}, nil
}

func (a *MakerPollAdapter) decodePollCreated(log gethtypes.Log) (adapters.ProposalRecord, error) {
	if len(log.Topics) < 3 {
		return adapters.ProposalRecord{}, fmt.Errorf("PollCreated log missing indexed topics")
	}
	creator := common.BytesToAddress(log.Topics[1].Bytes())
	pollID := new(big.Int).SetBytes(log.Topics[2].Bytes())

	event := struct {
		BlockCreated *big.Int
		StartDate    *big.Int
		EndDate      *big.Int
		MultiHash    string
		Url          string
	}{}
	if err := makerPollABI.UnpackIntoInterface(&event, "PollCreated", log.Data); err != nil {
		return adapters.ProposalRecord{}, err
	}

	startAt := time.Unix(event.StartDate.Int64(), 0).UTC()
	endAt := time.Unix(event.EndDate.Int64(), 0).UTC()
	now := time.Now().UTC()
	state := store.ProposalExecuted
	switch {
	case now.Before(startAt):
		state = store.ProposalPending
	case now.Before(endAt):
		state = store.ProposalActive
	}

	author := creator.Hex()
	blockNumber := log.BlockNumber
	txID := log.TxHash.Hex()
	externalID := pollID.String()

	var portalURL string
	if a.PortalURL != nil {
		portalURL = a.PortalURL(externalID)
	}

	// Poll titles and ballot options live in the off-chain metadata document
	// the url field points at; the on-chain record carries only the id and
	// schedule. The record carries no Choices, and no "Option N" names are
	// filled in for it.
	return adapters.ProposalRecord{
		ExternalID:     externalID,
		AuthorAddress:  &author,
		Name:           fmt.Sprintf("Poll %s", externalID),
		URL:            portalURL,
		DiscussionURL:  nonEmpty(event.Url),
		State:          state,
		CreatedAt:      startAt,
		StartAt:        startAt,
		EndAt:          endAt,
		BlockCreatedAt: &blockNumber,
		TxID:           &txID,
		Metadata: map[string]interface{}{
			"vote_type":  "single-choice",
			"multi_hash": event.MultiHash,
		},
	}, nil
}

func decodePollWithdrawn(log gethtypes.Log) (adapters.ProposalRecord, error) {
	event := struct {
		BlockCreated *big.Int
		PollId       *big.Int
	}{}
	if err := makerPollABI.UnpackIntoInterface(&event, "PollWithdrawn", log.Data); err != nil {
		return adapters.ProposalRecord{}, err
	}
	return adapters.ProposalRecord{
		ExternalID:    event.PollId.String(),
		State:         store.ProposalCanceled,
		PartialUpdate: true,
	}, nil
}

func (a *MakerPollAdapter) decodeVoted(ctx context.Context, log gethtypes.Log) (adapters.VoteRecord, error) {
	if len(log.Topics) < 4 {
		return adapters.VoteRecord{}, fmt.Errorf("Voted log missing indexed topics")
	}
	voter := common.BytesToAddress(log.Topics[1].Bytes())
	pollID := new(big.Int).SetBytes(log.Topics[2].Bytes())
	optionID := new(big.Int).SetBytes(log.Topics[3].Bytes())

	blockHeader, err := a.Chain.BlockByNumber(ctx, log.BlockNumber)
	if err != nil {
		return adapters.VoteRecord{}, fmt.Errorf("fetch vote block header: %w", err)
	}

	blockNumber := log.BlockNumber
	txID := log.TxHash.Hex()

	// Poll voting power is snapshotted off-chain by Maker's tally service;
	// the event itself carries only the ballot. VotingPower is left at zero,
	// and no code path in this repository sets it later.
	return adapters.VoteRecord{
		ProposalExternalID: pollID.String(),
		VoterAddress:       voter.Hex(),
		Choice:             adapters.ChoiceValue{Kind: adapters.ChoiceKindIndex, Index: int(optionID.Int64())},
		CreatedAt:          time.Unix(int64(blockHeader.Time), 0).UTC(),
		BlockCreatedAt:     &blockNumber,
		TxID:               &txID,
	}, nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
