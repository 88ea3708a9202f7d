// Package onchain implements the on-chain governor adapter: a
// ProposalCreated/VoteCast log decoder generalized from
// original_source/apps/detective/indexers/arbitrum_core_proposals.rs to
// cover the OpenZeppelin-Governor-family contracts (Arbitrum Core,
// Compound Bravo) and Optimism's approval/optimistic voting modules.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"governanceagg/adapters"
	"governanceagg/chainrpc"
	"governanceagg/store"
)

// weiDivisor converts on-chain integer vote weight (18-decimal fixed point)
// to a float, matching the Vote.voting_power storage convention.
var weiDivisor = new(big.Float).SetFloat64(1e18)

// DelegatedPowerCalculator optionally supplies the total delegated voting
// power as of a point in time, for the metadata.total_delegated_vp field
// original_source computes with a raw SQL window query. Adapters run
// without one simply omit the field.
type DelegatedPowerCalculator interface {
	TotalDelegatedVotingPower(ctx context.Context, asOf time.Time) (float64, error)
}

// GovernorAdapter decodes ProposalCreated/VoteCast-family events for a
// single Governor-Bravo-compatible contract on one chain.
type GovernorAdapter struct {
	Descriptor adapters.Descriptor
	Contract   *Contract
	Chain      *chainrpc.Chain
	PortalURL  func(externalID string) string
	VPCalc     DelegatedPowerCalculator
}

// NewGovernorAdapter builds an adapter for the named variant.
func NewGovernorAdapter(variant store.GovernorVariant, chain *chainrpc.Chain, contract *Contract, portalURL func(string) string) *GovernorAdapter {
	return &GovernorAdapter{
		Descriptor: adapters.Descriptor{
			VariantTag:      variant,
			MinRefreshSpeed: 1,
			MaxRefreshSpeed: 10_000_000,
			Timeout:         adapters.DefaultTimeout,
		},
		Contract:  contract,
		Chain:     chain,
		PortalURL: portalURL,
	}
}

// Describe reports the adapter's static metadata to the scheduler.
func (a *GovernorAdapter) Describe() adapters.Descriptor {
	return a.Descriptor
}

var proposalCreatedTopic = governorABI.Events["ProposalCreated"].ID
var voteCastTopic = governorABI.Events["VoteCast"].ID
var proposalExecutedTopic = governorABI.Events["ProposalExecuted"].ID
var proposalQueuedTopic = governorABI.Events["ProposalQueued"].ID
var proposalCanceledTopic = governorABI.Events["ProposalCanceled"].ID
var proposalExtendedTopic = governorABI.Events["ProposalExtended"].ID

// ProcessProposals implements adapters.ProposalIndexer.
func (a *GovernorAdapter) ProcessProposals(ctx context.Context, governor *store.Governor, dao *store.DAO) (adapters.WindowResult, error) {
	current, err := a.Chain.LatestBlock(ctx)
	if err != nil {
		return adapters.WindowResult{}, fmt.Errorf("onchain: latest block: %w", err)
	}

	from := uint64(governor.Cursor)
	to := from + governor.Speed
	if to > current {
		to = current
	}

	logs, err := a.Chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{a.Contract.Address},
		Topics:    [][]common.Hash{{proposalCreatedTopic, proposalExecutedTopic, proposalQueuedTopic, proposalCanceledTopic, proposalExtendedTopic}},
	})
	if err != nil {
		return adapters.WindowResult{}, fmt.Errorf("onchain: filter logs: %w", err)
	}

	var proposals []adapters.ProposalRecord
	for _, log := range logs {
		if len(log.Topics) == 0 {
			continue
		}
		switch log.Topics[0] {
		case proposalCreatedTopic:
			record, err := a.decodeProposalCreated(ctx, log)
			if err != nil {
				return adapters.WindowResult{}, fmt.Errorf("onchain: decode ProposalCreated: %w", err)
			}
			proposals = append(proposals, record)
		case proposalExecutedTopic, proposalQueuedTopic, proposalCanceledTopic, proposalExtendedTopic:
			record, err := a.decodeStateTransition(ctx, log)
			if err != nil {
				return adapters.WindowResult{}, fmt.Errorf("onchain: decode state transition: %w", err)
			}
			proposals = append(proposals, record)
		}
	}

	return adapters.WindowResult{Proposals: proposals, SuggestedCursor: nextCursorFor(proposals, to)}, nil
}

// nextCursorFor applies the pending-window rule: if the window surfaced any
// still-open proposal, the next cursor is the lowest creation block among
// them so they are re-examined until they close; otherwise the window's
// upper bound.
func nextCursorFor(proposals []adapters.ProposalRecord, to uint64) int64 {
	nextCursor := int64(to)
	var minActivePending int64 = -1
	for _, p := range proposals {
		if p.PartialUpdate {
			continue
		}
		if p.State != store.ProposalActive && p.State != store.ProposalPending {
			continue
		}
		if p.BlockCreatedAt == nil {
			continue
		}
		v := int64(*p.BlockCreatedAt)
		if minActivePending == -1 || v < minActivePending {
			minActivePending = v
		}
	}
	if minActivePending != -1 {
		return minActivePending
	}
	return nextCursor
}

// ProcessVotes implements adapters.VotesIndexer.
func (a *GovernorAdapter) ProcessVotes(ctx context.Context, governor *store.Governor) (adapters.WindowResult, error) {
	current, err := a.Chain.LatestBlock(ctx)
	if err != nil {
		return adapters.WindowResult{}, fmt.Errorf("onchain: latest block: %w", err)
	}
	from := uint64(governor.Cursor)
	to := from + governor.Speed
	if to > current {
		to = current
	}

	logs, err := a.Chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{a.Contract.Address},
		Topics:    [][]common.Hash{{voteCastTopic}},
	})
	if err != nil {
		return adapters.WindowResult{}, fmt.Errorf("onchain: filter vote logs: %w", err)
	}

	votes := make([]adapters.VoteRecord, 0, len(logs))
	for _, log := range logs {
		record, err := a.decodeVoteCast(ctx, log)
		if err != nil {
			return adapters.WindowResult{}, fmt.Errorf("onchain: decode VoteCast: %w", err)
		}
		votes = append(votes, record)
	}

	return adapters.WindowResult{Votes: votes, SuggestedCursor: int64(to)}, nil
}

func (a *GovernorAdapter) decodeProposalCreated(ctx context.Context, log gethtypes.Log) (adapters.ProposalRecord, error) {
	event := struct {
		ProposalID  *big.Int
		Proposer    common.Address
		Targets     []common.Address
		Values      []*big.Int
		Signatures  []string
		Calldatas   [][]byte
		StartBlock  *big.Int
		EndBlock    *big.Int
		Description string
	}{}
	if err := governorABI.UnpackIntoInterface(&event, "ProposalCreated", log.Data); err != nil {
		return adapters.ProposalRecord{}, err
	}

	blockHeader, err := a.Chain.BlockByNumber(ctx, log.BlockNumber)
	if err != nil {
		return adapters.ProposalRecord{}, fmt.Errorf("fetch created block header: %w", err)
	}
	createdAt := time.Unix(int64(blockHeader.Time), 0).UTC()

	endBlock := event.EndBlock.Uint64()
	if deadline, err := a.Contract.ProposalDeadline(ctx, event.ProposalID); err == nil && deadline.Uint64() > endBlock {
		endBlock = deadline.Uint64()
	}

	startAt, err := a.Chain.EstimateTimestamp(ctx, event.StartBlock.Uint64())
	if err != nil {
		return adapters.ProposalRecord{}, fmt.Errorf("estimate start timestamp: %w", err)
	}
	endAt, err := a.Chain.EstimateTimestamp(ctx, endBlock)
	if err != nil {
		return adapters.ProposalRecord{}, fmt.Errorf("estimate end timestamp: %w", err)
	}

	against, forVotes, abstain, err := a.Contract.ProposalVotes(ctx, event.ProposalID)
	if err != nil {
		return adapters.ProposalRecord{}, fmt.Errorf("proposalVotes: %w", err)
	}
	snapshot, err := a.Contract.ProposalSnapshot(ctx, event.ProposalID)
	if err != nil {
		return adapters.ProposalRecord{}, fmt.Errorf("proposalSnapshot: %w", err)
	}
	quorum, err := a.Contract.Quorum(ctx, snapshot)
	if err != nil {
		quorum = big.NewInt(0)
	}
	stateCode, err := a.Contract.State(ctx, event.ProposalID)
	if err != nil {
		return adapters.ProposalRecord{}, fmt.Errorf("state: %w", err)
	}

	scores := []float64{weiToFloat(forVotes), weiToFloat(against), weiToFloat(abstain)}
	scoresTotal := scores[0] + scores[1] + scores[2]
	scoresQuorum := scores[0] + scores[2]

	metadata := map[string]interface{}{
		"vote_type":      "basic",
		"quorum_choices": []int{0, 2},
	}
	if a.VPCalc != nil {
		if vp, err := a.VPCalc.TotalDelegatedVotingPower(ctx, createdAt); err == nil {
			metadata["total_delegated_vp"] = vp
		}
	}

	author := event.Proposer.Hex()
	blockNumber := log.BlockNumber
	txID := log.TxHash.Hex()
	externalID := event.ProposalID.String()

	var portalURL string
	if a.PortalURL != nil {
		portalURL = a.PortalURL(externalID)
	}

	return adapters.ProposalRecord{
		ExternalID:     externalID,
		AuthorAddress:  &author,
		Name:           extractTitle(event.Description),
		Body:           event.Description,
		URL:            portalURL,
		Choices:        []string{"For", "Against", "Abstain"},
		Scores:         scores,
		ScoresTotal:    scoresTotal,
		ScoresQuorum:   scoresQuorum,
		Quorum:         weiToFloat(quorum),
		State:          mapProposalState(stateCode),
		CreatedAt:      createdAt,
		StartAt:        startAt,
		EndAt:          endAt,
		BlockCreatedAt: &blockNumber,
		TxID:           &txID,
		Metadata:       metadata,
	}, nil
}

func (a *GovernorAdapter) decodeStateTransition(ctx context.Context, log gethtypes.Log) (adapters.ProposalRecord, error) {
	var proposalID *big.Int
	switch log.Topics[0] {
	case proposalExecutedTopic:
		var out struct{ ProposalID *big.Int }
		if err := governorABI.UnpackIntoInterface(&out, "ProposalExecuted", log.Data); err != nil {
			return adapters.ProposalRecord{}, err
		}
		proposalID = out.ProposalID
	case proposalQueuedTopic:
		var out struct{ ProposalID *big.Int }
		if err := governorABI.UnpackIntoInterface(&out, "ProposalQueued", log.Data); err != nil {
			return adapters.ProposalRecord{}, err
		}
		proposalID = out.ProposalID
	case proposalCanceledTopic:
		var out struct{ ProposalID *big.Int }
		if err := governorABI.UnpackIntoInterface(&out, "ProposalCanceled", log.Data); err != nil {
			return adapters.ProposalRecord{}, err
		}
		proposalID = out.ProposalID
	case proposalExtendedTopic:
		var out struct {
			ProposalID       *big.Int
			ExtendedDeadline *big.Int
		}
		if err := governorABI.UnpackIntoInterface(&out, "ProposalExtended", log.Data); err != nil {
			return adapters.ProposalRecord{}, err
		}
		proposalID = out.ProposalID
	}

	stateCode, err := a.Contract.State(ctx, proposalID)
	if err != nil {
		return adapters.ProposalRecord{}, fmt.Errorf("state: %w", err)
	}

	return adapters.ProposalRecord{
		ExternalID:    proposalID.String(),
		State:         mapProposalState(stateCode),
		PartialUpdate: true,
	}, nil
}

func (a *GovernorAdapter) decodeVoteCast(ctx context.Context, log gethtypes.Log) (adapters.VoteRecord, error) {
	if len(log.Topics) < 2 {
		return adapters.VoteRecord{}, fmt.Errorf("VoteCast log missing indexed voter topic")
	}
	voter := common.BytesToAddress(log.Topics[1].Bytes())

	var event struct {
		ProposalID *big.Int
		Support    uint8
		Weight     *big.Int
		Reason     string
	}
	if err := governorABI.UnpackIntoInterface(&event, "VoteCast", log.Data); err != nil {
		return adapters.VoteRecord{}, err
	}

	choice, err := adapters.DecodeOnChainChoice(event.Support)
	if err != nil {
		return adapters.VoteRecord{}, err
	}

	blockHeader, err := a.Chain.BlockByNumber(ctx, log.BlockNumber)
	if err != nil {
		return adapters.VoteRecord{}, fmt.Errorf("fetch vote block header: %w", err)
	}

	blockNumber := log.BlockNumber
	txID := log.TxHash.Hex()
	var reason *string
	if event.Reason != "" {
		reason = &event.Reason
	}

	return adapters.VoteRecord{
		ProposalExternalID: event.ProposalID.String(),
		VoterAddress:       voter.Hex(),
		Choice:             choice,
		VotingPower:        weiToFloat(event.Weight),
		Reason:             reason,
		CreatedAt:          time.Unix(int64(blockHeader.Time), 0).UTC(),
		BlockCreatedAt:     &blockNumber,
		TxID:               &txID,
	}, nil
}

// mapProposalState maps a governor's numeric state code to the canonical
// enum, following the Governor-Bravo convention.
func mapProposalState(code uint8) store.ProposalState {
	switch code {
	case 0:
		return store.ProposalPending
	case 1:
		return store.ProposalActive
	case 2:
		return store.ProposalCanceled
	case 3:
		return store.ProposalDefeated
	case 4:
		return store.ProposalSucceeded
	case 5:
		return store.ProposalQueued
	case 6:
		return store.ProposalExpired
	case 7:
		return store.ProposalExecuted
	default:
		return store.ProposalUnknown
	}
}

// extractTitle takes the first non-blank line of a proposal's markdown
// description, strips leading '#'/whitespace, and truncates to 120 code
// points, defaulting to "Unknown".
func extractTitle(description string) string {
	for _, line := range strings.Split(description, "\n") {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if trimmed == "" {
			continue
		}
		runes := []rune(trimmed)
		if len(runes) > 120 {
			runes = runes[:120]
		}
		return string(runes)
	}
	return "Unknown"
}

// weiToFloat converts a raw 18-decimal on-chain integer (vote weight, score
// tally, or quorum) to the float form Vote/Proposal rows store. The value is
// round-tripped through a fixed-width uint256.Int first, the same
// overflow-checked conversion core/state/accounts.go uses for account
// balances, before the division into a decimal value.
func weiToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	amount, overflow := uint256.FromBig(v)
	if overflow {
		return 0
	}
	f := new(big.Float).SetInt(amount.ToBig())
	f.Quo(f, weiDivisor)
	result, _ := f.Float64()
	return result
}
