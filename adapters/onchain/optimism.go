package onchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"governanceagg/adapters"
	"governanceagg/chainrpc"
	"governanceagg/store"
)

// ModuleKind identifies how a voting module changes a proposal's ballot.
type ModuleKind string

// Recognized module kinds.
const (
	ModuleApproval   ModuleKind = "approval"
	ModuleOptimistic ModuleKind = "optimistic"
)

// OptimismAdapter extends the generic governor adapter with Optimism's
// voting-module proposals: approval-module ballots whose votes select a
// list of options, and optimistic-module proposals whose scores are derived
// from the module's against tally against a supply baseline.
type OptimismAdapter struct {
	*GovernorAdapter

	// Modules maps a deployed voting module address to its kind. A module
	// address absent from the map fails the window rather than guessing at
	// the ballot shape.
	Modules map[common.Address]ModuleKind

	// Token is the governance token contract, read for totalSupply when an
	// optimistic proposal's threshold is absolute rather than relative to
	// votable supply.
	Token common.Address
}

// NewOptimismAdapter builds the Optimism governor adapter.
func NewOptimismAdapter(chain *chainrpc.Chain, contract *Contract, token common.Address, modules map[common.Address]ModuleKind, portalURL func(string) string) *OptimismAdapter {
	return &OptimismAdapter{
		GovernorAdapter: NewGovernorAdapter(store.VariantOptimismCore, chain, contract, portalURL),
		Modules:         modules,
		Token:           token,
	}
}

var moduleProposalCreatedTopic = optimismABI.Events["ProposalCreated"].ID
var voteCastWithParamsTopic = optimismABI.Events["VoteCastWithParams"].ID

// ProcessProposals widens the generic window with module-created proposals:
// the plain Bravo-shaped events decode through the embedded adapter, the
// module-shaped ProposalCreated decodes here, and the pending-window cursor
// rule runs once over the union.
func (a *OptimismAdapter) ProcessProposals(ctx context.Context, governor *store.Governor, dao *store.DAO) (adapters.WindowResult, error) {
	base, err := a.GovernorAdapter.ProcessProposals(ctx, governor, dao)
	if err != nil {
		return adapters.WindowResult{}, err
	}

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
		Topics:    [][]common.Hash{{moduleProposalCreatedTopic}},
	})
	if err != nil {
		return adapters.WindowResult{}, fmt.Errorf("onchain: filter module proposals: %w", err)
	}

	proposals := base.Proposals
	for _, log := range logs {
		record, err := a.decodeModuleProposalCreated(ctx, log)
		if err != nil {
			return adapters.WindowResult{}, fmt.Errorf("onchain: decode module ProposalCreated: %w", err)
		}
		proposals = append(proposals, record)
	}

	return adapters.WindowResult{Proposals: proposals, SuggestedCursor: nextCursorFor(proposals, to)}, nil
}

// ProcessVotes widens the generic window with VoteCastWithParams events,
// whose params blob carries the approval-module option selection.
func (a *OptimismAdapter) ProcessVotes(ctx context.Context, governor *store.Governor) (adapters.WindowResult, error) {
	base, err := a.GovernorAdapter.ProcessVotes(ctx, governor)
	if err != nil {
		return adapters.WindowResult{}, err
	}

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
		Topics:    [][]common.Hash{{voteCastWithParamsTopic}},
	})
	if err != nil {
		return adapters.WindowResult{}, fmt.Errorf("onchain: filter module votes: %w", err)
	}

	votes := base.Votes
	for _, log := range logs {
		record, err := a.decodeVoteCastWithParams(ctx, log)
		if err != nil {
			return adapters.WindowResult{}, fmt.Errorf("onchain: decode VoteCastWithParams: %w", err)
		}
		votes = append(votes, record)
	}

	return adapters.WindowResult{Votes: votes, SuggestedCursor: int64(to)}, nil
}

func (a *OptimismAdapter) decodeModuleProposalCreated(ctx context.Context, log gethtypes.Log) (adapters.ProposalRecord, error) {
	event := struct {
		ProposalID   *big.Int
		Proposer     common.Address
		VotingModule common.Address
		ProposalData []byte
		StartBlock   *big.Int
		EndBlock     *big.Int
		Description  string
	}{}
	if err := optimismABI.UnpackIntoInterface(&event, "ProposalCreated", log.Data); err != nil {
		return adapters.ProposalRecord{}, err
	}

	kind, ok := a.Modules[event.VotingModule]
	if !ok {
		return adapters.ProposalRecord{}, fmt.Errorf("unknown voting module %s for proposal %s", event.VotingModule.Hex(), event.ProposalID)
	}

	blockHeader, err := a.Chain.BlockByNumber(ctx, log.BlockNumber)
	if err != nil {
		return adapters.ProposalRecord{}, fmt.Errorf("fetch created block header: %w", err)
	}
	createdAt := time.Unix(int64(blockHeader.Time), 0).UTC()

	startAt, err := a.Chain.EstimateTimestamp(ctx, event.StartBlock.Uint64())
	if err != nil {
		return adapters.ProposalRecord{}, fmt.Errorf("estimate start timestamp: %w", err)
	}
	endAt, err := a.Chain.EstimateTimestamp(ctx, event.EndBlock.Uint64())
	if err != nil {
		return adapters.ProposalRecord{}, fmt.Errorf("estimate end timestamp: %w", err)
	}

	stateCode, err := a.Contract.State(ctx, event.ProposalID)
	if err != nil {
		return adapters.ProposalRecord{}, fmt.Errorf("state: %w", err)
	}

	var choices []string
	var scores []float64
	metadata := map[string]interface{}{
		"voting_module": event.VotingModule.Hex(),
	}

	switch kind {
	case ModuleApproval:
		choices, err = decodeApprovalOptions(event.ProposalData)
		if err != nil {
			return adapters.ProposalRecord{}, fmt.Errorf("decode approval options: %w", err)
		}
		scores = make([]float64, len(choices))
		metadata["vote_type"] = "approval"
	case ModuleOptimistic:
		threshold, relative, err := decodeOptimisticSettings(event.ProposalData)
		if err != nil {
			return adapters.ProposalRecord{}, fmt.Errorf("decode optimistic settings: %w", err)
		}
		against, err := a.moduleAgainstVotes(ctx, event.VotingModule, event.ProposalID)
		if err != nil {
			return adapters.ProposalRecord{}, fmt.Errorf("module proposalVotes: %w", err)
		}
		supply, err := a.proposalSupply(ctx, relative, log.BlockNumber)
		if err != nil {
			return adapters.ProposalRecord{}, fmt.Errorf("proposal supply: %w", err)
		}
		choices = []string{"Against", "For"}
		scores = optimisticScores(supply, against)
		metadata["vote_type"] = "optimistic"
		metadata["against_threshold"] = threshold
		metadata["relative_to_votable_supply"] = relative
	}

	scoresTotal := 0.0
	for _, s := range scores {
		scoresTotal += s
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
		Choices:        choices,
		Scores:         scores,
		ScoresTotal:    scoresTotal,
		State:          mapProposalState(stateCode),
		CreatedAt:      createdAt,
		StartAt:        startAt,
		EndAt:          endAt,
		BlockCreatedAt: &blockNumber,
		TxID:           &txID,
		Metadata:       metadata,
	}, nil
}

func (a *OptimismAdapter) decodeVoteCastWithParams(ctx context.Context, log gethtypes.Log) (adapters.VoteRecord, error) {
	if len(log.Topics) < 2 {
		return adapters.VoteRecord{}, fmt.Errorf("VoteCastWithParams log missing indexed voter topic")
	}
	voter := common.BytesToAddress(log.Topics[1].Bytes())

	var event struct {
		ProposalID *big.Int
		Support    uint8
		Weight     *big.Int
		Reason     string
		Params     []byte
	}
	if err := optimismABI.UnpackIntoInterface(&event, "VoteCastWithParams", log.Data); err != nil {
		return adapters.VoteRecord{}, err
	}

	indices, err := decodeVoteParams(event.Params)
	if err != nil {
		return adapters.VoteRecord{}, fmt.Errorf("decode vote params: %w", err)
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
		Choice:             adapters.DecodeApprovalChoice(indices),
		VotingPower:        weiToFloat(event.Weight),
		Reason:             reason,
		CreatedAt:          time.Unix(int64(blockHeader.Time), 0).UTC(),
		BlockCreatedAt:     &blockNumber,
		TxID:               &txID,
		TallyScores:        true,
	}, nil
}

// moduleAgainstVotes reads the optimistic module's running against tally.
func (a *OptimismAdapter) moduleAgainstVotes(ctx context.Context, module common.Address, proposalID *big.Int) (float64, error) {
	packed, err := optimismABI.Pack("proposalVotes", proposalID)
	if err != nil {
		return 0, err
	}
	out, err := a.Chain.CallContract(ctx, ethereum.CallMsg{To: &module, Data: packed}, nil)
	if err != nil {
		return 0, err
	}
	values, err := optimismABI.Unpack("proposalVotes", out)
	if err != nil {
		return 0, err
	}
	return weiToFloat(values[0].(*big.Int)), nil
}

// proposalSupply resolves the baseline an optimistic proposal's For score
// is measured against: the governor's votable supply at the proposal block
// when the threshold is relative, the token's total supply otherwise.
func (a *OptimismAdapter) proposalSupply(ctx context.Context, relative bool, blockNumber uint64) (float64, error) {
	if relative {
		packed, err := optimismABI.Pack("votableSupply", new(big.Int).SetUint64(blockNumber))
		if err != nil {
			return 0, err
		}
		out, err := a.Chain.CallContract(ctx, ethereum.CallMsg{To: &a.Contract.Address, Data: packed}, nil)
		if err != nil {
			return 0, err
		}
		values, err := optimismABI.Unpack("votableSupply", out)
		if err != nil {
			return 0, err
		}
		return weiToFloat(values[0].(*big.Int)), nil
	}

	packed, err := optimismABI.Pack("totalSupply")
	if err != nil {
		return 0, err
	}
	out, err := a.Chain.CallContract(ctx, ethereum.CallMsg{To: &a.Token, Data: packed}, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, err
	}
	values, err := optimismABI.Unpack("totalSupply", out)
	if err != nil {
		return 0, err
	}
	return weiToFloat(values[0].(*big.Int)), nil
}

// ApprovalOption is one ballot option of an approval-module proposal, as
// laid out in the module's proposalData encoding.
type ApprovalOption struct {
	BudgetTokensSpent *big.Int
	Targets           []common.Address
	Values            []*big.Int
	Calldatas         [][]byte
	Description       string
}

// decodeApprovalOptions pulls each option's description out of an approval
// module proposalData blob, falling back to "Option N" for options without
// one.
func decodeApprovalOptions(proposalData []byte) ([]string, error) {
	values, err := approvalProposalDataArgs.Unpack(proposalData)
	if err != nil {
		return nil, err
	}
	options := *abi.ConvertType(values[0], new([]ApprovalOption)).(*[]ApprovalOption)
	choices := make([]string, len(options))
	for i, opt := range options {
		if opt.Description != "" {
			choices[i] = opt.Description
		} else {
			choices[i] = fmt.Sprintf("Option %d", i+1)
		}
	}
	return choices, nil
}

// decodeOptimisticSettings pulls the against-threshold and supply flag out
// of an optimistic module proposalData blob.
func decodeOptimisticSettings(proposalData []byte) (threshold float64, relative bool, err error) {
	values, err := optimisticProposalDataArgs.Unpack(proposalData)
	if err != nil {
		return 0, false, err
	}
	thresholdInt, ok := values[0].(*big.Int)
	if !ok {
		return 0, false, fmt.Errorf("unexpected threshold shape %T", values[0])
	}
	relative, ok = values[1].(bool)
	if !ok {
		return 0, false, fmt.Errorf("unexpected supply flag shape %T", values[1])
	}
	return weiToFloat(thresholdInt), relative, nil
}

// decodeVoteParams unpacks a VoteCastWithParams params blob into 0-based
// option indices.
func decodeVoteParams(params []byte) ([]int, error) {
	if len(params) == 0 {
		return nil, nil
	}
	values, err := voteParamsArgs.Unpack(params)
	if err != nil {
		return nil, err
	}
	raw, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected vote params shape %T", values[0])
	}
	indices := make([]int, len(raw))
	for i, v := range raw {
		indices[i] = int(v.Int64())
	}
	return indices, nil
}

// optimisticScores derives an optimistic proposal's [Against, For] scores:
// everyone who did not vote against is counted for, so For is the supply
// baseline minus the against tally, floored at zero.
func optimisticScores(supply, against float64) []float64 {
	forScore := supply - against
	if forScore < 0 {
		forScore = 0
	}
	return []float64{against, forScore}
}
