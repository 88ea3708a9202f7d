package onchain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"governanceagg/chainrpc"
)

// Contract is a thin, hand-rolled binding over the governor ABI: simpler
// contracts like these (a handful of view methods) don't warrant a
// generated abigen binding, so calls are packed/unpacked directly against
// the shared governorABI, the way go-ethereum's own lower-level examples do
// when abigen isn't in the build.
type Contract struct {
	Address common.Address
	Chain   *chainrpc.Chain
}

// NewContract builds a Contract bound to the given chain façade and
// contract address.
func NewContract(chain *chainrpc.Chain, address common.Address) *Contract {
	return &Contract{Address: address, Chain: chain}
}

func (c *Contract) call(ctx context.Context, blockNumber *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	packed, err := governorABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("onchain: pack %s: %w", method, err)
	}
	out, err := c.Chain.CallContract(ctx, ethereum.CallMsg{To: &c.Address, Data: packed}, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("onchain: call %s: %w", method, err)
	}
	values, err := governorABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("onchain: unpack %s: %w", method, err)
	}
	return values, nil
}

// State returns the governor's numeric proposal state code.
func (c *Contract) State(ctx context.Context, proposalID *big.Int) (uint8, error) {
	values, err := c.call(ctx, nil, "state", proposalID)
	if err != nil {
		return 0, err
	}
	return values[0].(uint8), nil
}

// ProposalVotes returns the raw against/for/abstain tallies.
func (c *Contract) ProposalVotes(ctx context.Context, proposalID *big.Int) (against, for_, abstain *big.Int, err error) {
	values, err := c.call(ctx, nil, "proposalVotes", proposalID)
	if err != nil {
		return nil, nil, nil, err
	}
	return values[0].(*big.Int), values[1].(*big.Int), values[2].(*big.Int), nil
}

// ProposalSnapshot returns the block number used as the quorum snapshot.
func (c *Contract) ProposalSnapshot(ctx context.Context, proposalID *big.Int) (*big.Int, error) {
	values, err := c.call(ctx, nil, "proposalSnapshot", proposalID)
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}

// ProposalDeadline returns the block number voting ends at, which may be
// later than the ProposalCreated event's endBlock if the proposal was
// extended.
func (c *Contract) ProposalDeadline(ctx context.Context, proposalID *big.Int) (*big.Int, error) {
	values, err := c.call(ctx, nil, "proposalDeadline", proposalID)
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}

// Quorum returns the quorum threshold as of the supplied snapshot block.
func (c *Contract) Quorum(ctx context.Context, snapshotBlock *big.Int) (*big.Int, error) {
	values, err := c.call(ctx, nil, "quorum", snapshotBlock)
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}

// VotingModule returns the address of the proposal's voting module, used
// to detect the Optimism approval/optimistic variants. Governors without a
// modular voting system do not implement this method; callers treat any
// error as "no module".
func (c *Contract) VotingModule(ctx context.Context, proposalID *big.Int) (common.Address, error) {
	values, err := c.call(ctx, nil, "proposalVotingModule", proposalID)
	if err != nil {
		return common.Address{}, err
	}
	return values[0].(common.Address), nil
}
