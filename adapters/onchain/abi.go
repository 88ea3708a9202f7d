package onchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// governorABIJSON is the minimal Governor-Bravo-compatible ABI fragment
// this package decodes: the ProposalCreated/VoteCast events every governor
// family in scope emits (OpenZeppelin Governor / Compound Bravo / Arbitrum
// Core all share this event shape), plus the read methods
// original_source/apps/detective/indexers/arbitrum_core_proposals.rs calls
// in sequence to populate a proposal record.
const governorABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "proposalId", "type": "uint256"},
      {"indexed": false, "name": "proposer", "type": "address"},
      {"indexed": false, "name": "targets", "type": "address[]"},
      {"indexed": false, "name": "values", "type": "uint256[]"},
      {"indexed": false, "name": "signatures", "type": "string[]"},
      {"indexed": false, "name": "calldatas", "type": "bytes[]"},
      {"indexed": false, "name": "startBlock", "type": "uint256"},
      {"indexed": false, "name": "endBlock", "type": "uint256"},
      {"indexed": false, "name": "description", "type": "string"}
    ],
    "name": "ProposalCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "voter", "type": "address"},
      {"indexed": false, "name": "proposalId", "type": "uint256"},
      {"indexed": false, "name": "support", "type": "uint8"},
      {"indexed": false, "name": "weight", "type": "uint256"},
      {"indexed": false, "name": "reason", "type": "string"}
    ],
    "name": "VoteCast",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [{"indexed": false, "name": "proposalId", "type": "uint256"}],
    "name": "ProposalExecuted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [{"indexed": false, "name": "proposalId", "type": "uint256"}],
    "name": "ProposalQueued",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [{"indexed": false, "name": "proposalId", "type": "uint256"}],
    "name": "ProposalCanceled",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "proposalId", "type": "uint256"},
      {"indexed": false, "name": "extendedDeadline", "type": "uint256"}
    ],
    "name": "ProposalExtended",
    "type": "event"
  },
  {
    "constant": true,
    "inputs": [{"name": "proposalId", "type": "uint256"}],
    "name": "state",
    "outputs": [{"name": "", "type": "uint8"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "constant": true,
    "inputs": [{"name": "proposalId", "type": "uint256"}],
    "name": "proposalVotes",
    "outputs": [
      {"name": "againstVotes", "type": "uint256"},
      {"name": "forVotes", "type": "uint256"},
      {"name": "abstainVotes", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "constant": true,
    "inputs": [{"name": "proposalId", "type": "uint256"}],
    "name": "proposalSnapshot",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "constant": true,
    "inputs": [{"name": "proposalId", "type": "uint256"}],
    "name": "proposalDeadline",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "constant": true,
    "inputs": [{"name": "blockNumber", "type": "uint256"}],
    "name": "quorum",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "constant": true,
    "inputs": [{"name": "proposalId", "type": "uint256"}],
    "name": "proposalVotingModule",
    "outputs": [{"name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var governorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(governorABIJSON))
	if err != nil {
		panic("onchain: invalid governor ABI: " + err.Error())
	}
	governorABI = parsed
}
