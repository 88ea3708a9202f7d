package onchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// optimismABIJSON covers the parts of the Optimism governor that differ
// from the plain Bravo shape: proposals created through a voting module
// carry the module address plus an opaque proposalData blob instead of the
// targets/values/calldatas arrays, and module votes arrive as
// VoteCastWithParams with the chosen option indices packed into params.
// The module-side proposalVotes read and the two supply reads back the
// optimistic module's derived scores.
const optimismABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "proposalId", "type": "uint256"},
      {"indexed": false, "name": "proposer", "type": "address"},
      {"indexed": false, "name": "votingModule", "type": "address"},
      {"indexed": false, "name": "proposalData", "type": "bytes"},
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
      {"indexed": false, "name": "reason", "type": "string"},
      {"indexed": false, "name": "params", "type": "bytes"}
    ],
    "name": "VoteCastWithParams",
    "type": "event"
  },
  {
    "constant": true,
    "inputs": [{"name": "proposalId", "type": "uint256"}],
    "name": "proposalVotes",
    "outputs": [{"name": "againstVotes", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "constant": true,
    "inputs": [{"name": "blockNumber", "type": "uint256"}],
    "name": "votableSupply",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "constant": true,
    "inputs": [],
    "name": "totalSupply",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var optimismABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(optimismABIJSON))
	if err != nil {
		panic("onchain: invalid optimism ABI: " + err.Error())
	}
	optimismABI = parsed
}

// approvalProposalDataArgs decodes the approval module's proposalData blob:
// an array of option tuples followed by the proposal settings tuple.
var approvalProposalDataArgs abi.Arguments

// optimisticProposalDataArgs decodes the optimistic module's proposalData
// blob: the against-threshold and the supply-source flag.
var optimisticProposalDataArgs abi.Arguments

func init() {
	optionType, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "budgetTokensSpent", Type: "uint256"},
		{Name: "targets", Type: "address[]"},
		{Name: "values", Type: "uint256[]"},
		{Name: "calldatas", Type: "bytes[]"},
		{Name: "description", Type: "string"},
	})
	if err != nil {
		panic("onchain: approval option type: " + err.Error())
	}
	settingsType, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "maxApprovals", Type: "uint8"},
		{Name: "criteria", Type: "uint8"},
		{Name: "budgetToken", Type: "address"},
		{Name: "criteriaValue", Type: "uint128"},
		{Name: "budgetAmount", Type: "uint128"},
	})
	if err != nil {
		panic("onchain: approval settings type: " + err.Error())
	}
	approvalProposalDataArgs = abi.Arguments{
		{Name: "options", Type: optionType},
		{Name: "settings", Type: settingsType},
	}

	thresholdType, err := abi.NewType("uint248", "", nil)
	if err != nil {
		panic("onchain: optimistic threshold type: " + err.Error())
	}
	boolType, err := abi.NewType("bool", "", nil)
	if err != nil {
		panic("onchain: optimistic flag type: " + err.Error())
	}
	optimisticProposalDataArgs = abi.Arguments{
		{Name: "againstThreshold", Type: thresholdType},
		{Name: "isRelativeToVotableSupply", Type: boolType},
	}

	paramsType, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		panic("onchain: vote params type: " + err.Error())
	}
	voteParamsArgs = abi.Arguments{{Name: "options", Type: paramsType}}
}

// voteParamsArgs decodes a VoteCastWithParams params blob into the list of
// chosen approval option indices.
var voteParamsArgs abi.Arguments
