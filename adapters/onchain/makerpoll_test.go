package onchain

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"governanceagg/store"
)

func packPollCreated(t *testing.T, blockCreated, startDate, endDate int64, multiHash, url string) []byte {
	t.Helper()
	data, err := makerPollABI.Events["PollCreated"].Inputs.NonIndexed().Pack(
		big.NewInt(blockCreated), big.NewInt(startDate), big.NewInt(endDate), multiHash, url)
	require.NoError(t, err)
	return data
}

func TestDecodePollCreated_ActivePoll(t *testing.T) {
	adapter := NewMakerPollAdapter(store.VariantMakerPollMain, nil, common.Address{}, func(id string) string {
		return "https://vote.makerdao.com/polling/" + id
	})

	start := time.Now().Add(-time.Hour).Unix()
	end := time.Now().Add(time.Hour).Unix()
	log := gethtypes.Log{
		Topics: []common.Hash{
			pollCreatedTopic,
			common.BytesToHash(common.HexToAddress("0x0000000000000000000000000000000000000001").Bytes()),
			common.BigToHash(big.NewInt(1143)),
		},
		Data:        packPollCreated(t, 100, start, end, "QmHash", "https://polls.example/1143.json"),
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xabc"),
	}

	record, err := adapter.decodePollCreated(log)
	require.NoError(t, err)
	assert.Equal(t, "1143", record.ExternalID)
	assert.Equal(t, store.ProposalActive, record.State)
	assert.Equal(t, "https://vote.makerdao.com/polling/1143", record.URL)
	require.NotNil(t, record.DiscussionURL)
	assert.Equal(t, "https://polls.example/1143.json", *record.DiscussionURL)
	require.NotNil(t, record.BlockCreatedAt)
	assert.Equal(t, uint64(100), *record.BlockCreatedAt)
}

func TestDecodePollCreated_EndedPollIsExecuted(t *testing.T) {
	adapter := NewMakerPollAdapter(store.VariantMakerPollMain, nil, common.Address{}, nil)

	start := time.Now().Add(-48 * time.Hour).Unix()
	end := time.Now().Add(-24 * time.Hour).Unix()
	log := gethtypes.Log{
		Topics: []common.Hash{
			pollCreatedTopic,
			common.BytesToHash(common.HexToAddress("0x0000000000000000000000000000000000000001").Bytes()),
			common.BigToHash(big.NewInt(7)),
		},
		Data: packPollCreated(t, 100, start, end, "QmHash", ""),
	}

	record, err := adapter.decodePollCreated(log)
	require.NoError(t, err)
	assert.Equal(t, store.ProposalExecuted, record.State)
	assert.Nil(t, record.DiscussionURL)
}

func TestDecodePollWithdrawn_IsPartialCancelUpdate(t *testing.T) {
	data, err := makerPollABI.Events["PollWithdrawn"].Inputs.NonIndexed().Pack(big.NewInt(100), big.NewInt(42))
	require.NoError(t, err)

	record, err := decodePollWithdrawn(gethtypes.Log{
		Topics: []common.Hash{pollWithdrawnTopic, common.BytesToHash(common.HexToAddress("0x01").Bytes())},
		Data:   data,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", record.ExternalID)
	assert.Equal(t, store.ProposalCanceled, record.State)
	assert.True(t, record.PartialUpdate)
}

func TestMakerPollAdapter_ArbitrumBindsToMainnetProposals(t *testing.T) {
	adapter := NewMakerPollAdapter(store.VariantMakerPollArb, nil, common.Address{}, nil)
	assert.Equal(t, store.VariantMakerPollMain, adapter.Describe().ProposalIndexerVariant)
}
