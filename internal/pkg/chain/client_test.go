package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTransferLog(t *testing.T) {
	from := common.HexToAddress("0x2222222222222222222222222222222222222222")
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	amount := big.NewInt(5000000)

	lg := types.Log{
		TxHash:      common.Hash{0xAA},
		BlockNumber: 480,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}

	transfer, err := DecodeTransferLog(lg)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{0xAA}, transfer.TxHash)
	assert.Equal(t, uint64(480), transfer.BlockNumber)
	assert.Equal(t, from, transfer.From)
	assert.Equal(t, to, transfer.To)
	assert.Zero(t, transfer.Amount.Cmp(amount))
}

func TestDecodeTransferLog_RejectsNonTransfer(t *testing.T) {
	// Approval-style log with only two topics.
	lg := types.Log{
		Topics: []common.Hash{transferTopic, common.Hash{0x01}},
	}
	if _, err := DecodeTransferLog(lg); err == nil {
		t.Fatalf("expected error for log with missing topics")
	}

	lg = types.Log{
		Topics: []common.Hash{{0xFF}, common.Hash{0x01}, common.Hash{0x02}},
	}
	if _, err := DecodeTransferLog(lg); err == nil {
		t.Fatalf("expected error for log with wrong signature topic")
	}
}

func TestTransferTopic(t *testing.T) {
	// The canonical ERC-20 Transfer event signature hash.
	assert.Equal(t,
		"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		transferTopic.Hex())
}
