package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Transfer is one decoded ERC-20 Transfer log.
type Transfer struct {
	TxHash      common.Hash
	BlockNumber uint64
	From        common.Address
	To          common.Address
	Amount      *big.Int
}

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	mu      sync.RWMutex
	tsCache map[uint64]uint64
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		tsCache:   make(map[uint64]uint64),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, number)
}

// BlockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	ts = header.Time
	c.mu.Lock()
	c.tsCache[number] = ts
	c.mu.Unlock()

	return ts, nil
}

// TransactionReceipt returns the mined receipt for a transaction, or
// ethereum.NotFound while it is still pending.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.ethClient.TransactionReceipt(ctx, txHash)
}

// FilterTransfers returns decoded ERC-20 Transfer events of the given token
// to the recipient within the inclusive block range, in log order.
func (c *Client) FilterTransfers(
	ctx context.Context,
	token common.Address,
	recipient common.Address,
	fromBlock uint64,
	toBlock uint64,
) ([]Transfer, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{token},
		Topics: [][]common.Hash{
			{transferTopic},
			nil, // any sender
			{common.BytesToHash(recipient.Bytes())},
		},
	}

	logs, err := c.ethClient.FilterLogs(ctx, query)
	if err != nil {
		return nil, err
	}

	transfers := make([]Transfer, 0, len(logs))
	for _, lg := range logs {
		transfer, err := DecodeTransferLog(lg)
		if err != nil {
			// Skip malformed entries rather than failing the whole scan.
			continue
		}
		transfers = append(transfers, transfer)
	}
	return transfers, nil
}

// DecodeTransferLog decodes one raw log into a Transfer.
func DecodeTransferLog(lg types.Log) (Transfer, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
		return Transfer{}, fmt.Errorf("log is not an ERC-20 transfer")
	}
	return Transfer{
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
		From:        common.BytesToAddress(lg.Topics[1].Bytes()),
		To:          common.BytesToAddress(lg.Topics[2].Bytes()),
		Amount:      new(big.Int).SetBytes(lg.Data),
	}, nil
}
