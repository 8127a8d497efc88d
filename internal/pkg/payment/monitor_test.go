package payment

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sponsorrun/SponsorRun/internal/pkg/chain"
)

type fakeChainReader struct {
	mu        sync.Mutex
	latest    uint64
	transfers []chain.Transfer
	err       error

	lastFromBlock uint64
	lastToBlock   uint64
}

func (f *fakeChainReader) LatestBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.latest, nil
}

func (f *fakeChainReader) FilterTransfers(ctx context.Context, token, recipient common.Address, fromBlock, toBlock uint64) ([]chain.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.lastFromBlock = fromBlock
	f.lastToBlock = toBlock
	return f.transfers, nil
}

func (f *fakeChainReader) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	return 1700000000, nil
}

func (f *fakeChainReader) setTransfers(transfers []chain.Transfer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = transfers
}

func testConfig() Config {
	amount, _ := new(big.Int).SetString("5000000", 10)
	return Config{
		TokenAddress:   common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		ExpectedAmount: amount,
		LookbackBlocks: 100,
		PollInterval:   10 * time.Millisecond,
		Window:         500 * time.Millisecond,
	}
}

const charityAddress = "0x1111111111111111111111111111111111111111"

func transfer(block uint64, amount string, tx byte) chain.Transfer {
	value, _ := new(big.Int).SetString(amount, 10)
	return chain.Transfer{
		TxHash:      common.Hash{tx},
		BlockNumber: block,
		From:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
		To:          common.HexToAddress(charityAddress),
		Amount:      value,
	}
}

func waitForState(t *testing.T, m *Monitor, id string, want State) *SessionView {
	t.Helper()
	var view *SessionView
	require.Eventually(t, func() bool {
		v, err := m.Session(id)
		if err != nil {
			return false
		}
		view = v
		return v.State == want
	}, 2*time.Second, 5*time.Millisecond, "session never reached state %s", want)
	return view
}

func TestStartSession_RejectsInvalidAddress(t *testing.T) {
	m := NewMonitor(testConfig(), &fakeChainReader{latest: 500})

	_, err := m.StartSession("not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestSession_ExactMatchCompletes(t *testing.T) {
	reader := &fakeChainReader{
		latest:    500,
		transfers: []chain.Transfer{transfer(480, "5000000", 0xAA)},
	}
	m := NewMonitor(testConfig(), reader)

	view, err := m.StartSession(charityAddress)
	require.NoError(t, err)

	final := waitForState(t, m, view.ID, StateCompleted)
	require.NotNil(t, final.Match)
	assert.Equal(t, common.Hash{0xAA}.Hex(), final.Match.TxHash)
	assert.Equal(t, uint64(480), final.Match.BlockNumber)
	assert.Equal(t, "5000000", final.Match.Amount)
	assert.Equal(t, time.Unix(1700000000, 0).Unix(), final.Match.BlockTime.Unix())
}

func TestSession_EarliestOfMultipleMatchesWins(t *testing.T) {
	reader := &fakeChainReader{
		latest: 500,
		transfers: []chain.Transfer{
			transfer(495, "5000000", 0xBB),
			transfer(470, "5000000", 0xAA),
			transfer(480, "5000000", 0xCC),
		},
	}
	m := NewMonitor(testConfig(), reader)

	view, err := m.StartSession(charityAddress)
	require.NoError(t, err)

	final := waitForState(t, m, view.ID, StateCompleted)
	require.NotNil(t, final.Match)
	assert.Equal(t, uint64(470), final.Match.BlockNumber)
	assert.Equal(t, common.Hash{0xAA}.Hex(), final.Match.TxHash)
}

func TestSession_WrongAmountKeepsMonitoring(t *testing.T) {
	reader := &fakeChainReader{
		latest: 500,
		transfers: []chain.Transfer{
			transfer(480, "4999999", 0xAA),
			transfer(481, "5000001", 0xBB),
		},
	}
	m := NewMonitor(testConfig(), reader)

	view, err := m.StartSession(charityAddress)
	require.NoError(t, err)

	waitForState(t, m, view.ID, StateMonitoring)

	// An exact transfer arriving later is still picked up.
	reader.setTransfers([]chain.Transfer{
		transfer(480, "4999999", 0xAA),
		transfer(490, "5000000", 0xCC),
	})
	final := waitForState(t, m, view.ID, StateCompleted)
	assert.Equal(t, uint64(490), final.Match.BlockNumber)
}

func TestSession_RPCErrorFails(t *testing.T) {
	reader := &fakeChainReader{err: errors.New("connection refused")}
	m := NewMonitor(testConfig(), reader)

	view, err := m.StartSession(charityAddress)
	require.NoError(t, err)

	final := waitForState(t, m, view.ID, StateFailed)
	assert.Contains(t, final.Error, "rpc error")
	assert.Nil(t, final.Match)
}

func TestSession_WindowElapses(t *testing.T) {
	cfg := testConfig()
	cfg.Window = 50 * time.Millisecond
	m := NewMonitor(cfg, &fakeChainReader{latest: 500})

	view, err := m.StartSession(charityAddress)
	require.NoError(t, err)

	final := waitForState(t, m, view.ID, StateFailed)
	assert.Contains(t, final.Error, "window elapsed")
}

func TestCancelSession(t *testing.T) {
	m := NewMonitor(testConfig(), &fakeChainReader{latest: 500})

	view, err := m.StartSession(charityAddress)
	require.NoError(t, err)

	require.NoError(t, m.CancelSession(view.ID))
	final := waitForState(t, m, view.ID, StateFailed)
	assert.Equal(t, "canceled by client", final.Error)

	assert.ErrorIs(t, m.CancelSession("no-such-session"), ErrUnknownSession)
}

func TestSession_TerminalStateIsSticky(t *testing.T) {
	reader := &fakeChainReader{
		latest:    500,
		transfers: []chain.Transfer{transfer(480, "5000000", 0xAA)},
	}
	m := NewMonitor(testConfig(), reader)

	view, err := m.StartSession(charityAddress)
	require.NoError(t, err)
	waitForState(t, m, view.ID, StateCompleted)

	// Cancel after completion must not flip the state back.
	_ = m.CancelSession(view.ID)
	final, err := m.Session(view.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, final.State)
}

func TestSession_LookbackClampsAtGenesis(t *testing.T) {
	reader := &fakeChainReader{latest: 40}
	m := NewMonitor(testConfig(), reader)

	view, err := m.StartSession(charityAddress)
	require.NoError(t, err)
	waitForState(t, m, view.ID, StateMonitoring)

	reader.mu.Lock()
	from, to := reader.lastFromBlock, reader.lastToBlock
	reader.mu.Unlock()
	assert.Equal(t, uint64(0), from)
	assert.Equal(t, uint64(40), to)
}

func TestEarliestExactMatch(t *testing.T) {
	expected := big.NewInt(5000000)

	assert.Nil(t, earliestExactMatch(nil, expected))

	transfers := []chain.Transfer{
		transfer(10, "5000001", 0x01),
		transfer(12, "5000000", 0x02),
		transfer(11, "5000000", 0x03),
	}
	match := earliestExactMatch(transfers, expected)
	require.NotNil(t, match)
	assert.Equal(t, uint64(11), match.BlockNumber)
}
