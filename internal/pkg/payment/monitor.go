package payment

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/sponsorrun/SponsorRun/internal/pkg/chain"
)

// State is the client-visible session state. Completed and failed are
// terminal; a new session starts a fresh cycle.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateMonitoring State = "monitoring"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// ErrInvalidAddress is returned when the target address is not a hex address.
var ErrInvalidAddress = errors.New("payment: invalid target address")

// ErrUnknownSession is returned for lookups of sessions this process never
// started (sessions are ephemeral and not persisted).
var ErrUnknownSession = errors.New("payment: unknown session")

// ChainReader is the subset of the chain client the monitor polls.
type ChainReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterTransfers(ctx context.Context, token, recipient common.Address, fromBlock, toBlock uint64) ([]chain.Transfer, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Match describes the transfer that fulfilled a session.
type Match struct {
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	From        string    `json:"from"`
	Amount      string    `json:"amount"`
	BlockTime   time.Time `json:"block_time"`
}

// SessionView is an immutable snapshot returned to clients.
type SessionView struct {
	ID             string    `json:"id"`
	State          State     `json:"state"`
	TargetAddress  string    `json:"target_address"`
	ExpectedAmount string    `json:"expected_amount"`
	CreatedAt      time.Time `json:"created_at"`
	WindowEnd      time.Time `json:"window_end"`
	Error          string    `json:"error,omitempty"`
	Match          *Match    `json:"match,omitempty"`
}

type session struct {
	id             string
	target         common.Address
	expectedAmount *big.Int
	createdAt      time.Time
	windowEnd      time.Time
	cancel         context.CancelFunc

	mu     sync.Mutex
	state  State
	match  *Match
	errMsg string
}

func (s *session) view() *SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &SessionView{
		ID:             s.id,
		State:          s.state,
		TargetAddress:  s.target.Hex(),
		ExpectedAmount: s.expectedAmount.String(),
		CreatedAt:      s.createdAt,
		WindowEnd:      s.windowEnd,
		Error:          s.errMsg,
		Match:          s.match,
	}
}

// transition moves the session forward; terminal states are never left.
func (s *session) transition(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCompleted || s.state == StateFailed {
		return false
	}
	s.state = next
	return true
}

func (s *session) complete(match *Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCompleted || s.state == StateFailed {
		return
	}
	s.state = StateCompleted
	s.match = match
}

func (s *session) fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCompleted || s.state == StateFailed {
		return
	}
	s.state = StateFailed
	s.errMsg = reason
}

// Monitor runs payment-watch sessions against the transfer log of a single
// fixed-amount token.
type Monitor struct {
	cfg    Config
	reader ChainReader

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewMonitor(cfg Config, reader ChainReader) *Monitor {
	return &Monitor{
		cfg:      cfg,
		reader:   reader,
		sessions: make(map[string]*session),
	}
}

// StartSession begins observing the target address for the configured fixed
// amount and returns immediately with the session snapshot.
func (m *Monitor) StartSession(targetAddress string) (*SessionView, error) {
	if !common.IsHexAddress(targetAddress) {
		return nil, ErrInvalidAddress
	}

	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:             uuid.New().String(),
		target:         common.HexToAddress(targetAddress),
		expectedAmount: new(big.Int).Set(m.cfg.ExpectedAmount),
		createdAt:      now,
		windowEnd:      now.Add(m.cfg.Window),
		cancel:         cancel,
		state:          StateIdle,
	}

	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	sess.transition(StateScanning)
	go m.run(ctx, sess)

	log.Infof("[Payment] Session %s watching %s for %s units until %s",
		sess.id, sess.target.Hex(), sess.expectedAmount, sess.windowEnd.Format(time.RFC3339))
	return sess.view(), nil
}

// Session returns the current snapshot for a session id.
func (m *Monitor) Session(id string) (*SessionView, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	return sess.view(), nil
}

// CancelSession stops polling for a session. The session becomes failed with
// a cancellation reason; the caller may start a fresh one.
func (m *Monitor) CancelSession(id string) error {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownSession
	}
	sess.fail("canceled by client")
	sess.cancel()
	return nil
}

func (m *Monitor) run(ctx context.Context, sess *session) {
	defer sess.cancel()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(time.Until(sess.windowEnd))
	defer deadline.Stop()

	// First poll immediately; the session is "monitoring" once a scan has
	// gone through.
	if done := m.poll(ctx, sess); done {
		return
	}
	sess.transition(StateMonitoring)

	for {
		select {
		case <-ctx.Done():
			sess.fail("canceled by client")
			return
		case <-deadline.C:
			sess.fail("monitoring window elapsed without a matching transfer")
			log.Infof("[Payment] Session %s window elapsed", sess.id)
			return
		case <-ticker.C:
			if done := m.poll(ctx, sess); done {
				return
			}
		}
	}
}

// poll scans the lookback window once. Returns true when the session reached
// a terminal state.
func (m *Monitor) poll(ctx context.Context, sess *session) bool {
	latest, err := m.reader.LatestBlockNumber(ctx)
	if err != nil {
		return m.failPoll(sess, "rpc error resolving chain head", err)
	}

	fromBlock := uint64(0)
	if latest > m.cfg.LookbackBlocks {
		fromBlock = latest - m.cfg.LookbackBlocks
	}

	transfers, err := m.reader.FilterTransfers(ctx, m.cfg.TokenAddress, sess.target, fromBlock, latest)
	if err != nil {
		return m.failPoll(sess, "rpc error scanning transfer log", err)
	}

	match := earliestExactMatch(transfers, sess.expectedAmount)
	if match == nil {
		// Not found yet; normal intermediate state, keep polling.
		return false
	}

	// Block timestamps are fetched lazily, only for the match.
	blockTime := time.Time{}
	if ts, err := m.reader.BlockTimestamp(ctx, match.BlockNumber); err == nil {
		blockTime = time.Unix(int64(ts), 0)
	}

	sess.complete(&Match{
		TxHash:      match.TxHash.Hex(),
		BlockNumber: match.BlockNumber,
		From:        match.From.Hex(),
		Amount:      match.Amount.String(),
		BlockTime:   blockTime,
	})
	log.Infof("[Payment] Session %s completed with tx %s", sess.id, match.TxHash.Hex())
	return true
}

func (m *Monitor) failPoll(sess *session, reason string, err error) bool {
	log.Errorf("[Payment] Session %s failed: %s: %v", sess.id, reason, err)
	sess.fail(reason)
	return true
}

// earliestExactMatch returns the transfer with the lowest block number whose
// amount equals expected exactly. Amounts are integer token units; partial or
// over-payment never matches.
func earliestExactMatch(transfers []chain.Transfer, expected *big.Int) *chain.Transfer {
	var best *chain.Transfer
	for i := range transfers {
		t := &transfers[i]
		if t.Amount == nil || t.Amount.Cmp(expected) != 0 {
			continue
		}
		if best == nil || t.BlockNumber < best.BlockNumber {
			best = t
		}
	}
	return best
}
