package cdp

import (
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"vaultchain/observability"
)

// PositionRecord is one ledger entry yielded during iteration.
type PositionRecord struct {
	Owner    common.Address
	Position Position
}

// PositionPage is one batch of a resumable ledger iteration. LastKey is the
// opaque resume point; Finished reports that the iteration reached the end of
// the collateral type's positions.
type PositionPage struct {
	Records  []PositionRecord
	LastKey  []byte
	Finished bool
}

// PositionIterator exposes the ledger's position collection as a cursor,
// independent of its concrete storage layout.
type PositionIterator interface {
	IteratePositions(currency CurrencyID, startKey []byte, max uint32) (PositionPage, error)
}

// CandidateSubmitter places a candidate into the unsigned transaction pool.
// State only changes when a block author later includes and executes it.
type CandidateSubmitter interface {
	Submit(candidate Candidate) error
}

// NodeContext exposes the per-node facts the scanner needs: whether this node
// can author blocks and the chain-provided random seed.
type NodeContext interface {
	IsValidator() bool
	RandomSeed() []byte
}

// Scanner is the resumable, rate-limited background job that walks open
// positions and emits disposal candidates. It runs once per finalized block
// on every node, outside consensus.
type Scanner struct {
	engine       *Engine
	state        *ScannerState
	iterator     PositionIterator
	submitter    CandidateSubmitter
	node         NodeContext
	lockDuration time.Duration
	logger       *slog.Logger
	metrics      *observability.CDPEngineMetrics
	now          func() time.Time
}

// NewScanner wires a scanner to the engine and its node-local state.
func NewScanner(engine *Engine, state *ScannerState, iterator PositionIterator, submitter CandidateSubmitter, node NodeContext) *Scanner {
	return &Scanner{
		engine:       engine,
		state:        state,
		iterator:     iterator,
		submitter:    submitter,
		node:         node,
		lockDuration: DefaultLockDuration,
		logger:       slog.Default(),
		now:          time.Now,
	}
}

// SetLockDuration overrides the advisory lock lifetime.
func (s *Scanner) SetLockDuration(d time.Duration) {
	if s == nil || d <= 0 {
		return
	}
	s.lockDuration = d
}

// SetLogger replaces the scanner logger.
func (s *Scanner) SetLogger(logger *slog.Logger) {
	if s == nil || logger == nil {
		return
	}
	s.logger = logger
}

// SetMetrics wires the prometheus registry.
func (s *Scanner) SetMetrics(m *observability.CDPEngineMetrics) {
	if s == nil {
		return
	}
	s.metrics = m
}

// SetClock overrides the time source. Tests use this to drive the advisory
// lock deterministically.
func (s *Scanner) SetClock(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.now = now
}

// Run executes one scan pass. Offchain-only obstacles (not a validator, lock
// still held) skip the pass without error: they are backpressure, not
// failures.
func (s *Scanner) Run() error {
	start := s.now()

	currencies := s.engine.CollateralCurrencies()
	if len(currencies) == 0 {
		return nil
	}
	if !s.node.IsValidator() {
		s.metrics.RecordScanPass("not_validator", 0)
		s.logger.Debug("cdp scan skipped: node is not a potential validator")
		return nil
	}
	if err := s.state.tryLock(s.now(), s.lockDuration); err != nil {
		if errors.Is(err, errLockHeld) {
			s.metrics.RecordScanPass("lock_busy", 0)
			s.logger.Debug("cdp scan skipped: previous scan still holds the lock")
			return nil
		}
		return err
	}

	cursor, err := s.state.LoadCursor()
	if err != nil {
		return err
	}
	if cursor == nil {
		cursor = &ScanCursor{
			CollateralIndex: randomStartIndex(s.node.RandomSeed(), uint32(len(currencies))),
		}
	}
	if int(cursor.CollateralIndex) >= len(currencies) {
		// The collateral type at this index was removed by governance
		// since the cursor was written. Start over next block.
		return s.state.SaveCursor(ScanCursor{})
	}
	currency := currencies[cursor.CollateralIndex]

	maxIterations, err := s.state.MaxIterations()
	if err != nil {
		return err
	}

	page, err := s.iterator.IteratePositions(currency, cursor.StartKey, maxIterations)
	if err != nil {
		return err
	}

	isShutdown := s.engine.isShutdown()
	for _, record := range page.Records {
		position := record.Position
		if !isShutdown && s.engine.IsUnsafe(currency, position.collateralOrZero(), position.debitOrZero()) {
			s.submit(Candidate{Kind: CandidateLiquidate, Currency: currency, Owner: record.Owner})
		} else if isShutdown && position.debitOrZero().Sign() != 0 {
			s.submit(Candidate{Kind: CandidateSettle, Currency: currency, Owner: record.Owner})
		}
		if err := s.state.extendLock(s.now(), s.lockDuration); err != nil {
			return err
		}
	}

	if page.Finished {
		next := cursor.CollateralIndex + 1
		if int(next) >= len(currencies) {
			next = 0
		}
		if err := s.state.SaveCursor(ScanCursor{CollateralIndex: next}); err != nil {
			return err
		}
	} else {
		if err := s.state.SaveCursor(ScanCursor{CollateralIndex: cursor.CollateralIndex, StartKey: page.LastKey}); err != nil {
			return err
		}
	}

	// The lock is deliberately not released: its fixed expiry, not scan
	// completion, paces consecutive passes.
	elapsed := s.now().Sub(start)
	s.metrics.RecordScanPass("done", elapsed)
	s.logger.Debug("cdp scan pass done",
		"currency", currency.Key(),
		"visited", len(page.Records),
		"finished", page.Finished,
		"elapsed", elapsed,
	)
	return nil
}

func (s *Scanner) submit(candidate Candidate) {
	if err := s.submitter.Submit(candidate); err != nil {
		s.logger.Info("cdp candidate submission failed",
			"kind", candidate.Kind.String(),
			"currency", candidate.Currency.Key(),
			"owner", candidate.Owner.Hex(),
			"error", err,
		)
		return
	}
	s.metrics.RecordCandidate(candidate.Kind.String())
}
