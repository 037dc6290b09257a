package cdp

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vaultchain/storage"
)

type iterRequest struct {
	currency CurrencyID
	startKey []byte
	max      uint32
}

type mockIterator struct {
	requests []iterRequest
	pageFn   func(req iterRequest) (PositionPage, error)
}

func (m *mockIterator) IteratePositions(currency CurrencyID, startKey []byte, max uint32) (PositionPage, error) {
	req := iterRequest{currency, startKey, max}
	m.requests = append(m.requests, req)
	if m.pageFn == nil {
		return PositionPage{Finished: true}, nil
	}
	return m.pageFn(req)
}

type mockSubmitter struct {
	candidates []Candidate
	err        error
}

func (m *mockSubmitter) Submit(candidate Candidate) error {
	if m.err != nil {
		return m.err
	}
	m.candidates = append(m.candidates, candidate)
	return nil
}

type mockNode struct {
	validator bool
	seed      []byte
}

func (m *mockNode) IsValidator() bool { return m.validator }

func (m *mockNode) RandomSeed() []byte { return m.seed }

type scannerHarness struct {
	*testHarness
	scanner   *Scanner
	state     *ScannerState
	iterator  *mockIterator
	submitter *mockSubmitter
	node      *mockNode
	clock     time.Time
}

func newScannerHarness(collateral ...CurrencyID) *scannerHarness {
	h := newTestHarness(collateral...)
	s := &scannerHarness{
		testHarness: h,
		state:       NewScannerState(storage.NewMemDB()),
		iterator:    &mockIterator{},
		submitter:   &mockSubmitter{},
		node:        &mockNode{validator: true, seed: []byte("seed")},
		clock:       time.Unix(5000, 0),
	}
	s.scanner = NewScanner(h.engine, s.state, s.iterator, s.submitter, s.node)
	s.scanner.SetClock(func() time.Time { return s.clock })
	return s
}

func (s *scannerHarness) mustCursor(t *testing.T) *ScanCursor {
	t.Helper()
	cursor, err := s.state.LoadCursor()
	require.NoError(t, err)
	require.NotNil(t, cursor)
	return cursor
}

func TestScannerSkipsNonValidators(t *testing.T) {
	s := newScannerHarness()
	s.node.validator = false

	require.NoError(t, s.scanner.Run())
	require.Empty(t, s.iterator.requests)

	cursor, err := s.state.LoadCursor()
	require.NoError(t, err)
	require.Nil(t, cursor, "skipped pass must not write a cursor")
}

func TestScannerLockBackpressure(t *testing.T) {
	s := newScannerHarness()

	require.NoError(t, s.scanner.Run())
	require.Len(t, s.iterator.requests, 1)

	// The lock is left to expire rather than released: an immediate
	// second pass bounces off it.
	require.NoError(t, s.scanner.Run())
	require.Len(t, s.iterator.requests, 1, "second pass must not iterate")

	s.clock = s.clock.Add(DefaultLockDuration)
	require.NoError(t, s.scanner.Run())
	require.Len(t, s.iterator.requests, 2)
}

func TestScannerFirstPassStartsAtSeededIndex(t *testing.T) {
	s := newScannerHarness()
	currencies := s.engine.CollateralCurrencies()
	want := currencies[randomStartIndex([]byte("seed"), uint32(len(currencies)))]

	require.NoError(t, s.scanner.Run())
	require.Len(t, s.iterator.requests, 1)
	require.True(t, s.iterator.requests[0].currency.Equal(want))
	require.Nil(t, s.iterator.requests[0].startKey)
	require.Equal(t, DefaultMaxIterations, s.iterator.requests[0].max)
}

func TestScannerSubmitsLiquidationCandidates(t *testing.T) {
	s := newScannerHarness(tokenWETH)
	s.prices.set(tokenWETH, stableVUSD, fixed("1"))
	s.iterator.pageFn = func(iterRequest) (PositionPage, error) {
		return PositionPage{
			Records: []PositionRecord{
				{Owner: testOwner, Position: Position{Collateral: big.NewInt(100), Debit: big.NewInt(80)}},
				{Owner: otherOwner, Position: Position{Collateral: big.NewInt(200), Debit: big.NewInt(80)}},
			},
			Finished: true,
		}, nil
	}

	require.NoError(t, s.scanner.Run())
	// Only the unsafe position yields a candidate.
	require.Len(t, s.submitter.candidates, 1)
	candidate := s.submitter.candidates[0]
	require.Equal(t, CandidateLiquidate, candidate.Kind)
	require.Equal(t, testOwner, candidate.Owner)
	require.True(t, candidate.Currency.Equal(tokenWETH))
}

func TestScannerSubmitsSettleCandidatesAfterShutdown(t *testing.T) {
	s := newScannerHarness(tokenWETH)
	s.prices.set(tokenWETH, stableVUSD, fixed("1"))
	s.shutdown.active = true
	s.iterator.pageFn = func(iterRequest) (PositionPage, error) {
		return PositionPage{
			Records: []PositionRecord{
				// Unsafe, but shutdown means settlement, not liquidation.
				{Owner: testOwner, Position: Position{Collateral: big.NewInt(100), Debit: big.NewInt(80)}},
				// Already debt-free: nothing to settle.
				{Owner: otherOwner, Position: Position{Collateral: big.NewInt(100), Debit: big.NewInt(0)}},
			},
			Finished: true,
		}, nil
	}

	require.NoError(t, s.scanner.Run())
	require.Len(t, s.submitter.candidates, 1)
	require.Equal(t, CandidateSettle, s.submitter.candidates[0].Kind)
	require.Equal(t, testOwner, s.submitter.candidates[0].Owner)
}

func TestScannerAdvancesCursorAcrossTypes(t *testing.T) {
	s := newScannerHarness()
	require.NoError(t, s.state.SaveCursor(ScanCursor{CollateralIndex: 0}))

	require.NoError(t, s.scanner.Run())
	cursor := s.mustCursor(t)
	require.Equal(t, uint32(1), cursor.CollateralIndex)
	require.Nil(t, cursor.StartKey)

	// The last type wraps back to the first.
	s.clock = s.clock.Add(DefaultLockDuration)
	require.NoError(t, s.scanner.Run())
	cursor = s.mustCursor(t)
	require.Equal(t, uint32(0), cursor.CollateralIndex)
}

func TestScannerResumesMidTypeOnBudgetExhaustion(t *testing.T) {
	s := newScannerHarness(tokenWETH)
	require.NoError(t, s.state.SaveCursor(ScanCursor{CollateralIndex: 0}))
	require.NoError(t, s.state.SetMaxIterations(2))
	s.iterator.pageFn = func(req iterRequest) (PositionPage, error) {
		if req.startKey == nil {
			return PositionPage{LastKey: []byte("position/2"), Finished: false}, nil
		}
		return PositionPage{Finished: true}, nil
	}

	require.NoError(t, s.scanner.Run())
	require.Equal(t, uint32(2), s.iterator.requests[0].max)
	cursor := s.mustCursor(t)
	require.Equal(t, uint32(0), cursor.CollateralIndex, "unfinished type keeps its index")
	require.Equal(t, []byte("position/2"), cursor.StartKey)

	// The next pass resumes exactly where the budget ran out.
	s.clock = s.clock.Add(DefaultLockDuration)
	require.NoError(t, s.scanner.Run())
	require.Len(t, s.iterator.requests, 2)
	require.Equal(t, []byte("position/2"), s.iterator.requests[1].startKey)
	cursor = s.mustCursor(t)
	require.Equal(t, uint32(0), cursor.CollateralIndex, "single type wraps back to itself")
	require.Nil(t, cursor.StartKey)
}

func TestScannerResetsStaleCursorIndex(t *testing.T) {
	s := newScannerHarness(tokenWETH)
	require.NoError(t, s.state.SaveCursor(ScanCursor{CollateralIndex: 9, StartKey: []byte("old")}))

	require.NoError(t, s.scanner.Run())
	require.Empty(t, s.iterator.requests, "stale index must not be dereferenced")
	cursor := s.mustCursor(t)
	require.Equal(t, uint32(0), cursor.CollateralIndex)
	require.Nil(t, cursor.StartKey)
}

func TestScannerSubmitterFailureDoesNotAbortPass(t *testing.T) {
	s := newScannerHarness(tokenWETH)
	s.prices.set(tokenWETH, stableVUSD, fixed("1"))
	s.submitter.err = errors.New("pool full")
	s.iterator.pageFn = func(iterRequest) (PositionPage, error) {
		return PositionPage{
			Records: []PositionRecord{
				{Owner: testOwner, Position: Position{Collateral: big.NewInt(100), Debit: big.NewInt(80)}},
			},
			Finished: true,
		}, nil
	}

	require.NoError(t, s.scanner.Run())
	cursor := s.mustCursor(t)
	require.Equal(t, uint32(0), cursor.CollateralIndex, "pass still completed")
}

func TestScannerIteratorErrorSurfaces(t *testing.T) {
	s := newScannerHarness(tokenWETH)
	iterErr := errors.New("ledger unavailable")
	s.iterator.pageFn = func(iterRequest) (PositionPage, error) {
		return PositionPage{}, iterErr
	}

	require.ErrorIs(t, s.scanner.Run(), iterErr)
}
