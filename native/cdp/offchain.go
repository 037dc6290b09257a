package cdp

import (
	"encoding/binary"
	"errors"
	"time"

	"lukechampine.com/blake3"

	"vaultchain/storage"
)

// Fixed, well-known keys of the node-local offchain store. Nothing under
// these keys is part of consensus.
var (
	offchainCursorKey        = []byte("cdp/offchain/data")
	offchainLockKey          = []byte("cdp/offchain/lock")
	offchainMaxIterationsKey = []byte("cdp/offchain/max-iterations")
)

const (
	// DefaultLockDuration is the advisory lock lifetime. Leaving the lock
	// to expire instead of releasing it paces consecutive scan passes.
	DefaultLockDuration = 100 * time.Millisecond
	// DefaultMaxIterations bounds how many positions one scan pass may
	// visit before yielding.
	DefaultMaxIterations uint32 = 1000
)

var errLockHeld = errors.New("cdp engine: offchain lock held")

// ScanCursor marks where the next scan pass resumes: which collateral type
// and, when the previous pass ran out of budget mid-iteration, the key to
// continue from.
type ScanCursor struct {
	CollateralIndex uint32
	StartKey        []byte
}

// ScannerState is the scanner's node-local persistence: cursor, advisory
// lock and the operator override for the iteration budget.
type ScannerState struct {
	db storage.Database
}

// NewScannerState wraps the given node-local store.
func NewScannerState(db storage.Database) *ScannerState {
	return &ScannerState{db: db}
}

// LoadCursor returns the persisted cursor, or nil when no pass has run yet.
func (s *ScannerState) LoadCursor() (*ScanCursor, error) {
	raw, err := s.db.Get(offchainCursorKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) < 4 {
		return nil, nil
	}
	cursor := &ScanCursor{CollateralIndex: binary.BigEndian.Uint32(raw[:4])}
	if len(raw) > 4 {
		cursor.StartKey = append([]byte(nil), raw[4:]...)
	}
	return cursor, nil
}

// SaveCursor persists the cursor for the next pass.
func (s *ScannerState) SaveCursor(cursor ScanCursor) error {
	buf := make([]byte, 4+len(cursor.StartKey))
	binary.BigEndian.PutUint32(buf[:4], cursor.CollateralIndex)
	copy(buf[4:], cursor.StartKey)
	return s.db.Put(offchainCursorKey, buf)
}

// MaxIterations returns the node-local iteration budget override, or the
// default when none is set.
func (s *ScannerState) MaxIterations() (uint32, error) {
	raw, err := s.db.Get(offchainMaxIterationsKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return DefaultMaxIterations, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 4 {
		return DefaultMaxIterations, nil
	}
	return binary.BigEndian.Uint32(raw), nil
}

// SetMaxIterations stores an operator override for the iteration budget.
func (s *ScannerState) SetMaxIterations(n uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], n)
	return s.db.Put(offchainMaxIterationsKey, buf[:])
}

// tryLock acquires the time-based advisory lock. The lock is a timestamp,
// not an OS primitive: it is held while the stored expiry lies in the
// future.
func (s *ScannerState) tryLock(now time.Time, duration time.Duration) error {
	raw, err := s.db.Get(offchainLockKey)
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return err
	}
	if err == nil && len(raw) == 8 {
		expiry := int64(binary.BigEndian.Uint64(raw))
		if now.UnixNano() < expiry {
			return errLockHeld
		}
	}
	return s.extendLock(now, duration)
}

// extendLock pushes the lock expiry out by the full duration. The scanner
// calls this after every visited position so an in-progress pass is never
// preempted by its own lock expiring.
func (s *ScannerState) extendLock(now time.Time, duration time.Duration) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(now.Add(duration).UnixNano()))
	return s.db.Put(offchainLockKey, buf[:])
}

// randomStartIndex derives the initial collateral-type index from the
// chain-provided seed. Randomising the start spreads scanning cost across
// collateral types and across independent nodes over time; hashing the seed
// keeps the choice reproducible in tests.
func randomStartIndex(seed []byte, count uint32) uint32 {
	if count == 0 {
		return 0
	}
	sum := blake3.Sum256(seed)
	return binary.BigEndian.Uint32(sum[:4]) % count
}
