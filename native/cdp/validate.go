package cdp

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// unsignedTagPrefix namespaces the dedup tags of engine-submitted
	// unsigned transactions inside the pool.
	unsignedTagPrefix = "CDPEngineOffchainWorker"
	// candidateLongevity keeps candidates short-lived: the underlying
	// position can change every block, so stale entries should fall out of
	// the pool quickly.
	candidateLongevity = 64
)

// ValidateCandidate is the pool admission check for scanner-emitted
// candidates. It re-reads the position and re-derives its status so a
// candidate that was resolved since the scan (topped up, already liquidated,
// shutdown toggled) is rejected as stale instead of wasting block space.
func (e *Engine) ValidateCandidate(candidate Candidate) (*ValidTransaction, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.ledger == nil {
		return nil, ErrNilLedger
	}
	position, err := e.ledger.Position(candidate.Currency, candidate.Owner)
	if err != nil {
		return nil, err
	}

	var provides []byte
	switch candidate.Kind {
	case CandidateLiquidate:
		if e.isShutdown() || !e.IsUnsafe(candidate.Currency, position.collateralOrZero(), position.debitOrZero()) {
			return nil, ErrStaleCandidate
		}
		provides = liquidationTag(e.blockHeight, candidate.Currency, candidate.Owner)
	case CandidateSettle:
		if position.debitOrZero().Sign() == 0 || !e.isShutdown() {
			return nil, ErrStaleCandidate
		}
		provides = settlementTag(candidate.Currency, candidate.Owner)
	default:
		return nil, ErrStaleCandidate
	}

	return &ValidTransaction{
		Priority:  e.params.UnsignedPriority,
		Provides:  [][]byte{provides},
		Longevity: candidateLongevity,
		Propagate: true,
	}, nil
}

func liquidationTag(blockNumber uint64, currency CurrencyID, owner common.Address) []byte {
	var block [8]byte
	binary.BigEndian.PutUint64(block[:], blockNumber)
	tag := make([]byte, 0, len(unsignedTagPrefix)+8+len(currency.Key())+common.AddressLength)
	tag = append(tag, unsignedTagPrefix...)
	tag = append(tag, block[:]...)
	tag = append(tag, currency.Key()...)
	tag = append(tag, owner.Bytes()...)
	return tag
}

func settlementTag(currency CurrencyID, owner common.Address) []byte {
	tag := make([]byte, 0, len(unsignedTagPrefix)+len(currency.Key())+common.AddressLength)
	tag = append(tag, unsignedTagPrefix...)
	tag = append(tag, currency.Key()...)
	tag = append(tag, owner.Bytes()...)
	return tag
}
