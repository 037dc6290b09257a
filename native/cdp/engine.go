package cdp

import (
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"vaultchain/core/types"
	nativecommon "vaultchain/native/common"
	"vaultchain/observability"
)

var (
	ErrNilState                    = errors.New("cdp engine: state not configured")
	ErrNilLedger                   = errors.New("cdp engine: ledger not configured")
	ErrExceedDebitValueHardCap     = errors.New("cdp engine: total debit value exceeds hard cap")
	ErrBelowRequiredCollateralRatio = errors.New("cdp engine: collateral ratio below required collateral ratio")
	ErrBelowLiquidationRatio       = errors.New("cdp engine: collateral ratio below liquidation ratio")
	ErrMustBeUnsafe                = errors.New("cdp engine: cdp must be unsafe")
	ErrIsUnsafe                    = errors.New("cdp engine: cdp is unsafe")
	ErrInvalidCollateralType       = errors.New("cdp engine: invalid collateral type")
	ErrRemainDebitValueTooSmall    = errors.New("cdp engine: remaining debit value below dust threshold")
	ErrInvalidFeedPrice            = errors.New("cdp engine: invalid feed price")
	ErrNoDebitValue                = errors.New("cdp engine: no debit value to settle")
	ErrAlreadyShutdown             = errors.New("cdp engine: system already shutdown")
	ErrMustAfterShutdown           = errors.New("cdp engine: only callable after shutdown")
	ErrLiquidationFailed           = errors.New("cdp engine: all disposal strategies failed")
	ErrStaleCandidate              = errors.New("cdp engine: candidate is stale")
	ErrTooManyLiquidationContracts = errors.New("cdp engine: liquidation contract list full")
	ErrContractNotRegistered       = errors.New("cdp engine: liquidation contract not registered")
)

const moduleName = "cdp"

// Ledger is the external position ledger. The engine reads positions from it
// and delegates all mutation to its confiscate/adjust entry points, which are
// treated as atomic.
type Ledger interface {
	Position(currency CurrencyID, owner common.Address) (Position, error)
	TotalPosition(currency CurrencyID) (Position, error)
	ConfiscateCollateralAndDebit(owner common.Address, currency CurrencyID, collateral, debit *big.Int) error
	AdjustLoan(owner common.Address, currency CurrencyID, collateralAdjustment, debitAdjustment *big.Int) error
}

// PriceSource feeds relative prices between currencies. A nil return means
// the price is unavailable.
type PriceSource interface {
	GetRelativePrice(base, quote CurrencyID) *big.Int
}

// Treasury escrows confiscated collateral, issues and burns stable currency,
// and hosts the swap and auction paths used by the disposal waterfall.
type Treasury interface {
	OnSystemSurplus(amount *big.Int) error
	IssueDebit(to common.Address, amount *big.Int, backed bool) error
	BurnDebit(from common.Address, amount *big.Int) error
	SwapCollateralToStable(currency CurrencyID, limit SwapLimit) (supplied, received *big.Int, err error)
	CreateCollateralAuctions(currency CurrencyID, amount, target *big.Int, refundReceiver common.Address, splitted bool) error
	RemoveLiquidityForLPCollateral(currency CurrencyID, amount *big.Int) (*big.Int, *big.Int, error)
	WithdrawCollateral(to common.Address, currency CurrencyID, amount *big.Int) error
	WithdrawSurplus(to common.Address, amount *big.Int) error
}

// Balances exposes the stable-currency balance reads and transfers the
// contract strategy needs to measure and refund repayments.
type Balances interface {
	StableBalance(owner common.Address) *big.Int
	TransferStable(from, to common.Address, amount *big.Int) error
}

// LiquidationEvmBridge invokes registered liquidation smart contracts and
// carries the settlement origin used for EVM-hosted collateral.
type LiquidationEvmBridge interface {
	Liquidate(contract, collateral, repayDest common.Address, amount, minRepayment *big.Int) error
	OnCollateralTransfer(contract, collateral common.Address, amount *big.Int)
	OnRepaymentRefund(contract, collateral common.Address, repayment *big.Int)
	SetOrigin(origin common.Address)
	KillOrigin()
}

// EvmAddressMapping resolves the EVM contract address backing a currency, if
// it has one.
type EvmAddressMapping interface {
	EvmAddress(currency CurrencyID) (common.Address, bool)
}

// EmergencyShutdown reports the global shutdown flag.
type EmergencyShutdown interface {
	IsShutdown() bool
}

// StateJournal provides the all-or-nothing scope wrapped around multi-step
// mutations: a snapshot is taken before the sequence and reverted when any
// later step fails.
type StateJournal interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

type engineState interface {
	CollateralParams(currency CurrencyID) (*RiskManagementParams, error)
	PutCollateralParams(currency CurrencyID, params *RiskManagementParams) error
	GlobalInterestRatePerSec() (*big.Int, error)
	PutGlobalInterestRatePerSec(rate *big.Int) error
	DebitExchangeRate(currency CurrencyID) (*big.Int, error)
	PutDebitExchangeRate(currency CurrencyID, rate *big.Int) error
	LastAccumulationSecs() (uint64, error)
	PutLastAccumulationSecs(secs uint64) error
	LiquidationContracts() ([]common.Address, error)
	PutLiquidationContracts(contracts []common.Address) error
}

// Params carries the protocol constants the engine is instantiated with.
// Fixed-point fields are 1e18 scaled.
type Params struct {
	StableCurrency                 CurrencyID
	CollateralCurrencies           []CurrencyID
	DefaultLiquidationRatio        *big.Int
	DefaultDebitExchangeRate       *big.Int
	DefaultLiquidationPenalty      *big.Int
	MinimumDebitValue              *big.Int
	MaxSwapSlippage                *big.Int
	MaxLiquidationContractSlippage *big.Int
	MaxLiquidationContracts        uint32
	UnsignedPriority               uint64
	SettlementOrigin               common.Address
	RepayDest                      common.Address
}

// Engine orchestrates CDP risk management: interest accrual, safety
// evaluation, liquidation and post-shutdown settlement.
type Engine struct {
	state       engineState
	ledger      Ledger
	prices      PriceSource
	treasury    Treasury
	balances    Balances
	evmBridge   LiquidationEvmBridge
	evmMapping  EvmAddressMapping
	shutdown    EmergencyShutdown
	journal     StateJournal
	params      Params
	pauses      nativecommon.PauseView
	blockHeight uint64
	logger      *slog.Logger
	emitter     func(*types.Event)
	metrics     *observability.CDPEngineMetrics
	disposers   []disposer
}

// NewEngine constructs a CDP engine with the given protocol constants. The
// collaborators are wired afterwards through the Set methods.
func NewEngine(params Params) *Engine {
	e := &Engine{
		params: params,
		logger: slog.Default(),
	}
	e.disposers = []disposer{
		&dexDisposer{engine: e},
		&contractsDisposer{engine: e},
		&auctionDisposer{engine: e},
	}
	return e
}

// SetState wires the engine to the consensus persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the external position ledger.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetPriceSource wires the oracle.
func (e *Engine) SetPriceSource(prices PriceSource) { e.prices = prices }

// SetTreasury wires the CDP treasury.
func (e *Engine) SetTreasury(treasury Treasury) { e.treasury = treasury }

// SetBalances wires the stable-currency balance view.
func (e *Engine) SetBalances(balances Balances) { e.balances = balances }

// SetEvmBridge wires the liquidation EVM bridge.
func (e *Engine) SetEvmBridge(bridge LiquidationEvmBridge) { e.evmBridge = bridge }

// SetEvmAddressMapping wires the currency-to-EVM-address resolver.
func (e *Engine) SetEvmAddressMapping(mapping EvmAddressMapping) { e.evmMapping = mapping }

// SetShutdown wires the emergency shutdown flag.
func (e *Engine) SetShutdown(shutdown EmergencyShutdown) { e.shutdown = shutdown }

// SetJournal wires the transactional state journal.
func (e *Engine) SetJournal(journal StateJournal) { e.journal = journal }

// SetPauses wires the module pause view consulted by governance mutations.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetBlockHeight records the block height used for contract rotation and
// candidate dedup tags.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.blockHeight = height
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// SetEmitter registers the sink receiving engine events.
func (e *Engine) SetEmitter(emitter func(*types.Event)) {
	if e == nil {
		return
	}
	e.emitter = emitter
}

// SetMetrics wires the prometheus registry. A nil registry disables
// recording.
func (e *Engine) SetMetrics(m *observability.CDPEngineMetrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// CollateralCurrencies returns the configured collateral types.
func (e *Engine) CollateralCurrencies() []CurrencyID {
	return e.params.CollateralCurrencies
}

func (e *Engine) emit(ev *types.Event) {
	if e.emitter != nil && ev != nil {
		e.emitter(ev)
	}
}

func (e *Engine) isShutdown() bool {
	return e.shutdown != nil && e.shutdown.IsShutdown()
}

func (e *Engine) isCollateralCurrency(currency CurrencyID) bool {
	for _, id := range e.params.CollateralCurrencies {
		if id.Equal(currency) {
			return true
		}
	}
	return false
}

func (e *Engine) collateralParams(currency CurrencyID) (*RiskManagementParams, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	params, err := e.state.CollateralParams(currency)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = &RiskManagementParams{}
	}
	if params.MaximumTotalDebitValue == nil {
		params.MaximumTotalDebitValue = big.NewInt(0)
	}
	return params, nil
}

// MaximumTotalDebitValue returns the debit hard cap for the collateral type.
func (e *Engine) MaximumTotalDebitValue(currency CurrencyID) (*big.Int, error) {
	params, err := e.collateralParams(currency)
	if err != nil {
		return nil, err
	}
	return params.MaximumTotalDebitValue, nil
}

// RequiredCollateralRatio returns the required ratio, nil when unset.
func (e *Engine) RequiredCollateralRatio(currency CurrencyID) (*big.Int, error) {
	params, err := e.collateralParams(currency)
	if err != nil {
		return nil, err
	}
	return params.RequiredCollateralRatio, nil
}

// InterestRatePerSec returns the effective per-second interest rate for the
// collateral type: its own extra rate plus the global rate.
func (e *Engine) InterestRatePerSec(currency CurrencyID) (*big.Int, error) {
	params, err := e.collateralParams(currency)
	if err != nil {
		return nil, err
	}
	global, err := e.state.GlobalInterestRatePerSec()
	if err != nil {
		return nil, err
	}
	return fixedAdd(params.InterestRatePerSec, global), nil
}

// LiquidationRatio returns the effective liquidation ratio: the per-type
// value or the protocol default.
func (e *Engine) LiquidationRatio(currency CurrencyID) (*big.Int, error) {
	if !e.isCollateralCurrency(currency) {
		return nil, ErrInvalidCollateralType
	}
	params, err := e.collateralParams(currency)
	if err != nil {
		return nil, err
	}
	if params.LiquidationRatio != nil {
		return params.LiquidationRatio, nil
	}
	return e.params.DefaultLiquidationRatio, nil
}

// LiquidationPenalty returns the effective liquidation penalty rate.
func (e *Engine) LiquidationPenalty(currency CurrencyID) (*big.Int, error) {
	params, err := e.collateralParams(currency)
	if err != nil {
		return nil, err
	}
	if params.LiquidationPenalty != nil {
		return params.LiquidationPenalty, nil
	}
	return e.params.DefaultLiquidationPenalty, nil
}

// DebitExchangeRate returns the current debit-unit to debit-value conversion
// for the collateral type, falling back to the protocol default when no
// accrual has happened yet.
func (e *Engine) DebitExchangeRate(currency CurrencyID) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	rate, err := e.state.DebitExchangeRate(currency)
	if err != nil {
		return nil, err
	}
	if rate == nil {
		return e.params.DefaultDebitExchangeRate, nil
	}
	return rate, nil
}

// GetDebitValue converts debit units into debit value using the current
// exchange rate.
func (e *Engine) GetDebitValue(currency CurrencyID, debit *big.Int) (*big.Int, error) {
	rate, err := e.DebitExchangeRate(currency)
	if err != nil {
		return nil, err
	}
	return fixedMulInt(rate, debit), nil
}

// CalculateCollateralRatio derives (price * collateral) / debit value. A zero
// debit value yields the maximum representable ratio.
func (e *Engine) CalculateCollateralRatio(currency CurrencyID, collateral, debit, price *big.Int) (*big.Int, error) {
	lockedValue := fixedMulInt(price, collateral)
	debitValue, err := e.GetDebitValue(currency, debit)
	if err != nil {
		return nil, err
	}
	return ratioFromRational(lockedValue, debitValue), nil
}

// Evaluate derives the safety verdict for a position. It is pure given the
// oracle price, the stored exchange rate and the risk parameters: the
// offchain scanner and the on-chain validation/execution paths call it with
// identical inputs and must agree.
func (e *Engine) Evaluate(currency CurrencyID, collateral, debit *big.Int) Status {
	if e.prices == nil {
		return checksFailedStatus(ErrInvalidFeedPrice)
	}
	price := e.prices.GetRelativePrice(currency, e.params.StableCurrency)
	if price == nil {
		return checksFailedStatus(ErrInvalidFeedPrice)
	}
	liquidationRatio, err := e.LiquidationRatio(currency)
	if err != nil {
		return checksFailedStatus(ErrInvalidCollateralType)
	}
	ratio, err := e.CalculateCollateralRatio(currency, collateral, debit, price)
	if err != nil {
		return checksFailedStatus(err)
	}
	if ratio.Cmp(liquidationRatio) < 0 {
		return unsafeStatus()
	}
	return safeStatus()
}

// IsUnsafe reports whether the position is definitively unsafe. Missing
// prices or unresolved parameters yield false: indeterminate positions are
// never actionable.
func (e *Engine) IsUnsafe(currency CurrencyID, collateral, debit *big.Int) bool {
	return e.Evaluate(currency, collateral, debit).IsUnsafe()
}

// AdjustPosition validates the collateral type and delegates the adjustment
// to the ledger.
func (e *Engine) AdjustPosition(owner common.Address, currency CurrencyID, collateralAdjustment, debitAdjustment *big.Int) error {
	if e.ledger == nil {
		return ErrNilLedger
	}
	if !e.isCollateralCurrency(currency) {
		return ErrInvalidCollateralType
	}
	return e.ledger.AdjustLoan(owner, currency, collateralAdjustment, debitAdjustment)
}

// GetBadDebtValue converts confiscated debit units into the bad debt value
// recorded by the treasury.
func (e *Engine) GetBadDebtValue(currency CurrencyID, debit *big.Int) (*big.Int, error) {
	return e.GetDebitValue(currency, debit)
}

// CheckPositionValid enforces the risk rules the ledger consults before
// accepting a position adjustment: required ratio, liquidation ratio and the
// debit dust threshold. Positions with zero debit are always valid.
func (e *Engine) CheckPositionValid(currency CurrencyID, collateral, debit *big.Int) error {
	if debit == nil || debit.Sign() == 0 {
		return nil
	}
	debitValue, err := e.GetDebitValue(currency, debit)
	if err != nil {
		return err
	}
	if e.prices == nil {
		return ErrInvalidFeedPrice
	}
	price := e.prices.GetRelativePrice(currency, e.params.StableCurrency)
	if price == nil {
		return ErrInvalidFeedPrice
	}
	ratio, err := e.CalculateCollateralRatio(currency, collateral, debit, price)
	if err != nil {
		return err
	}
	required, err := e.RequiredCollateralRatio(currency)
	if err != nil {
		return err
	}
	if required != nil && ratio.Cmp(required) < 0 {
		return ErrBelowRequiredCollateralRatio
	}
	liquidationRatio, err := e.LiquidationRatio(currency)
	if err != nil {
		return err
	}
	if ratio.Cmp(liquidationRatio) < 0 {
		return ErrBelowLiquidationRatio
	}
	if e.params.MinimumDebitValue != nil && debitValue.Cmp(e.params.MinimumDebitValue) < 0 {
		return ErrRemainDebitValueTooSmall
	}
	return nil
}

// CheckDebitCap rejects total debit above the per-type hard cap.
func (e *Engine) CheckDebitCap(currency CurrencyID, totalDebit *big.Int) error {
	hardCap, err := e.MaximumTotalDebitValue(currency)
	if err != nil {
		return err
	}
	totalDebitValue, err := e.GetDebitValue(currency, totalDebit)
	if err != nil {
		return err
	}
	if totalDebitValue.Cmp(hardCap) > 0 {
		return ErrExceedDebitValueHardCap
	}
	return nil
}

// SetGlobalParams updates the global interest rate. Governance only.
func (e *Engine) SetGlobalParams(rate *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.state.PutGlobalInterestRatePerSec(rate); err != nil {
		return err
	}
	e.emit(NewGlobalInterestRateUpdatedEvent(rate))
	return nil
}

// SetCollateralParams applies the per-field risk parameter updates for one
// collateral type. Unknown collateral types are rejected synchronously.
// Governance only.
func (e *Engine) SetCollateralParams(currency CurrencyID, update CollateralParamsUpdate) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !e.isCollateralCurrency(currency) {
		return ErrInvalidCollateralType
	}
	params, err := e.collateralParams(currency)
	if err != nil {
		return err
	}
	if update.InterestRatePerSec.Set {
		params.InterestRatePerSec = update.InterestRatePerSec.Value
		e.emit(NewInterestRateUpdatedEvent(currency, update.InterestRatePerSec.Value))
	}
	if update.LiquidationRatio.Set {
		params.LiquidationRatio = update.LiquidationRatio.Value
		e.emit(NewLiquidationRatioUpdatedEvent(currency, update.LiquidationRatio.Value))
	}
	if update.LiquidationPenalty.Set {
		params.LiquidationPenalty = update.LiquidationPenalty.Value
		e.emit(NewLiquidationPenaltyUpdatedEvent(currency, update.LiquidationPenalty.Value))
	}
	if update.RequiredCollateralRatio.Set {
		params.RequiredCollateralRatio = update.RequiredCollateralRatio.Value
		e.emit(NewRequiredCollateralRatioUpdatedEvent(currency, update.RequiredCollateralRatio.Value))
	}
	if update.MaximumTotalDebitValue != nil {
		params.MaximumTotalDebitValue = update.MaximumTotalDebitValue
		e.emit(NewMaximumTotalDebitValueUpdatedEvent(currency, update.MaximumTotalDebitValue))
	}
	return e.state.PutCollateralParams(currency, params)
}

// RegisterLiquidationContract appends a contract to the bounded, ordered list
// consumed by the contract disposal strategy. Governance only.
func (e *Engine) RegisterLiquidationContract(contract common.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	contracts, err := e.state.LiquidationContracts()
	if err != nil {
		return err
	}
	if e.params.MaxLiquidationContracts > 0 && uint32(len(contracts)) >= e.params.MaxLiquidationContracts {
		return ErrTooManyLiquidationContracts
	}
	for _, existing := range contracts {
		if existing == contract {
			return nil
		}
	}
	contracts = append(contracts, contract)
	if err := e.state.PutLiquidationContracts(contracts); err != nil {
		return err
	}
	e.emit(NewLiquidationContractRegisteredEvent(contract))
	return nil
}

// DeregisterLiquidationContract removes a contract from the list. Governance
// only.
func (e *Engine) DeregisterLiquidationContract(contract common.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	contracts, err := e.state.LiquidationContracts()
	if err != nil {
		return err
	}
	kept := contracts[:0]
	found := false
	for _, existing := range contracts {
		if existing == contract {
			found = true
			continue
		}
		kept = append(kept, existing)
	}
	if !found {
		return ErrContractNotRegistered
	}
	if err := e.state.PutLiquidationContracts(kept); err != nil {
		return err
	}
	e.emit(NewLiquidationContractDeregisteredEvent(contract))
	return nil
}
