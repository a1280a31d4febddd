package position

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/nebulalend/api/internal/metrics"
	"github.com/nebulalend/api/internal/models"
	"github.com/nebulalend/api/internal/price"
	"github.com/nebulalend/api/internal/risk"
	"github.com/nebulalend/api/internal/token"
	"github.com/nebulalend/api/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Tokens is the slice of the token catalogue the store depends on
type Tokens interface {
	GetTokenBySymbol(symbol string) (*models.Token, error)
	ResolveDebtToken(collateralSymbol, debtSymbol string) (*models.Token, error)
	DebtCandidates(collateralSymbol string) ([]*models.Token, error)
}

// Listener is called with a snapshot after every recomputation
type Listener func(Snapshot)

// Deps are the collaborators shared by every store
type Deps struct {
	Engine  *risk.Engine
	Prices  price.Source
	Tokens  Tokens
	Metrics *metrics.Metrics
}

// Store holds one position and keeps its assessment current. Every edit
// and every price tick of a referenced token recomputes the assessment
// under the store lock.
type Store struct {
	id   string
	deps Deps

	mu         sync.Mutex
	pos        Position
	collateral *models.Token
	debt       *models.Token
	quotes     map[string]decimal.Decimal
	subs       map[string]func()
	watching   map[string]int
	seq        uint64
	seen       map[string]uint64
	snapshot   Snapshot
	closed     bool

	listenMu  sync.RWMutex
	listeners []Listener

	// emitMu serializes delivery so listeners observe increasing versions
	emitMu  sync.Mutex
	emitted uint64
}

// read is a price fetched outside the store lock. It is discarded when a
// tick for the same symbol arrived after the read started.
type read struct {
	symbol string
	price  decimal.Decimal
	ok     bool
	since  uint64
}

// NewStore creates an empty position
func NewStore(id string, deps Deps) *Store {
	if deps.Engine == nil {
		deps.Engine = risk.DefaultEngine()
	}
	s := &Store{
		id:       id,
		deps:     deps,
		quotes:   make(map[string]decimal.Decimal),
		subs:     make(map[string]func()),
		watching: make(map[string]int),
		seen:     make(map[string]uint64),
	}
	s.mu.Lock()
	s.recomputeLocked()
	s.mu.Unlock()
	return s
}

// ID returns the session id of the position
func (s *Store) ID() string {
	return s.id
}

// OnChange registers a listener for recomputed snapshots
func (s *Store) OnChange(l Listener) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Snapshot returns the latest position and assessment together
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Assessment returns the latest health assessment
func (s *Store) Assessment() risk.HealthAssessment {
	return s.Snapshot().Assessment
}

// State returns the current lifecycle stage
func (s *Store) State() State {
	return s.Snapshot().State
}

// Position returns a copy of the current position
func (s *Store) Position() Position {
	return s.Snapshot().Position
}

// SetCollateralToken selects the collateral; an empty symbol clears it.
// A debt token equal to the new collateral is cleared.
func (s *Store) SetCollateralToken(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return s.mutate(func() error {
			s.collateral = nil
			s.pos.CollateralToken = ""
			return nil
		})
	}

	tok, err := s.deps.Tokens.GetTokenBySymbol(symbol)
	if err != nil {
		return err
	}
	reads, err := s.lookup(ctx, tok.Symbol)
	if err != nil {
		return err
	}

	return s.mutate(func() error {
		s.settleLocked(reads)
		s.collateral = tok
		s.pos.CollateralToken = tok.Symbol
		if s.debt != nil && s.debt.Symbol == tok.Symbol {
			s.debt = nil
			s.pos.DebtToken = ""
		}
		return nil
	})
}

// SetDebtToken selects the debt token from the collateral-excluded
// candidates; an empty symbol clears it
func (s *Store) SetDebtToken(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return s.mutate(func() error {
			s.debt = nil
			s.pos.DebtToken = ""
			return nil
		})
	}

	tok, err := s.resolveDebt(s.Position().CollateralToken, symbol)
	if err != nil {
		return err
	}
	reads, err := s.lookup(ctx, tok.Symbol)
	if err != nil {
		return err
	}

	return s.mutate(func() error {
		s.settleLocked(reads)
		if s.pos.CollateralToken == tok.Symbol {
			return fmt.Errorf("%w: %s", token.ErrSameToken, tok.Symbol)
		}
		s.debt = tok
		s.pos.DebtToken = tok.Symbol
		return nil
	})
}

// SetCollateralAmount parses and stores the collateral amount. Invalid
// input clears the field and returns risk.ErrInvalidAmount.
func (s *Store) SetCollateralAmount(raw string) error {
	amount, err := ParseAmount(raw)
	return s.mutate(func() error {
		s.pos.CollateralAmount = amount
		return err
	})
}

// SetDebtAmount parses and stores the debt amount. Invalid input clears
// the field and returns risk.ErrInvalidAmount.
func (s *Store) SetDebtAmount(raw string) error {
	amount, err := ParseAmount(raw)
	return s.mutate(func() error {
		s.pos.DebtAmount = amount
		return err
	})
}

// Apply performs a partial edit field by field and returns the resulting
// snapshot with every field error joined
func (s *Store) Apply(ctx context.Context, patch Patch) (Snapshot, error) {
	var errs []error
	if patch.CollateralToken != nil {
		errs = append(errs, s.SetCollateralToken(ctx, *patch.CollateralToken))
	}
	if patch.DebtToken != nil {
		errs = append(errs, s.SetDebtToken(ctx, *patch.DebtToken))
	}
	if patch.CollateralAmount != nil {
		errs = append(errs, s.SetCollateralAmount(*patch.CollateralAmount))
	}
	if patch.DebtAmount != nil {
		errs = append(errs, s.SetDebtAmount(*patch.DebtAmount))
	}
	return s.Snapshot(), errors.Join(errs...)
}

// Restore replaces the whole position, e.g. from a serialized copy.
// Nothing changes unless the restored position is valid.
func (s *Store) Restore(ctx context.Context, p Position) (Snapshot, error) {
	if p.CollateralAmount.Valid && p.CollateralAmount.Decimal.IsNegative() {
		return s.Snapshot(), fmt.Errorf("%w: collateral amount %s", risk.ErrInvalidAmount, p.CollateralAmount.Decimal)
	}
	if p.DebtAmount.Valid && p.DebtAmount.Decimal.IsNegative() {
		return s.Snapshot(), fmt.Errorf("%w: debt amount %s", risk.ErrInvalidAmount, p.DebtAmount.Decimal)
	}
	if p.Wallet.Connected {
		if !common.IsHexAddress(p.Wallet.Address) {
			return s.Snapshot(), fmt.Errorf("%w: malformed address %q", wallet.ErrWalletUnavailable, p.Wallet.Address)
		}
		p.Wallet.Address = common.HexToAddress(p.Wallet.Address).Hex()
	} else {
		p.Wallet = wallet.State{}
	}

	var collateral, debt *models.Token
	var err error
	if p.CollateralToken != "" {
		if collateral, err = s.deps.Tokens.GetTokenBySymbol(p.CollateralToken); err != nil {
			return s.Snapshot(), err
		}
		p.CollateralToken = collateral.Symbol
	}
	if p.DebtToken != "" {
		if debt, err = s.resolveDebt(p.CollateralToken, p.DebtToken); err != nil {
			return s.Snapshot(), err
		}
		p.DebtToken = debt.Symbol
	}

	reads, err := s.lookup(ctx, p.CollateralToken, p.DebtToken)
	if err != nil {
		return s.Snapshot(), err
	}

	err = s.mutate(func() error {
		s.settleLocked(reads)
		s.pos = p
		s.collateral = collateral
		s.debt = debt
		return nil
	})
	return s.Snapshot(), err
}

// SetWallet records a wallet connection result
func (s *Store) SetWallet(state wallet.State) error {
	return s.mutate(func() error {
		s.pos.Wallet = state
		return nil
	})
}

// DisconnectWallet resets the wallet to disconnected
func (s *Store) DisconnectWallet() error {
	return s.SetWallet(wallet.State{})
}

// DebtCandidates lists the tokens that may be borrowed against the
// current collateral
func (s *Store) DebtCandidates() ([]*models.Token, error) {
	return s.deps.Tokens.DebtCandidates(s.Position().CollateralToken)
}

// Submit re-evaluates the position with the prices current at this moment
// and, when the wallet is connected and the gate allows, returns a receipt
// and discards the position. The wallet stays connected.
func (s *Store) Submit(ctx context.Context) (*Receipt, error) {
	current := s.Position()
	if !current.Wallet.Connected {
		s.recordSubmission("rejected")
		return nil, ErrWalletNotConnected
	}

	reads, err := s.lookup(ctx, current.CollateralToken, current.DebtToken)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.settleLocked(reads)
	s.syncSubscriptionsLocked()
	snap := s.recomputeLocked()

	if !s.pos.Wallet.Connected {
		s.mu.Unlock()
		s.emit(snap)
		s.recordSubmission("rejected")
		return nil, ErrWalletNotConnected
	}
	if !snap.Decision.Allowed {
		s.mu.Unlock()
		s.emit(snap)
		s.recordSubmission("blocked")
		return nil, fmt.Errorf("%w: %s", ErrSubmissionBlocked, snap.Decision.Reason)
	}

	receipt := &Receipt{
		ID:          uuid.NewString(),
		PositionID:  s.id,
		Position:    s.pos,
		Assessment:  snap.Assessment,
		SubmittedAt: time.Now(),
	}

	s.pos = Position{Wallet: s.pos.Wallet}
	s.collateral = nil
	s.debt = nil
	s.syncSubscriptionsLocked()
	snap = s.recomputeLocked()
	s.mu.Unlock()

	s.emit(snap)
	s.recordSubmission("accepted")
	logrus.WithFields(logrus.Fields{
		"position_id":   s.id,
		"receipt_id":    receipt.ID,
		"health_factor": receipt.Assessment.HealthRatio.StringFixed(2),
	}).Info("Position submitted")
	return receipt, nil
}

// Close disposes every price subscription. Further edits fail with
// ErrStoreClosed.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for symbol, dispose := range s.subs {
		dispose()
		delete(s.subs, symbol)
	}
	s.mu.Unlock()

	s.listenMu.Lock()
	s.listeners = nil
	s.listenMu.Unlock()
}

// Subscriptions returns the symbols the store currently listens to
func (s *Store) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for symbol := range s.subs {
		out = append(out, symbol)
	}
	return out
}

func (s *Store) mutate(fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	err := fn()
	s.syncSubscriptionsLocked()
	snap := s.recomputeLocked()
	s.mu.Unlock()

	s.emit(snap)
	return err
}

// emit delivers snap unless a newer snapshot has already gone out
func (s *Store) emit(snap Snapshot) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if snap.Version <= s.emitted {
		return
	}
	s.emitted = snap.Version

	s.listenMu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenMu.RUnlock()

	for _, l := range listeners {
		l(snap)
	}
}

func (s *Store) onQuote(q price.Quote) {
	s.mu.Lock()
	if _, ok := s.subs[q.Symbol]; s.closed || !ok {
		s.mu.Unlock()
		return
	}
	s.seq++
	s.seen[q.Symbol] = s.seq
	s.setQuoteLocked(q.Symbol, q.Price, q.Price.IsPositive())
	if !s.referencedLocked(q.Symbol) {
		s.mu.Unlock()
		return
	}
	snap := s.recomputeLocked()
	s.mu.Unlock()

	s.emit(snap)
}

// lookup subscribes to each symbol before reading its price, so a tick
// landing while the read is in flight is kept. The reads must be passed
// to settleLocked.
func (s *Store) lookup(ctx context.Context, symbols ...string) ([]read, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	since := s.seq
	var watched []string
	for _, symbol := range symbols {
		if symbol == "" {
			continue
		}
		watched = append(watched, symbol)
		s.watching[symbol]++
		s.subscribeLocked(symbol)
	}
	s.mu.Unlock()

	reads := make([]read, 0, len(watched))
	for _, symbol := range watched {
		p, ok, err := s.fetch(ctx, symbol)
		if err != nil {
			s.mu.Lock()
			s.unwatchLocked(watched)
			s.syncSubscriptionsLocked()
			s.mu.Unlock()
			return nil, err
		}
		reads = append(reads, read{symbol: symbol, price: p, ok: ok, since: since})
	}
	return reads, nil
}

// settleLocked applies each read that no newer tick has superseded
func (s *Store) settleLocked(reads []read) {
	symbols := make([]string, 0, len(reads))
	for _, r := range reads {
		symbols = append(symbols, r.symbol)
		if s.seen[r.symbol] > r.since {
			continue
		}
		s.setQuoteLocked(r.symbol, r.price, r.ok)
	}
	s.unwatchLocked(symbols)
}

func (s *Store) unwatchLocked(symbols []string) {
	for _, symbol := range symbols {
		s.watching[symbol]--
		if s.watching[symbol] <= 0 {
			delete(s.watching, symbol)
		}
	}
}

// fetch resolves a price outside the store lock. Unknown symbols are
// reported as unavailable rather than as an error.
func (s *Store) fetch(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	if s.deps.Prices == nil {
		return decimal.Zero, false, nil
	}
	q, err := s.deps.Prices.GetPrice(ctx, symbol)
	switch {
	case err == nil:
		return q.Price, q.Price.IsPositive(), nil
	case errors.Is(err, price.ErrUnknownSymbol):
		return decimal.Zero, false, nil
	case ctx.Err() != nil:
		return decimal.Zero, false, ctx.Err()
	}
	logrus.WithError(err).WithField("symbol", symbol).Warn("Price lookup failed")
	return decimal.Zero, false, nil
}

func (s *Store) resolveDebt(collateral, debt string) (*models.Token, error) {
	if collateral == "" {
		return s.deps.Tokens.GetTokenBySymbol(debt)
	}
	return s.deps.Tokens.ResolveDebtToken(collateral, debt)
}

func (s *Store) referencedLocked(symbol string) bool {
	return symbol != "" && (symbol == s.pos.CollateralToken || symbol == s.pos.DebtToken)
}

func (s *Store) setQuoteLocked(symbol string, p decimal.Decimal, ok bool) {
	if ok {
		s.quotes[symbol] = p
	} else {
		delete(s.quotes, symbol)
	}
}

// syncSubscriptionsLocked keeps exactly one subscription per referenced
// or watched symbol
func (s *Store) syncSubscriptionsLocked() {
	for symbol, dispose := range s.subs {
		if !s.referencedLocked(symbol) && s.watching[symbol] == 0 {
			dispose()
			delete(s.subs, symbol)
			delete(s.quotes, symbol)
		}
	}
	for _, symbol := range []string{s.pos.CollateralToken, s.pos.DebtToken} {
		if symbol != "" {
			s.subscribeLocked(symbol)
		}
	}
}

func (s *Store) subscribeLocked(symbol string) {
	if s.deps.Prices == nil {
		return
	}
	if _, ok := s.subs[symbol]; ok {
		return
	}
	dispose, err := s.deps.Prices.Subscribe(symbol, s.onQuote)
	if err != nil {
		logrus.WithError(err).WithField("symbol", symbol).Debug("No price feed for token")
		return
	}
	s.subs[symbol] = dispose
}

func (s *Store) recomputeLocked() Snapshot {
	engine := s.deps.Engine
	priceOf := func(symbol string) (decimal.Decimal, error) {
		p, ok := s.quotes[symbol]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %q", price.ErrUnknownSymbol, symbol)
		}
		return p, nil
	}

	a, err := engine.ComputeHealth(s.pos.Amounts(), s.collateral.Asset(), s.debt.Asset(), priceOf)
	if err != nil {
		logrus.WithError(err).WithField("position_id", s.id).Error("Health computation rejected position")
		a = risk.HealthAssessment{
			CollateralValue: decimal.Zero,
			DebtValue:       decimal.Zero,
			MaxDebtValue:    decimal.Zero,
			HealthRatio:     risk.SentinelRatio,
			Severity:        risk.SeveritySafe,
		}
	}
	decision := engine.Gate(a)

	state := StateBlocked
	switch {
	case s.pos.IsEmpty():
		state = StateEmpty
	case !s.pos.Complete():
		state = StatePartiallyFilled
	case decision.Allowed:
		state = StateSafeToSubmit
	}

	s.snapshot = Snapshot{
		ID:         s.id,
		Position:   s.pos,
		State:      state,
		Assessment: a,
		Decision:   decision,
		Alert:      engine.AlertFor(a),
		Version:    s.snapshot.Version + 1,
		UpdatedAt:  time.Now(),
	}

	if s.deps.Metrics != nil {
		label := string(a.Severity)
		if !a.Evaluable {
			label = "unevaluable"
		}
		s.deps.Metrics.Assessment(label)
	}
	return s.snapshot
}

func (s *Store) recordSubmission(outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.Submission(outcome)
	}
}
