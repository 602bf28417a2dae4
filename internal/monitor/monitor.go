// Package monitor runs the polling loops around the core: it pulls
// live balances and prices, reconciles holdings, feeds guard state and
// pushes breach alerts to the sink. All network calls happen outside
// any core lock; only applying their results is a critical section.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/holdwatch/holdwatch/internal/book"
	"github.com/holdwatch/holdwatch/internal/domain"
	"github.com/holdwatch/holdwatch/internal/guard"
	"github.com/holdwatch/holdwatch/internal/holdings"
	"github.com/holdwatch/holdwatch/internal/pricecache"
)

// BalanceFeed reads live on-chain balances. The core never performs
// the network call itself.
type BalanceFeed interface {
	FetchBalances(ctx context.Context, wallet string) (map[string]decimal.Decimal, error)
}

// AlertSink accepts plain breach/report text. Formatting, chunking and
// delivery are entirely the collaborator's concern.
type AlertSink interface {
	Notify(ctx context.Context, text string) error
}

// LogSink is the default sink: alerts go to the structured log.
type LogSink struct {
	L *zap.Logger
}

func (s LogSink) Notify(_ context.Context, text string) error {
	s.L.Info("alert", zap.String("text", text))
	return nil
}

// Status is the monitor's health view: when it last polled, whether
// that worked and when holdings were last reconciled.
type Status struct {
	LastPollAt      time.Time
	LastPollOK      bool
	LastError       string
	LastReconcileAt time.Time
}

type Config struct {
	Wallet              string
	BalancePollInterval time.Duration
	PricePollInterval   time.Duration
}

// Monitor owns the run loops and the mutable poll state. Shared core
// state lives behind the book, cache and guard contracts; nothing here
// reaches into their internals.
type Monitor struct {
	cfg        Config
	book       *book.Book
	cache      *pricecache.Cache
	guards     *guard.Manager
	reconciler *holdings.Reconciler
	feed       BalanceFeed
	sink       AlertSink
	l          *zap.Logger

	mu           sync.Mutex
	status       Status
	lastBalances map[string]decimal.Decimal
	seenTx       map[string]struct{}
}

func New(cfg Config, b *book.Book, cache *pricecache.Cache, guards *guard.Manager,
	reconciler *holdings.Reconciler, feed BalanceFeed, sink AlertSink, l *zap.Logger) *Monitor {

	if cfg.BalancePollInterval <= 0 {
		cfg.BalancePollInterval = time.Minute
	}
	if cfg.PricePollInterval <= 0 {
		cfg.PricePollInterval = 30 * time.Second
	}

	return &Monitor{
		cfg:          cfg,
		book:         b,
		cache:        cache,
		guards:       guards,
		reconciler:   reconciler,
		feed:         feed,
		sink:         sink,
		l:            l,
		lastBalances: make(map[string]decimal.Decimal),
		seenTx:       make(map[string]struct{}),
	}
}

// Initialize rebuilds derived state from the ledger and remembers the
// txids already recorded, so re-delivered transaction events are
// dropped instead of double-counted.
func (m *Monitor) Initialize(ctx context.Context) error {
	positions, err := m.book.RebuildState()
	if err != nil {
		return errors.Wrap(err, "rebuild state")
	}

	entries, err := m.book.Entries("")
	if err != nil {
		return errors.Wrap(err, "load ledger history")
	}

	m.mu.Lock()
	for _, e := range entries {
		if e.TxID != "" {
			m.seenTx[e.TxID] = struct{}{}
		}
	}
	m.mu.Unlock()

	// arm guards for assets the ledger says we hold
	for asset, pos := range positions {
		if pos.NetQty.IsPositive() && pos.AvgCost.IsPositive() {
			if err := m.guards.Init(asset, pos.AvgCost); err != nil {
				m.l.Warn("failed to arm guard", zap.String("asset", asset), zap.Error(err))
			}
		}
	}

	m.l.Info("monitor initialized",
		zap.Int("ledger_entries", len(entries)),
		zap.Int("assets", len(positions)))
	return nil
}

// IngestTransaction records one observed wallet transaction. Events
// are deduplicated by txid; a first buy arms the asset's guard at its
// entry price and a full disposal disarms it.
func (m *Monitor) IngestTransaction(ctx context.Context, draft domain.EntryDraft) (domain.LedgerEntry, error) {
	draft = draft.Canonical()

	if draft.TxID != "" {
		m.mu.Lock()
		if _, dup := m.seenTx[draft.TxID]; dup {
			m.mu.Unlock()
			return domain.LedgerEntry{}, errors.Wrapf(domain.ErrValidation, "duplicate txid %s", draft.TxID)
		}
		m.seenTx[draft.TxID] = struct{}{}
		m.mu.Unlock()
	}

	entry, err := m.book.AppendTransaction(ctx, draft)
	if err != nil {
		if draft.TxID != "" {
			m.mu.Lock()
			delete(m.seenTx, draft.TxID)
			m.mu.Unlock()
		}
		return domain.LedgerEntry{}, err
	}

	// the trade price is a real observation, keep it as fallback
	if entry.PriceUSD.IsPositive() {
		m.cache.SetHint(entry.Asset, entry.PriceUSD)
	}

	switch entry.Side {
	case domain.SideBuy:
		if !m.guards.Armed(entry.Asset) {
			if err := m.guards.Init(entry.Asset, entry.PriceUSD); err != nil {
				m.l.Warn("failed to arm guard", zap.String("asset", entry.Asset), zap.Error(err))
			}
		}
	case domain.SideSell:
		if pos, ok := m.book.Position(entry.Asset); ok && pos.NetQty.IsZero() {
			m.guards.Reset(entry.Asset)
		}
	}

	return entry, nil
}

// Snapshot reconciles the supplied live balances against ledger
// positions and cached prices. Quantity of record comes from the
// balances argument alone.
func (m *Monitor) Snapshot(ctx context.Context, balances map[string]decimal.Decimal) []domain.AssetSnapshot {
	positions := m.book.Positions()

	prices := make(map[string]domain.PriceQuote)
	for _, sym := range symbolUnion(balances, positions) {
		quote, err := m.cache.Get(ctx, sym)
		if err != nil {
			// reconciliation degrades per asset, it never fails whole
			m.l.Debug("no price for snapshot", zap.String("asset", sym), zap.Error(err))
			continue
		}
		prices[sym] = quote
	}

	snapshots := m.reconciler.Reconcile(balances, positions, prices)

	m.mu.Lock()
	m.status.LastReconcileAt = time.Now()
	m.mu.Unlock()

	return snapshots
}

// EvaluateGuard feeds one price into the asset's trailing-stop guard
// and pushes an alert on breach.
func (m *Monitor) EvaluateGuard(ctx context.Context, asset string, price decimal.Decimal) bool {
	breached := m.guards.Update(asset, price)
	if !breached {
		return false
	}

	st, _ := m.guards.State(asset)
	ev := domain.BreachEvent{
		ID:        uuid.New().String(),
		Asset:     st.Asset,
		Price:     price,
		PeakPrice: st.PeakPrice,
		At:        time.Now(),
	}

	text := fmt.Sprintf("trailing stop breached: %s at %s (peak %s, trail %s%%)",
		ev.Asset, ev.Price, ev.PeakPrice,
		st.TrailingStopPct.Mul(decimal.NewFromInt(100)))

	if err := m.sink.Notify(ctx, text); err != nil {
		m.l.Error("failed to deliver breach alert",
			zap.String("asset", ev.Asset),
			zap.String("event_id", ev.ID),
			zap.Error(err))
	}

	m.l.Info("guard breach",
		zap.String("asset", ev.Asset),
		zap.String("event_id", ev.ID),
		zap.String("price", ev.Price.String()),
		zap.String("peak", ev.PeakPrice.String()))

	return true
}

// Status returns the monitor's poll health.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

// Run starts the balance and price loops and blocks until ctx is
// canceled. New work stops on cancellation; in-flight critical
// sections finish.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.balanceLoop(ctx) })
	g.Go(func() error { return m.priceLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Monitor) balanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.BalancePollInterval)
	defer ticker.Stop()

	m.l.Info("balance loop started",
		zap.String("wallet", m.cfg.Wallet),
		zap.Duration("interval", m.cfg.BalancePollInterval))

	for {
		select {
		case <-ctx.Done():
			m.l.Info("balance loop stopped")
			return ctx.Err()
		case <-ticker.C:
			m.pollBalancesOnce(ctx)
		}
	}
}

func (m *Monitor) pollBalancesOnce(ctx context.Context) {
	balances, err := m.feed.FetchBalances(ctx, m.cfg.Wallet)

	m.mu.Lock()
	m.status.LastPollAt = time.Now()
	m.status.LastPollOK = err == nil
	if err != nil {
		m.status.LastError = err.Error()
	} else {
		m.status.LastError = ""
		m.lastBalances = balances
	}
	m.mu.Unlock()

	if err != nil {
		m.l.Error("balance poll failed", zap.Error(err))
		return
	}

	snapshots := m.Snapshot(ctx, balances)
	total, unpriced := holdings.TotalValueUSD(snapshots)
	m.l.Info("holdings reconciled",
		zap.Int("assets", len(snapshots)),
		zap.Int("unpriced", unpriced),
		zap.String("total_usd", total.StringFixed(2)))
}

func (m *Monitor) priceLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PricePollInterval)
	defer ticker.Stop()

	m.l.Info("price loop started", zap.Duration("interval", m.cfg.PricePollInterval))

	for {
		select {
		case <-ctx.Done():
			m.l.Info("price loop stopped")
			return ctx.Err()
		case <-ticker.C:
			m.evaluateGuardsOnce(ctx)
		}
	}
}

// evaluateGuardsOnce refreshes prices for guarded assets and feeds
// them into the trailing stops. The price fetch happens through the
// cache, never under a guard lock.
func (m *Monitor) evaluateGuardsOnce(ctx context.Context) {
	m.mu.Lock()
	balances := make(map[string]decimal.Decimal, len(m.lastBalances))
	for sym, qty := range m.lastBalances {
		balances[sym] = qty
	}
	m.mu.Unlock()

	for _, sym := range symbolUnion(balances, m.book.Positions()) {
		if !m.guards.Armed(sym) {
			continue
		}
		quote, err := m.cache.Get(ctx, sym)
		if err != nil || quote.Stale {
			// a stale price must not fire a stop
			continue
		}
		m.EvaluateGuard(ctx, sym, quote.PriceUSD)
	}
}

func symbolUnion(balances map[string]decimal.Decimal, positions map[string]domain.AssetPosition) []string {
	set := make(map[string]struct{}, len(balances)+len(positions))
	for sym := range balances {
		set[sym] = struct{}{}
	}
	for sym := range positions {
		set[sym] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	return out
}
