// Package guard tracks trailing stops per asset: the peak price since
// entry and whether the current price has retreated far enough below
// it to warrant an alert.
package guard

import (
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/holdwatch/holdwatch/internal/domain"
)

type Config struct {
	// TrailingStopPct is the fractional drop from peak that triggers a
	// breach, e.g. 0.10 for 10%.
	TrailingStopPct decimal.Decimal
	// Cooldown suppresses repeat alerts for the same asset.
	Cooldown time.Duration
}

type state struct {
	mu          sync.Mutex
	entryPrice  decimal.Decimal
	peakPrice   decimal.Decimal
	lastAlertAt time.Time
	breached    bool
}

// Manager owns one guard per asset. Each guard has its own lock so
// updates for different assets never block each other.
type Manager struct {
	cfg    Config
	mu     sync.RWMutex
	guards map[string]*state

	// now is swappable in tests.
	now func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	one := decimal.NewFromInt(1)
	if !cfg.TrailingStopPct.IsPositive() || cfg.TrailingStopPct.GreaterThanOrEqual(one) {
		return nil, errors.Wrapf(domain.ErrValidation,
			"trailing stop pct must be in (0,1), got %s", cfg.TrailingStopPct)
	}
	return &Manager{
		cfg:    cfg,
		guards: make(map[string]*state),
		now:    time.Now,
	}, nil
}

// Init arms the guard for an asset from a real entry price. The peak
// starts at the entry price; a guard is never armed from a zero or
// default value.
func (m *Manager) Init(asset string, entryPrice decimal.Decimal) error {
	if !entryPrice.IsPositive() {
		return errors.Wrapf(domain.ErrValidation, "entry price must be positive, got %s", entryPrice)
	}
	asset = canonical(asset)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.guards[asset] = &state{entryPrice: entryPrice, peakPrice: entryPrice}
	return nil
}

// Update feeds a price observation and reports whether the trailing
// stop breached. A breach fires at most once per event: further
// updates return false until the guard is reset or a new peak restarts
// the trail, and never inside the cooldown window. Updates for assets
// without an armed guard are ignored.
func (m *Manager) Update(asset string, price decimal.Decimal) bool {
	if !price.IsPositive() {
		return false
	}

	m.mu.RLock()
	st, ok := m.guards[canonical(asset)]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if price.GreaterThan(st.peakPrice) {
		st.peakPrice = price
		st.breached = false
		return false
	}

	threshold := st.peakPrice.Mul(decimal.NewFromInt(1).Sub(m.cfg.TrailingStopPct))
	if price.GreaterThan(threshold) {
		return false
	}

	now := m.now()
	if st.breached {
		return false
	}
	if !st.lastAlertAt.IsZero() && now.Sub(st.lastAlertAt) < m.cfg.Cooldown {
		return false
	}

	st.lastAlertAt = now
	st.breached = true
	return true
}

// Reset disarms the guard for an asset.
func (m *Manager) Reset(asset string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.guards, canonical(asset))
}

// State returns the exported guard state for an asset.
func (m *Manager) State(asset string) (domain.GuardState, bool) {
	m.mu.RLock()
	st, ok := m.guards[canonical(asset)]
	m.mu.RUnlock()
	if !ok {
		return domain.GuardState{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	return domain.GuardState{
		Asset:           canonical(asset),
		EntryPrice:      st.entryPrice,
		PeakPrice:       st.peakPrice,
		TrailingStopPct: m.cfg.TrailingStopPct,
		LastAlertAt:     st.lastAlertAt,
	}, true
}

// Armed reports whether a guard exists for the asset.
func (m *Manager) Armed(asset string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.guards[canonical(asset)]
	return ok
}

func canonical(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
