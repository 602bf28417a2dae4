package guard

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holdwatch/holdwatch/internal/domain"
)

func newTestManager(t *testing.T, pct string, cooldown time.Duration) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		TrailingStopPct: decimal.RequireFromString(pct),
		Cooldown:        cooldown,
	})
	require.NoError(t, err)
	return m
}

func TestManager_RejectsBadPct(t *testing.T) {
	_, err := NewManager(Config{TrailingStopPct: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewManager(Config{TrailingStopPct: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewManager(Config{TrailingStopPct: decimal.RequireFromString("-0.1")})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestManager_TrailingStopBreach(t *testing.T) {
	m := newTestManager(t, "0.10", 0)

	require.NoError(t, m.Init("CRO", decimal.NewFromInt(100)))

	// rally raises the peak, no breach
	assert.False(t, m.Update("CRO", decimal.NewFromInt(120)))

	// 110 is an 8.3% retreat from 120, inside the trail
	assert.False(t, m.Update("CRO", decimal.NewFromInt(110)))

	// 108 is exactly 10% below the 120 peak
	assert.True(t, m.Update("CRO", decimal.NewFromInt(108)))

	st, ok := m.State("CRO")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(120).Equal(st.PeakPrice), "peak must not fall on retreat")
	assert.True(t, decimal.NewFromInt(100).Equal(st.EntryPrice))
}

func TestManager_BreachFiresOncePerEvent(t *testing.T) {
	m := newTestManager(t, "0.10", 0)

	require.NoError(t, m.Init("CRO", decimal.NewFromInt(100)))
	require.True(t, m.Update("CRO", decimal.NewFromInt(85)))

	assert.False(t, m.Update("CRO", decimal.NewFromInt(84)), "repeat breach must not re-alert")
	assert.False(t, m.Update("CRO", decimal.NewFromInt(80)))

	// a new peak restarts the trail
	assert.False(t, m.Update("CRO", decimal.NewFromInt(200)))
	assert.True(t, m.Update("CRO", decimal.NewFromInt(170)), "new peak re-arms the trail")
}

func TestManager_CooldownSuppressesRepeatAlerts(t *testing.T) {
	m := newTestManager(t, "0.10", 30*time.Minute)

	base := time.Now()
	m.now = func() time.Time { return base }

	require.NoError(t, m.Init("CRO", decimal.NewFromInt(100)))
	require.True(t, m.Update("CRO", decimal.NewFromInt(85)))

	// new peak, new breach, but still inside the cooldown window
	m.now = func() time.Time { return base.Add(10 * time.Minute) }
	assert.False(t, m.Update("CRO", decimal.NewFromInt(200)))
	assert.False(t, m.Update("CRO", decimal.NewFromInt(170)), "cooldown must suppress the alert")

	m.now = func() time.Time { return base.Add(31 * time.Minute) }
	assert.True(t, m.Update("CRO", decimal.NewFromInt(170)), "alert fires after cooldown")
}

func TestManager_UnarmedAssetNeverBreaches(t *testing.T) {
	m := newTestManager(t, "0.10", 0)

	assert.False(t, m.Update("CRO", decimal.NewFromInt(1)))
	assert.False(t, m.Armed("CRO"))

	_, ok := m.State("CRO")
	assert.False(t, ok)
}

func TestManager_InitRequiresPositiveEntryPrice(t *testing.T) {
	m := newTestManager(t, "0.10", 0)

	err := m.Init("CRO", decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.False(t, m.Armed("CRO"), "guard must never arm from a zero price")
}

func TestManager_IgnoresNonPositivePrices(t *testing.T) {
	m := newTestManager(t, "0.10", 0)

	require.NoError(t, m.Init("CRO", decimal.NewFromInt(100)))
	assert.False(t, m.Update("CRO", decimal.Zero))
	assert.False(t, m.Update("CRO", decimal.NewFromInt(-5)))

	st, ok := m.State("CRO")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(100).Equal(st.PeakPrice), "bad tick must not move the peak")
}

func TestManager_ResetDisarms(t *testing.T) {
	m := newTestManager(t, "0.10", 0)

	require.NoError(t, m.Init("cro", decimal.NewFromInt(100)))
	assert.True(t, m.Armed("CRO"), "symbols are canonical")

	m.Reset("CRO")
	assert.False(t, m.Armed("CRO"))
	assert.False(t, m.Update("CRO", decimal.NewFromInt(1)))
}
