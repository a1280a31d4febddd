package position

import (
	"testing"

	"github.com/nebulalend/api/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Lifecycle(t *testing.T) {
	src := marketPrices()
	m := NewManager(Deps{Engine: risk.DefaultEngine(), Prices: src, Tokens: catalogue()})

	var changed []string
	m.OnChange(func(s Snapshot) { changed = append(changed, s.ID) })
	var closed []string
	m.OnClose(func(id string) { closed = append(closed, id) })

	store := m.Create()
	assert.Equal(t, 1, m.Count())

	got, err := m.Get(store.ID())
	require.NoError(t, err)
	assert.Same(t, store, got)
	assert.True(t, m.Exists(store.ID()))
	assert.False(t, m.Exists("unknown"))

	require.NoError(t, store.SetDebtAmount("10"))
	assert.Equal(t, []string{store.ID()}, changed)

	fill(t, store, "ETH", "1", "USDC", "1000")
	require.NoError(t, m.Close(store.ID()))
	assert.Equal(t, []string{store.ID()}, closed)
	assert.Empty(t, store.Subscriptions())

	_, err = m.Get(store.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, m.Exists(store.ID()))
	assert.ErrorIs(t, m.Close(store.ID()), ErrSessionNotFound)

	before := len(changed)
	src.Set("ETH", decimal.NewFromInt(1000))
	assert.Len(t, changed, before)
}

func TestManager_CloseAll(t *testing.T) {
	m := NewManager(Deps{Prices: marketPrices(), Tokens: catalogue()})
	m.Create()
	m.Create()
	require.Equal(t, 2, m.Count())

	m.CloseAll()
	assert.Equal(t, 0, m.Count())
}
