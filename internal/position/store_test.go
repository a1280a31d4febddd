package position

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nebulalend/api/internal/risk"
	"github.com/nebulalend/api/internal/token"
	"github.com/nebulalend/api/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var connected = wallet.State{
	Connected: true,
	Provider:  wallet.MetaMask,
	Address:   common.HexToAddress(wallet.MockAddress).Hex(),
	Balance:   decimal.RequireFromString("1.5"),
}

func TestStore_SafePosition(t *testing.T) {
	s := newTestStore(t, marketPrices())
	fill(t, s, "ETH", "1", "USDC", "1000")

	snap := s.Snapshot()
	assert.Equal(t, StateSafeToSubmit, snap.State)
	assert.True(t, snap.Assessment.HealthRatio.Equal(decimal.RequireFromString("183.75")))
	assert.Equal(t, risk.SeveritySafe, snap.Assessment.Severity)
	assert.True(t, snap.Decision.Allowed)
	assert.Nil(t, snap.Alert)
}

func TestStore_CriticalPositionIsBlocked(t *testing.T) {
	s := newTestStore(t, marketPrices())
	fill(t, s, "ETH", "1", "USDC", "1700")

	snap := s.Snapshot()
	assert.Equal(t, StateBlocked, snap.State)
	assert.Equal(t, "108.09", snap.Assessment.HealthRatio.StringFixed(2))
	require.NotNil(t, snap.Alert)
	assert.Equal(t, risk.SeverityCritical, snap.Alert.Severity)
}

func TestStore_MissingCollateralAmount(t *testing.T) {
	s := newTestStore(t, marketPrices())
	ctx := context.Background()
	require.NoError(t, s.SetCollateralToken(ctx, "ETH"))
	require.NoError(t, s.SetDebtToken(ctx, "USDC"))
	require.NoError(t, s.SetDebtAmount("500"))

	a := s.Assessment()
	assert.True(t, a.HealthRatio.Equal(risk.SentinelRatio))
	assert.Equal(t, risk.SeveritySafe, a.Severity)
	assert.Equal(t, StatePartiallyFilled, s.State())
}

func TestStore_StateProgression(t *testing.T) {
	s := newTestStore(t, marketPrices())
	ctx := context.Background()

	assert.Equal(t, StateEmpty, s.State())
	require.NoError(t, s.SetCollateralToken(ctx, "eth"))
	assert.Equal(t, StatePartiallyFilled, s.State())
	assert.Equal(t, "ETH", s.Position().CollateralToken)

	require.NoError(t, s.SetDebtToken(ctx, "USDC"))
	require.NoError(t, s.SetCollateralAmount("1"))
	assert.Equal(t, StatePartiallyFilled, s.State())

	require.NoError(t, s.SetDebtAmount("1000"))
	assert.Equal(t, StateSafeToSubmit, s.State())

	require.NoError(t, s.SetDebtAmount("1700"))
	assert.Equal(t, StateBlocked, s.State())

	require.NoError(t, s.SetCollateralToken(ctx, ""))
	assert.Equal(t, StatePartiallyFilled, s.State())
}

func TestStore_InvalidAmountClearsField(t *testing.T) {
	s := newTestStore(t, marketPrices())
	fill(t, s, "ETH", "1", "USDC", "1000")

	for _, raw := range []string{"abc", "-5", "1e"} {
		require.NoError(t, s.SetCollateralAmount("1"))

		err := s.SetCollateralAmount(raw)
		assert.ErrorIs(t, err, risk.ErrInvalidAmount, raw)
		assert.False(t, s.Position().CollateralAmount.Valid, raw)
		assert.Equal(t, StatePartiallyFilled, s.State(), raw)
		assert.True(t, s.Assessment().HealthRatio.Equal(risk.SentinelRatio))
	}

	require.NoError(t, s.SetDebtAmount(" "))
	assert.False(t, s.Position().DebtAmount.Valid)
}

func TestStore_DebtTokenSelection(t *testing.T) {
	s := newTestStore(t, marketPrices())
	ctx := context.Background()
	require.NoError(t, s.SetCollateralToken(ctx, "ETH"))

	t.Run("CollateralIsRejected", func(t *testing.T) {
		err := s.SetDebtToken(ctx, "eth")
		assert.ErrorIs(t, err, token.ErrSameToken)
		assert.Empty(t, s.Position().DebtToken)
	})

	t.Run("UnknownToken", func(t *testing.T) {
		err := s.SetDebtToken(ctx, "DOGE")
		assert.ErrorIs(t, err, token.ErrTokenNotFound)
	})

	t.Run("CandidatesExcludeCollateral", func(t *testing.T) {
		candidates, err := s.DebtCandidates()
		require.NoError(t, err)
		for _, c := range candidates {
			assert.NotEqual(t, "ETH", c.Symbol)
		}
		assert.NotEmpty(t, candidates)
	})

	t.Run("SwitchingCollateralToDebtClearsDebt", func(t *testing.T) {
		require.NoError(t, s.SetDebtToken(ctx, "USDC"))
		require.NoError(t, s.SetCollateralToken(ctx, "USDC"))
		assert.Equal(t, "USDC", s.Position().CollateralToken)
		assert.Empty(t, s.Position().DebtToken)
		assert.Equal(t, []string{"USDC"}, s.Subscriptions())
	})
}

func TestStore_PriceTickRecomputes(t *testing.T) {
	src := marketPrices()
	s := newTestStore(t, src)
	fill(t, s, "ETH", "1", "USDC", "1000")

	var mu sync.Mutex
	var seen []Snapshot
	s.OnChange(func(snap Snapshot) {
		mu.Lock()
		seen = append(seen, snap)
		mu.Unlock()
	})

	src.Set("ETH", decimal.NewFromInt(1500))
	assert.True(t, s.Assessment().HealthRatio.Equal(decimal.RequireFromString("112.5")))
	assert.Equal(t, risk.SeverityWarning, s.Assessment().Severity)
	assert.Equal(t, StateSafeToSubmit, s.State())

	src.Set("ETH", decimal.NewFromInt(1400))
	assert.True(t, s.Assessment().HealthRatio.Equal(decimal.NewFromInt(105)))
	assert.Equal(t, StateBlocked, s.State())

	// ticks of unreferenced tokens are ignored
	before := s.Snapshot().Version
	src.Set("WBTC", decimal.NewFromInt(40000))
	assert.Equal(t, before, s.Snapshot().Version)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, StateSafeToSubmit, seen[0].State)
	assert.Equal(t, StateBlocked, seen[1].State)
	assert.Less(t, seen[0].Version, seen[1].Version)
}

func TestStore_PriceUnavailable(t *testing.T) {
	s := newTestStore(t, marketPrices())
	fill(t, s, "XYZ", "1", "USDC", "100")

	snap := s.Snapshot()
	assert.True(t, snap.Assessment.PriceUnavailable)
	assert.True(t, snap.Assessment.HealthRatio.Equal(risk.SentinelRatio))
	assert.Equal(t, StateBlocked, snap.State)
	assert.Equal(t, "price unavailable", snap.Decision.Reason)
	assert.Equal(t, []string{"USDC"}, s.Subscriptions())
}

func TestStore_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("RequiresWallet", func(t *testing.T) {
		s := newTestStore(t, marketPrices())
		fill(t, s, "ETH", "1", "USDC", "1000")

		_, err := s.Submit(ctx)
		assert.ErrorIs(t, err, ErrWalletNotConnected)
		assert.Equal(t, StateSafeToSubmit, s.State())
	})

	t.Run("Blocked", func(t *testing.T) {
		s := newTestStore(t, marketPrices())
		fill(t, s, "ETH", "1", "USDC", "1700")
		require.NoError(t, s.SetWallet(connected))

		_, err := s.Submit(ctx)
		assert.ErrorIs(t, err, ErrSubmissionBlocked)
		assert.Contains(t, err.Error(), "liquidation threshold")
		assert.Equal(t, "ETH", s.Position().CollateralToken)
	})

	t.Run("Incomplete", func(t *testing.T) {
		s := newTestStore(t, marketPrices())
		require.NoError(t, s.SetWallet(connected))
		require.NoError(t, s.SetCollateralAmount("1"))

		_, err := s.Submit(ctx)
		assert.ErrorIs(t, err, ErrSubmissionBlocked)
	})

	t.Run("AcceptedAndDiscarded", func(t *testing.T) {
		s := newTestStore(t, marketPrices())
		fill(t, s, "ETH", "1", "USDC", "1000")
		require.NoError(t, s.SetWallet(connected))

		receipt, err := s.Submit(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, receipt.ID)
		assert.Equal(t, s.ID(), receipt.PositionID)
		assert.Equal(t, "ETH", receipt.Position.CollateralToken)
		assert.True(t, receipt.Assessment.HealthRatio.Equal(decimal.RequireFromString("183.75")))

		assert.Equal(t, StateEmpty, s.State())
		assert.True(t, s.Position().Wallet.Connected)
		assert.Empty(t, s.Subscriptions())
	})

	t.Run("UsesLatestPrices", func(t *testing.T) {
		src := &silentSource{prices: map[string]decimal.Decimal{
			"ETH":  decimal.NewFromInt(2450),
			"USDC": decimal.NewFromInt(1),
		}}
		s := newTestStore(t, src)
		fill(t, s, "ETH", "1", "USDC", "1000")
		require.NoError(t, s.SetWallet(connected))
		assert.Equal(t, StateSafeToSubmit, s.State())

		src.set("ETH", decimal.NewFromInt(1400))
		assert.Equal(t, StateSafeToSubmit, s.State())

		_, err := s.Submit(ctx)
		assert.ErrorIs(t, err, ErrSubmissionBlocked)
		assert.Equal(t, StateBlocked, s.State())
	})
}

func TestStore_TickDuringPriceRead(t *testing.T) {
	ctx := context.Background()

	t.Run("Submit", func(t *testing.T) {
		src := newRacingSource()
		s := newTestStore(t, src)
		fill(t, s, "ETH", "1", "USDC", "1000")
		require.NoError(t, s.SetWallet(connected))

		src.tickDuringRead("ETH", decimal.NewFromInt(1400))
		_, err := s.Submit(ctx)
		assert.ErrorIs(t, err, ErrSubmissionBlocked)

		snap := s.Snapshot()
		assert.Equal(t, StateBlocked, snap.State)
		assert.True(t, snap.Assessment.HealthRatio.Equal(decimal.NewFromInt(105)), snap.Assessment.HealthRatio.String())
	})

	t.Run("SetCollateralToken", func(t *testing.T) {
		src := newRacingSource()
		s := newTestStore(t, src)

		src.tickDuringRead("ETH", decimal.NewFromInt(1400))
		fill(t, s, "ETH", "1", "USDC", "1000")

		a := s.Assessment()
		assert.True(t, a.CollateralValue.Equal(decimal.NewFromInt(1400)), a.CollateralValue.String())
		assert.Equal(t, StateBlocked, s.State())
	})

	t.Run("Restore", func(t *testing.T) {
		src := newRacingSource()
		s := newTestStore(t, src)

		src.tickDuringRead("ETH", decimal.NewFromInt(1400))
		snap, err := s.Restore(ctx, Position{
			CollateralToken:  "ETH",
			CollateralAmount: decimal.NewNullDecimal(decimal.NewFromInt(1)),
			DebtToken:        "USDC",
			DebtAmount:       decimal.NewNullDecimal(decimal.NewFromInt(1000)),
		})
		require.NoError(t, err)
		assert.True(t, snap.Assessment.CollateralValue.Equal(decimal.NewFromInt(1400)))
		assert.Equal(t, []string{"ETH", "USDC"}, sorted(s.Subscriptions()))
	})

	t.Run("ClearedTokenReleasesSubscription", func(t *testing.T) {
		src := newRacingSource()
		s := newTestStore(t, src)
		fill(t, s, "ETH", "1", "USDC", "1000")

		src.tickDuringRead("USDC", decimal.RequireFromString("1.1"))
		require.NoError(t, s.SetDebtToken(ctx, "USDC"))
		assert.True(t, s.Assessment().DebtValue.Equal(decimal.NewFromInt(1100)))

		require.NoError(t, s.SetDebtToken(ctx, ""))
		assert.Equal(t, []string{"ETH"}, s.Subscriptions())
	})
}

func TestStore_ListenersSeeIncreasingVersions(t *testing.T) {
	src := marketPrices()
	s := newTestStore(t, src)
	fill(t, s, "ETH", "1", "USDC", "1000")

	var mu sync.Mutex
	var versions []uint64
	s.OnChange(func(snap Snapshot) {
		mu.Lock()
		versions = append(versions, snap.Version)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.SetDebtAmount(decimal.NewFromInt(int64(900 + j)).String())
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				src.Set("ETH", decimal.NewFromInt(int64(2000+i*100+j)))
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		require.Greater(t, versions[i], versions[i-1], "delivery %d", i)
	}
	assert.Equal(t, s.Snapshot().Version, versions[len(versions)-1])
}

func TestStore_CloseDisposesSubscriptions(t *testing.T) {
	src := marketPrices()
	s := newTestStore(t, src)
	fill(t, s, "ETH", "1", "USDC", "1000")
	assert.Equal(t, []string{"ETH", "USDC"}, sorted(s.Subscriptions()))

	calls := 0
	s.OnChange(func(Snapshot) { calls++ })

	s.Close()
	s.Close()
	assert.Empty(t, s.Subscriptions())

	src.Set("ETH", decimal.NewFromInt(1000))
	assert.Equal(t, 0, calls)
	assert.True(t, s.Assessment().HealthRatio.Equal(decimal.RequireFromString("183.75")))

	assert.ErrorIs(t, s.SetDebtAmount("1"), ErrStoreClosed)
	_, err := s.Submit(context.Background())
	assert.ErrorIs(t, err, ErrWalletNotConnected)
}

func TestPosition_JSONRoundTrip(t *testing.T) {
	s := newTestStore(t, marketPrices())
	fill(t, s, "ETH", "1.25", "USDC", "1000.5")
	require.NoError(t, s.SetWallet(connected))
	original := s.Position()

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Position
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, original.Equal(decoded))

	partial := Position{DebtAmount: decimal.NewNullDecimal(decimal.NewFromInt(500))}
	data, err = json.Marshal(partial)
	require.NoError(t, err)
	var decodedPartial Position
	require.NoError(t, json.Unmarshal(data, &decodedPartial))
	assert.True(t, partial.Equal(decodedPartial))
	assert.False(t, decodedPartial.CollateralAmount.Valid)

	restored := newTestStore(t, marketPrices())
	snap, err := restored.Restore(context.Background(), decoded)
	require.NoError(t, err)
	assert.True(t, original.Equal(snap.Position))
	assert.True(t, snap.Assessment.HealthRatio.Equal(s.Assessment().HealthRatio))
	assert.Equal(t, []string{"ETH", "USDC"}, sorted(restored.Subscriptions()))
}

func TestStore_RestoreRejectsInvalidPositions(t *testing.T) {
	s := newTestStore(t, marketPrices())
	ctx := context.Background()

	_, err := s.Restore(ctx, Position{CollateralAmount: decimal.NewNullDecimal(decimal.NewFromInt(-1))})
	assert.ErrorIs(t, err, risk.ErrInvalidAmount)

	_, err = s.Restore(ctx, Position{CollateralToken: "ETH", DebtToken: "ETH"})
	assert.ErrorIs(t, err, token.ErrSameToken)

	_, err = s.Restore(ctx, Position{Wallet: wallet.State{Connected: true, Address: "0x12"}})
	assert.ErrorIs(t, err, wallet.ErrWalletUnavailable)

	assert.Equal(t, StateEmpty, s.State())
}

func TestStore_ConcurrentEditsAndTicks(t *testing.T) {
	src := marketPrices()
	s := newTestStore(t, src)
	fill(t, s, "ETH", "1", "USDC", "1000")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.SetDebtAmount(decimal.NewFromInt(int64(900 + i + j)).String())
				_ = s.Snapshot()
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				src.Set("ETH", decimal.NewFromInt(int64(2000+i*10+j)))
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, s.SetDebtAmount("1000"))
	src.Set("ETH", decimal.NewFromInt(2450))

	snap := s.Snapshot()
	assert.True(t, snap.Assessment.HealthRatio.Equal(decimal.RequireFromString("183.75")), snap.Assessment.HealthRatio.String())
	assert.True(t, snap.Assessment.CollateralValue.Equal(decimal.NewFromInt(2450)))
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		raw   string
		valid bool
		err   bool
	}{
		{"", false, false},
		{"  ", false, false},
		{"0", true, false},
		{"12.5", true, false},
		{" 3 ", true, false},
		{"-1", false, true},
		{"abc", false, true},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.raw)
		if tc.err {
			assert.ErrorIs(t, err, risk.ErrInvalidAmount, tc.raw)
		} else {
			assert.NoError(t, err, tc.raw)
		}
		assert.Equal(t, tc.valid, got.Valid, tc.raw)
	}
}
