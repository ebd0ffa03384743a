package market_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bazaar/internal/clock"
	"bazaar/internal/ledger"
	"bazaar/internal/market"
	"bazaar/internal/registry"
)

const (
	admin    = market.Address("admin")
	treasury = market.Address("treasury")
	operator = market.Address("marketplace")
	alice    = market.Address("alice")
	bob      = market.Address("bob")
	carol    = market.Address("carol")

	land   = market.Address("land")   // plain asset contract
	estate = market.Address("estate") // fingerprintable asset contract
)

var estateFingerprint = []byte{0xde, 0xad, 0xbe, 0xef}

type world struct {
	clk    *clock.Fixed
	tokens *ledger.TokenLedger
	assets *ledger.AssetLedger
	reg    *registry.Registry
	gate   *market.StaticGate
	bus    *market.Bus
	events []market.Envelope
	mkt    *market.Marketplace
}

// newWorld builds a marketplace over freshly seeded ledgers: alice owns
// land #1 and estate #7 with the marketplace approved for both, bob and
// alice hold token balances with allowances granted to the marketplace.
func newWorld(t *testing.T, cfg market.Config) *world {
	t.Helper()

	w := &world{
		clk:    clock.NewFixed(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
		tokens: ledger.NewTokenLedger(),
		assets: ledger.NewAssetLedger(),
		reg:    registry.New(),
		bus:    market.NewBus(),
	}

	w.tokens.Mint(alice, 1_000_000)
	w.tokens.Mint(bob, 2_000_000)
	w.tokens.Approve(alice, operator, 1_000_000)
	w.tokens.Approve(bob, operator, 2_000_000)

	require.NoError(t, w.assets.RegisterContract(land, false))
	require.NoError(t, w.assets.Mint(land, 1, alice))
	require.NoError(t, w.assets.SetApprovalForAll(land, alice, operator, true))

	require.NoError(t, w.assets.RegisterContract(estate, true))
	require.NoError(t, w.assets.Mint(estate, 7, alice))
	require.NoError(t, w.assets.SetApprovalForAll(estate, alice, operator, true))
	require.NoError(t, w.assets.SetFingerprint(estate, 7, estateFingerprint))

	var err error
	w.gate, err = market.NewStaticGate(admin)
	require.NoError(t, err)

	w.bus.Subscribe(func(env market.Envelope) {
		w.events = append(w.events, env)
	})

	if cfg.Beneficiary.IsZero() {
		cfg.Beneficiary = treasury
	}
	w.mkt, err = market.New(
		w.reg,
		w.assets.Operator(operator),
		w.tokens.Spender(operator),
		w.gate,
		market.DirectResolver{},
		w.clk,
		w.bus,
		cfg,
	)
	require.NoError(t, err)
	return w
}

func (w *world) expiry() time.Time {
	return w.clk.Now().Add(time.Hour)
}

func (w *world) lastEvent(t *testing.T) market.Event {
	t.Helper()
	require.NotEmpty(t, w.events)
	return w.events[len(w.events)-1].Event
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	w := newWorld(t, market.Config{})

	_, err := market.New(w.reg, w.assets.Operator(operator), w.tokens.Spender(operator),
		w.gate, market.DirectResolver{}, w.clk, w.bus,
		market.Config{Beneficiary: market.ZeroAddress})
	assert.ErrorIs(t, err, market.ErrInvalidConfiguration)

	_, err = market.New(w.reg, w.assets.Operator(operator), w.tokens.Spender(operator),
		w.gate, market.DirectResolver{}, w.clk, w.bus,
		market.Config{Beneficiary: treasury, OwnerCutPerMillion: market.PerMillion})
	assert.ErrorIs(t, err, market.ErrInvalidConfiguration)
}

func TestCreateOrder(t *testing.T) {
	w := newWorld(t, market.Config{})

	order, err := w.mkt.CreateOrder(context.Background(), alice, land, 1, 500, w.expiry())
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, alice, order.Seller)
	assert.Equal(t, land, order.AssetContract)
	assert.Equal(t, uint64(500), order.Price)

	stored, ok := w.reg.Get(land, 1)
	require.True(t, ok)
	assert.Equal(t, order, stored)

	created, ok := w.lastEvent(t).(market.OrderCreated)
	require.True(t, ok)
	assert.Equal(t, order.ID, created.ID)
	assert.Equal(t, uint64(500), created.Price)
}

func TestCreateOrderValidation(t *testing.T) {
	w := newWorld(t, market.Config{})
	ctx := context.Background()

	t.Run("unknown contract", func(t *testing.T) {
		_, err := w.mkt.CreateOrder(ctx, alice, "nowhere", 1, 500, w.expiry())
		assert.ErrorIs(t, err, market.ErrInvalidAssetContract)
	})

	t.Run("caller is not the owner", func(t *testing.T) {
		_, err := w.mkt.CreateOrder(ctx, bob, land, 1, 500, w.expiry())
		assert.ErrorIs(t, err, market.ErrUnauthorized)
	})

	t.Run("marketplace not approved", func(t *testing.T) {
		require.NoError(t, w.assets.Mint(land, 2, alice))
		_, err := w.mkt.CreateOrder(ctx, alice, land, 2, 500, w.expiry())
		assert.ErrorIs(t, err, market.ErrNotAuthorizedToTransfer)
	})

	t.Run("zero price", func(t *testing.T) {
		_, err := w.mkt.CreateOrder(ctx, alice, land, 1, 0, w.expiry())
		assert.ErrorIs(t, err, market.ErrInvalidPrice)
	})

	t.Run("expiry four minutes out", func(t *testing.T) {
		_, err := w.mkt.CreateOrder(ctx, alice, land, 1, 500, w.clk.Now().Add(4*time.Minute))
		assert.ErrorIs(t, err, market.ErrExpiryTooSoon)
	})

	t.Run("expiry exactly at the minimum", func(t *testing.T) {
		_, err := w.mkt.CreateOrder(ctx, alice, land, 1, 500, w.clk.Now().Add(market.MinListingWindow))
		assert.ErrorIs(t, err, market.ErrExpiryTooSoon)
	})

	t.Run("expiry six minutes out", func(t *testing.T) {
		_, err := w.mkt.CreateOrder(ctx, alice, land, 1, 500, w.clk.Now().Add(6*time.Minute))
		assert.NoError(t, err)
	})

	t.Run("zero caller", func(t *testing.T) {
		_, err := w.mkt.CreateOrder(ctx, market.ZeroAddress, land, 1, 500, w.expiry())
		assert.ErrorIs(t, err, market.ErrUnauthorized)
	})
}

func TestCreateOrderDistinctIDsSameInstant(t *testing.T) {
	w := newWorld(t, market.Config{})
	require.NoError(t, w.assets.Mint(land, 3, alice))
	require.NoError(t, w.assets.Approve(land, alice, operator, 3))

	// The fixed clock makes both creations share one timestamp.
	first, err := w.mkt.CreateOrder(context.Background(), alice, land, 1, 500, w.expiry())
	require.NoError(t, err)
	second, err := w.mkt.CreateOrder(context.Background(), alice, land, 3, 500, w.expiry())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreateOrderReplacesExistingListing(t *testing.T) {
	w := newWorld(t, market.Config{})
	ctx := context.Background()

	first, err := w.mkt.CreateOrder(ctx, alice, land, 1, 500, w.expiry())
	require.NoError(t, err)
	second, err := w.mkt.CreateOrder(ctx, alice, land, 1, 900, w.expiry())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	stored, ok := w.reg.Get(land, 1)
	require.True(t, ok)
	assert.Equal(t, second.ID, stored.ID)
	assert.Equal(t, 1, w.reg.Len())
}

func TestCreateOrderPublicationFee(t *testing.T) {
	w := newWorld(t, market.Config{PublicationFee: 1_000})

	_, err := w.mkt.CreateOrder(context.Background(), alice, land, 1, 500, w.expiry())
	require.NoError(t, err)

	assert.Equal(t, uint64(1_000), w.tokens.BalanceOf(treasury))
	assert.Equal(t, uint64(999_000), w.tokens.BalanceOf(alice))
}

func TestCreateOrderPublicationFeeFailureAbortsCreation(t *testing.T) {
	w := newWorld(t, market.Config{PublicationFee: 1_000})
	w.tokens.Approve(alice, operator, 0)

	_, err := w.mkt.CreateOrder(context.Background(), alice, land, 1, 500, w.expiry())
	assert.ErrorIs(t, err, market.ErrExternalTransferFailed)

	_, ok := w.reg.Get(land, 1)
	assert.False(t, ok, "failed creation must not leave a listing behind")
	assert.Equal(t, uint64(1_000_000), w.tokens.BalanceOf(alice))
	assert.Zero(t, w.tokens.BalanceOf(treasury))
	assert.Empty(t, w.events)
}

func TestCancelOrder(t *testing.T) {
	w := newWorld(t, market.Config{})
	ctx := context.Background()

	order, err := w.mkt.CreateOrder(ctx, alice, land, 1, 500, w.expiry())
	require.NoError(t, err)

	require.NoError(t, w.mkt.CancelOrder(ctx, alice, land, 1))

	_, ok := w.reg.Get(land, 1)
	assert.False(t, ok)
	cancelled, ok := w.lastEvent(t).(market.OrderCancelled)
	require.True(t, ok)
	assert.Equal(t, order.ID, cancelled.ID)
	assert.Equal(t, alice, cancelled.Seller)

	// No value moved at any point.
	assert.Equal(t, uint64(1_000_000), w.tokens.BalanceOf(alice))
	assert.Zero(t, w.tokens.BalanceOf(treasury))
}

func TestCancelOrderAuthorization(t *testing.T) {
	w := newWorld(t, market.Config{})
	ctx := context.Background()

	_, err := w.mkt.CreateOrder(ctx, alice, land, 1, 500, w.expiry())
	require.NoError(t, err)

	assert.ErrorIs(t, w.mkt.CancelOrder(ctx, bob, land, 1), market.ErrUnauthorized)

	// The platform administrator may cancel anyone's listing.
	assert.NoError(t, w.mkt.CancelOrder(ctx, admin, land, 1))
}

func TestCancelOrderNotListed(t *testing.T) {
	w := newWorld(t, market.Config{})
	ctx := context.Background()

	assert.ErrorIs(t, w.mkt.CancelOrder(ctx, alice, land, 1), market.ErrNotListed)

	_, err := w.mkt.CreateOrder(ctx, alice, land, 1, 500, w.expiry())
	require.NoError(t, err)
	require.NoError(t, w.mkt.CancelOrder(ctx, alice, land, 1))

	// Second cancel finds nothing.
	assert.ErrorIs(t, w.mkt.CancelOrder(ctx, alice, land, 1), market.ErrNotListed)
}

func TestCancelExpiredOrderStillWorks(t *testing.T) {
	w := newWorld(t, market.Config{})
	ctx := context.Background()

	_, err := w.mkt.CreateOrder(ctx, alice, land, 1, 500, w.expiry())
	require.NoError(t, err)

	w.clk.Advance(2 * time.Hour)
	assert.NoError(t, w.mkt.CancelOrder(ctx, alice, land, 1))
}

func TestExecuteOrder(t *testing.T) {
	w := newWorld(t, market.Config{OwnerCutPerMillion: 25_000}) // 2.5%
	ctx := context.Background()

	order, err := w.mkt.CreateOrder(ctx, alice, land, 1, 1_000_000, w.expiry())
	require.NoError(t, err)

	executed, err := w.mkt.ExecuteOrder(ctx, bob, land, 1, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, order.ID, executed.ID)

	// 2.5% of 1_000_000 to the platform, the rest to the seller.
	assert.Equal(t, uint64(25_000), w.tokens.BalanceOf(treasury))
	assert.Equal(t, uint64(1_975_000), w.tokens.BalanceOf(alice))
	assert.Equal(t, uint64(1_000_000), w.tokens.BalanceOf(bob))

	owner, err := w.assets.Operator(operator).OwnerOf(land, 1)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)

	_, ok := w.reg.Get(land, 1)
	assert.False(t, ok)

	successful, ok := w.lastEvent(t).(market.OrderSuccessful)
	require.True(t, ok)
	assert.Equal(t, bob, successful.Buyer)
	assert.Equal(t, uint64(1_000_000), successful.Price)
}

func TestExecuteOrderZeroCutPaysSellerExactly(t *testing.T) {
	w := newWorld(t, market.Config{})
	ctx := context.Background()

	_, err := w.mkt.CreateOrder(ctx, alice, land, 1, 777, w.expiry())
	require.NoError(t, err)
	_, err = w.mkt.ExecuteOrder(ctx, bob, land, 1, 777)
	require.NoError(t, err)

	assert.Zero(t, w.tokens.BalanceOf(treasury))
	assert.Equal(t, uint64(1_000_777), w.tokens.BalanceOf(alice))
}

func TestExecuteOrderValidation(t *testing.T) {
	w := newWorld(t, market.Config{})
	ctx := context.Background()

	_, err := w.mkt.CreateOrder(ctx, alice, land, 1, 500, w.expiry())
	require.NoError(t, err)

	t.Run("not listed", func(t *testing.T) {
		_, err := w.mkt.ExecuteOrder(ctx, bob, land, 99, 500)
		assert.ErrorIs(t, err, market.ErrNotListed)
	})

	t.Run("self trade", func(t *testing.T) {
		_, err := w.mkt.ExecuteOrder(ctx, alice, land, 1, 500)
		assert.ErrorIs(t, err, market.ErrSelfTradeForbidden)
	})

	t.Run("price mismatch", func(t *testing.T) {
		_, err := w.mkt.ExecuteOrder(ctx, bob, land, 1, 499)
		assert.ErrorIs(t, err, market.ErrPriceMismatch)
	})

	t.Run("expired", func(t *testing.T) {
		w.clk.Advance(time.Hour) // exactly at expiry: execution is blocked
		defer w.clk.Advance(-time.Hour)
		_, err := w.mkt.ExecuteOrder(ctx, bob, land, 1, 500)
		assert.ErrorIs(t, err, market.ErrOrderExpired)
	})

	t.Run("seller no longer owner", func(t *testing.T) {
		// Alice moves the asset out from under her own listing.
		require.NoError(t, w.assets.Approve(land, alice, alice, 1))
		require.NoError(t, w.assets.Operator(alice).Transfer(nil, land, alice, carol, 1))

		_, err := w.mkt.ExecuteOrder(ctx, bob, land, 1, 500)
		assert.ErrorIs(t, err, market.ErrSellerNoLongerOwner)
	})
}

func TestExecuteOrderFingerprint(t *testing.T) {
	w := newWorld(t, market.Config{})
	ctx := context.Background()

	_, err := w.mkt.CreateOrder(ctx, alice, estate, 7, 500, w.expiry())
	require.NoError(t, err)

	t.Run("wrong proof", func(t *testing.T) {
		_, err := w.mkt.SafeExecuteOrder(ctx, bob, estate, 7, 500, []byte{0x00})
		assert.ErrorIs(t, err, market.ErrInvalidFingerprint)
	})

	t.Run("missing proof on a verifiable contract", func(t *testing.T) {
		_, err := w.mkt.ExecuteOrder(ctx, bob, estate, 7, 500)
		assert.ErrorIs(t, err, market.ErrInvalidFingerprint)
	})

	t.Run("matching proof settles", func(t *testing.T) {
		_, err := w.mkt.SafeExecuteOrder(ctx, bob, estate, 7, 500, estateFingerprint)
		require.NoError(t, err)

		owner, err := w.assets.Operator(operator).OwnerOf(estate, 7)
		require.NoError(t, err)
		assert.Equal(t, bob, owner)
	})
}

func TestExecuteOrderAtomicity(t *testing.T) {
	w := newWorld(t, market.Config{OwnerCutPerMillion: 25_000})
	ctx := context.Background()

	order, err := w.mkt.CreateOrder(ctx, alice, land, 1, 1_000_000, w.expiry())
	require.NoError(t, err)

	// The asset transfer rejects after both payments have been applied.
	w.assets.SetTransferHook(func(market.Address, market.Address, market.Address, uint64) error {
		return errors.New("asset contract rejected transfer")
	})

	_, err = w.mkt.ExecuteOrder(ctx, bob, land, 1, 1_000_000)
	assert.ErrorIs(t, err, market.ErrExternalTransferFailed)

	// No payment is observable and the listing is back in the registry.
	assert.Equal(t, uint64(2_000_000), w.tokens.BalanceOf(bob))
	assert.Equal(t, uint64(1_000_000), w.tokens.BalanceOf(alice))
	assert.Zero(t, w.tokens.BalanceOf(treasury))
	stored, ok := w.reg.Get(land, 1)
	require.True(t, ok)
	assert.Equal(t, order.ID, stored.ID)

	owner, err := w.assets.Operator(operator).OwnerOf(land, 1)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	// With the hook gone the same listing settles cleanly.
	w.assets.SetTransferHook(nil)
	_, err = w.mkt.ExecuteOrder(ctx, bob, land, 1, 1_000_000)
	assert.NoError(t, err)
}

func TestExecuteOrderReentrancy(t *testing.T) {
	w := newWorld(t, market.Config{})
	ctx := context.Background()

	_, err := w.mkt.CreateOrder(ctx, alice, land, 1, 500, w.expiry())
	require.NoError(t, err)

	// A malicious payment hook re-enters the marketplace for the same
	// listing mid-settlement.
	var reentrant error
	reentered := false
	w.tokens.SetTransferHook(func(market.Address, market.Address, uint64) error {
		if !reentered {
			reentered = true
			_, reentrant = w.mkt.ExecuteOrder(ctx, carol, land, 1, 500)
		}
		return nil
	})

	_, err = w.mkt.ExecuteOrder(ctx, bob, land, 1, 500)
	require.NoError(t, err)
	assert.True(t, reentered)
	assert.ErrorIs(t, reentrant, market.ErrNotListed,
		"the listing must already be gone when the hook fires")
}

func TestRoundTripCreateCancelRestoresState(t *testing.T) {
	w := newWorld(t, market.Config{PublicationFee: 0})
	ctx := context.Background()

	balancesBefore := []uint64{w.tokens.BalanceOf(alice), w.tokens.BalanceOf(treasury)}
	require.Zero(t, w.reg.Len())

	_, err := w.mkt.CreateOrder(ctx, alice, land, 1, 500, w.expiry())
	require.NoError(t, err)
	require.NoError(t, w.mkt.CancelOrder(ctx, alice, land, 1))

	assert.Zero(t, w.reg.Len())
	assert.Equal(t, balancesBefore, []uint64{w.tokens.BalanceOf(alice), w.tokens.BalanceOf(treasury)})
}

func TestPauseGateBlocksOperations(t *testing.T) {
	w := newWorld(t, market.Config{})
	ctx := context.Background()

	_, err := w.mkt.CreateOrder(ctx, alice, land, 1, 500, w.expiry())
	require.NoError(t, err)

	assert.ErrorIs(t, w.gate.SetPaused(bob, true), market.ErrUnauthorized)
	require.NoError(t, w.gate.SetPaused(admin, true))

	_, err = w.mkt.CreateOrder(ctx, alice, estate, 7, 500, w.expiry())
	assert.ErrorIs(t, err, market.ErrMarketPaused)
	assert.ErrorIs(t, w.mkt.CancelOrder(ctx, alice, land, 1), market.ErrMarketPaused)
	_, err = w.mkt.ExecuteOrder(ctx, bob, land, 1, 500)
	assert.ErrorIs(t, err, market.ErrMarketPaused)

	require.NoError(t, w.gate.SetPaused(admin, false))
	_, err = w.mkt.ExecuteOrder(ctx, bob, land, 1, 500)
	assert.NoError(t, err)
}

func TestAdminSetters(t *testing.T) {
	w := newWorld(t, market.Config{})
	ctx := context.Background()

	t.Run("owner only", func(t *testing.T) {
		assert.ErrorIs(t, w.mkt.SetOwnerCutPerMillion(ctx, bob, 100), market.ErrUnauthorized)
		assert.ErrorIs(t, w.mkt.SetPublicationFee(ctx, bob, 100), market.ErrUnauthorized)
	})

	t.Run("cut must stay below one million", func(t *testing.T) {
		err := w.mkt.SetOwnerCutPerMillion(ctx, admin, market.PerMillion)
		assert.ErrorIs(t, err, market.ErrInvalidConfiguration)
	})

	t.Run("changes apply and notify", func(t *testing.T) {
		require.NoError(t, w.mkt.SetOwnerCutPerMillion(ctx, admin, 100))
		assert.Equal(t, uint64(100), w.mkt.OwnerCutPerMillion())
		cut, ok := w.lastEvent(t).(market.ChangedOwnerCutPerMillion)
		require.True(t, ok)
		assert.Equal(t, uint64(100), cut.CutPerMillion)

		require.NoError(t, w.mkt.SetPublicationFee(ctx, admin, 42))
		assert.Equal(t, uint64(42), w.mkt.PublicationFee())
		fee, ok := w.lastEvent(t).(market.ChangedPublicationFee)
		require.True(t, ok)
		assert.Equal(t, uint64(42), fee.Fee)
	})
}

func TestEventStreamIsOrdered(t *testing.T) {
	w := newWorld(t, market.Config{})
	ctx := context.Background()

	_, err := w.mkt.CreateOrder(ctx, alice, land, 1, 500, w.expiry())
	require.NoError(t, err)
	require.NoError(t, w.mkt.CancelOrder(ctx, alice, land, 1))
	require.NoError(t, w.mkt.SetPublicationFee(ctx, admin, 1))

	require.Len(t, w.events, 3)
	for i, env := range w.events {
		assert.Equal(t, uint64(i+1), env.Seq)
	}
	assert.Equal(t, "OrderCreated", w.events[0].Event.Name())
	assert.Equal(t, "OrderCancelled", w.events[1].Event.Name())
	assert.Equal(t, "ChangedPublicationFee", w.events[2].Event.Name())
}
