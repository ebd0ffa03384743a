// Package market implements the order lifecycle and settlement core of the
// marketplace: fixed-price listings of non-fungible assets, cancellation,
// and atomic execute-time settlement with fee distribution.
//
// Every public operation resolves the effective caller, re-validates live
// external state, and either fully completes or has no effect at all. The
// registry entry is removed before any value transfer during execution so
// a reentrant call from a transfer hook cannot re-consume the listing.
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"bazaar/internal/clock"
)

// MinListingWindow is the minimum distance between creation time and
// expiry; listings expiring sooner are rejected.
const MinListingWindow = 5 * time.Minute

// Config carries the marketplace's construction-time settings.
type Config struct {
	// Beneficiary receives the platform share and publication fees.
	Beneficiary Address
	// OwnerCutPerMillion is the initial platform cut, in [0, 1e6).
	OwnerCutPerMillion uint64
	// PublicationFee, if non-zero, is charged to the seller on every
	// listing creation.
	PublicationFee uint64
}

// Marketplace is the order lifecycle controller and settlement engine. It
// owns no external state beyond the registry entries; asset ownership and
// token balances live behind the injected gateways and are re-validated at
// execution time rather than trusted from listing time.
type Marketplace struct {
	registry OrderRegistry
	assets   AssetGateway
	payments PaymentGateway
	gate     AccessGate
	resolver CallerResolver
	clock    clock.Clock
	emitter  Emitter

	beneficiary Address

	mu             sync.RWMutex
	cutPerMillion  uint64
	publicationFee uint64
}

func New(reg OrderRegistry, assets AssetGateway, payments PaymentGateway, gate AccessGate, resolver CallerResolver, clk clock.Clock, emitter Emitter, cfg Config) (*Marketplace, error) {
	if reg == nil || assets == nil || payments == nil || gate == nil || resolver == nil || clk == nil || emitter == nil {
		return nil, fmt.Errorf("%w: missing collaborator", ErrInvalidConfiguration)
	}
	if cfg.Beneficiary.IsZero() {
		return nil, fmt.Errorf("%w: zero beneficiary", ErrInvalidConfiguration)
	}
	if !ValidCut(cfg.OwnerCutPerMillion) {
		return nil, fmt.Errorf("%w: owner cut %d not below %d", ErrInvalidConfiguration, cfg.OwnerCutPerMillion, PerMillion)
	}
	return &Marketplace{
		registry:       reg,
		assets:         assets,
		payments:       payments,
		gate:           gate,
		resolver:       resolver,
		clock:          clk,
		emitter:        emitter,
		beneficiary:    cfg.Beneficiary,
		cutPerMillion:  cfg.OwnerCutPerMillion,
		publicationFee: cfg.PublicationFee,
	}, nil
}

// OwnerCutPerMillion returns the current platform cut.
func (m *Marketplace) OwnerCutPerMillion() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cutPerMillion
}

// PublicationFee returns the fee currently charged on listing creation.
func (m *Marketplace) PublicationFee() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.publicationFee
}

// SetOwnerCutPerMillion updates the platform cut. Owner only.
func (m *Marketplace) SetOwnerCutPerMillion(ctx context.Context, raw Address, cut uint64) error {
	caller, err := m.resolver.ResolveCaller(ctx, raw)
	if err != nil {
		return err
	}
	if !m.gate.IsOwner(caller) {
		return ErrUnauthorized
	}
	if !ValidCut(cut) {
		return fmt.Errorf("%w: owner cut %d not below %d", ErrInvalidConfiguration, cut, PerMillion)
	}
	m.mu.Lock()
	m.cutPerMillion = cut
	m.mu.Unlock()

	m.emitter.Emit(m.clock.Now(), ChangedOwnerCutPerMillion{CutPerMillion: cut})
	return nil
}

// SetPublicationFee updates the listing-creation fee. Owner only.
func (m *Marketplace) SetPublicationFee(ctx context.Context, raw Address, fee uint64) error {
	caller, err := m.resolver.ResolveCaller(ctx, raw)
	if err != nil {
		return err
	}
	if !m.gate.IsOwner(caller) {
		return ErrUnauthorized
	}
	m.mu.Lock()
	m.publicationFee = fee
	m.mu.Unlock()

	m.emitter.Emit(m.clock.Now(), ChangedPublicationFee{Fee: fee})
	return nil
}

// CreateOrder lists assetID at price until expiresAt. The caller must be
// the asset's current owner and must have authorized the marketplace to
// transfer it. Any prior listing for the same asset is replaced.
func (m *Marketplace) CreateOrder(ctx context.Context, raw Address, contract Address, assetID uint64, price uint64, expiresAt time.Time) (Order, error) {
	caller, err := m.resolver.ResolveCaller(ctx, raw)
	if err != nil {
		return Order{}, err
	}
	if m.gate.IsPaused() {
		return Order{}, ErrMarketPaused
	}
	if err := m.assets.Validate(contract); err != nil {
		return Order{}, err
	}
	owner, err := m.assets.OwnerOf(contract, assetID)
	if err != nil {
		return Order{}, err
	}
	if caller != owner {
		return Order{}, ErrUnauthorized
	}
	authorized, err := m.assets.IsTransferAuthorized(contract, owner, assetID)
	if err != nil {
		return Order{}, err
	}
	if !authorized {
		return Order{}, ErrNotAuthorizedToTransfer
	}
	if price == 0 {
		return Order{}, ErrInvalidPrice
	}
	now := m.clock.Now()
	if !expiresAt.After(now.Add(MinListingWindow)) {
		return Order{}, ErrExpiryTooSoon
	}

	order := Order{
		ID:            deriveOrderID(now, caller, contract, assetID, price),
		Seller:        caller,
		AssetContract: contract,
		AssetID:       assetID,
		Price:         price,
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
	}

	if prev, ok := m.registry.Get(contract, assetID); ok {
		log.Warn().
			Str("order", string(prev.ID)).
			Str("contract", string(contract)).
			Uint64("asset", assetID).
			Str("seller", string(prev.Seller)).
			Msg("replacing active listing")
	}

	j := NewJournal()
	m.registry.Put(j, order)
	if fee := m.PublicationFee(); fee > 0 {
		if err := m.payments.TransferFrom(j, caller, m.beneficiary, fee); err != nil {
			j.Rollback()
			return Order{}, fmt.Errorf("publication fee: %w", err)
		}
	}
	j.Commit()

	m.emitter.Emit(now, OrderCreated{
		ID:            order.ID,
		AssetContract: contract,
		AssetID:       assetID,
		Seller:        caller,
		Price:         price,
		ExpiresAt:     expiresAt,
	})
	return order, nil
}

// CancelOrder removes a listing without any value movement. The seller may
// cancel at any time, expired or not; the platform owner may cancel any
// listing.
func (m *Marketplace) CancelOrder(ctx context.Context, raw Address, contract Address, assetID uint64) error {
	caller, err := m.resolver.ResolveCaller(ctx, raw)
	if err != nil {
		return err
	}
	if m.gate.IsPaused() {
		return ErrMarketPaused
	}
	order, ok := m.registry.Get(contract, assetID)
	if !ok {
		return ErrNotListed
	}
	if caller != order.Seller && !m.gate.IsOwner(caller) {
		return ErrUnauthorized
	}

	j := NewJournal()
	if _, err := m.registry.Remove(j, contract, assetID); err != nil {
		return err
	}
	j.Commit()

	m.emitter.Emit(m.clock.Now(), OrderCancelled{
		ID:            order.ID,
		AssetContract: contract,
		AssetID:       assetID,
		Seller:        order.Seller,
	})
	return nil
}

// ExecuteOrder settles a listing: payment moves from the caller to the
// platform and the seller, and the asset moves from the seller to the
// caller, all-or-nothing.
func (m *Marketplace) ExecuteOrder(ctx context.Context, raw Address, contract Address, assetID uint64, price uint64) (Order, error) {
	return m.execute(ctx, raw, contract, assetID, price, nil)
}

// SafeExecuteOrder is ExecuteOrder with an asset fingerprint proof, for
// contracts whose assets carry mutable composition.
func (m *Marketplace) SafeExecuteOrder(ctx context.Context, raw Address, contract Address, assetID uint64, price uint64, fingerprint []byte) (Order, error) {
	return m.execute(ctx, raw, contract, assetID, price, fingerprint)
}

func (m *Marketplace) execute(ctx context.Context, raw Address, contract Address, assetID uint64, price uint64, fingerprint []byte) (Order, error) {
	caller, err := m.resolver.ResolveCaller(ctx, raw)
	if err != nil {
		return Order{}, err
	}
	if m.gate.IsPaused() {
		return Order{}, ErrMarketPaused
	}
	if err := m.assets.Validate(contract); err != nil {
		return Order{}, err
	}
	if m.assets.SupportsFingerprint(contract) {
		ok, err := m.assets.VerifyFingerprint(contract, assetID, fingerprint)
		if err != nil {
			return Order{}, err
		}
		if !ok {
			return Order{}, ErrInvalidFingerprint
		}
	}

	order, ok := m.registry.Get(contract, assetID)
	if !ok {
		return Order{}, ErrNotListed
	}
	if order.Seller.IsZero() {
		// A zero seller cannot be paid; treat the entry as corrupt.
		return Order{}, ErrNotListed
	}
	if caller == order.Seller {
		return Order{}, ErrSelfTradeForbidden
	}
	if price != order.Price {
		return Order{}, ErrPriceMismatch
	}
	now := m.clock.Now()
	if !now.Before(order.ExpiresAt) {
		return Order{}, ErrOrderExpired
	}
	owner, err := m.assets.OwnerOf(contract, assetID)
	if err != nil {
		return Order{}, err
	}
	if owner != order.Seller {
		return Order{}, ErrSellerNoLongerOwner
	}

	// Remove the listing before any value transfer: a reentrant call from
	// a transfer hook must observe NotListed for this key.
	j := NewJournal()
	if _, err := m.registry.Remove(j, contract, assetID); err != nil {
		return Order{}, err
	}

	platformShare, sellerShare := ComputeShares(order.Price, m.OwnerCutPerMillion())
	if platformShare > 0 {
		if err := m.payments.TransferFrom(j, caller, m.beneficiary, platformShare); err != nil {
			j.Rollback()
			return Order{}, fmt.Errorf("platform share: %w", err)
		}
	}
	if err := m.payments.TransferFrom(j, caller, order.Seller, sellerShare); err != nil {
		j.Rollback()
		return Order{}, fmt.Errorf("seller share: %w", err)
	}
	if err := m.assets.Transfer(j, contract, order.Seller, caller, assetID); err != nil {
		j.Rollback()
		return Order{}, fmt.Errorf("asset transfer: %w", err)
	}
	j.Commit()

	m.emitter.Emit(now, OrderSuccessful{
		ID:            order.ID,
		AssetContract: contract,
		AssetID:       assetID,
		Seller:        order.Seller,
		Price:         order.Price,
		Buyer:         caller,
	})
	return order, nil
}
