package market

// PaymentGateway wraps the external fungible payment-token contract. The
// gateway is bound to the marketplace's own spender identity; TransferFrom
// draws on the allowance the payer granted to that identity.
//
// A failed transfer must leave no trace; implementations either mutate
// nothing on failure or journal their mutation so the caller's rollback
// restores it.
type PaymentGateway interface {
	TransferFrom(j *Journal, from, to Address, amount uint64) error
}

// AssetGateway wraps the external non-fungible asset contract. All calls
// are synchronous; any failure aborts the enclosing operation.
type AssetGateway interface {
	// Validate reports whether contract is a deployed asset contract
	// advertising the expected interface; anything else is
	// ErrInvalidAssetContract.
	Validate(contract Address) error

	OwnerOf(contract Address, assetID uint64) (Address, error)

	// IsTransferAuthorized reports whether the marketplace's bound
	// operator identity may move assetID out of owner's hands, either by
	// per-asset approval or approval-for-all.
	IsTransferAuthorized(contract Address, owner Address, assetID uint64) (bool, error)

	// SupportsFingerprint reports whether the contract advertises
	// fingerprint verification; VerifyFingerprint is only meaningful when
	// it does.
	SupportsFingerprint(contract Address) bool
	VerifyFingerprint(contract Address, assetID uint64, proof []byte) (bool, error)

	Transfer(j *Journal, contract Address, from, to Address, assetID uint64) error
}

// OrderRegistry is the single source of truth for "is this asset listed".
// Implementations must distinguish a missing entry from a present zero
// order, and must journal mutations so failed operations unwind cleanly.
type OrderRegistry interface {
	Get(contract Address, assetID uint64) (Order, bool)
	// Put unconditionally stores the order under its asset key,
	// overwriting any existing entry.
	Put(j *Journal, order Order)
	// Remove deletes and returns the entry, or ErrNotListed if absent.
	Remove(j *Journal, contract Address, assetID uint64) (Order, error)
}
