package market

import "errors"

var (
	ErrInvalidConfiguration    = errors.New("invalid configuration")
	ErrInvalidAssetContract    = errors.New("not a valid asset contract")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrNotAuthorizedToTransfer = errors.New("marketplace not authorized to transfer asset")
	ErrInvalidPrice            = errors.New("price must be greater than zero")
	ErrExpiryTooSoon           = errors.New("expiry too soon")
	ErrNotListed               = errors.New("asset not listed")
	ErrPriceMismatch           = errors.New("price mismatch")
	ErrOrderExpired            = errors.New("order expired")
	ErrSellerNoLongerOwner     = errors.New("seller no longer owns asset")
	ErrSelfTradeForbidden      = errors.New("seller cannot buy own asset")
	ErrInvalidFingerprint      = errors.New("asset fingerprint mismatch")
	ErrExternalTransferFailed  = errors.New("external transfer failed")
	ErrMarketPaused            = errors.New("marketplace paused")
)
