package market

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Address identifies a participant or a deployed contract. The empty value
// is the zero identity and never owns anything.
type Address string

const ZeroAddress Address = ""

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// OrderID is the opaque identifier of a listing. The empty value is the
// "no order" sentinel.
type OrderID string

// Order is one active fixed-price listing. Orders are immutable once
// created; changing terms requires cancel + recreate.
type Order struct {
	ID            OrderID
	Seller        Address
	AssetContract Address
	AssetID       uint64
	Price         uint64    // smallest unit of the payment token
	ExpiresAt     time.Time // execution is blocked at and after this instant
	CreatedAt     time.Time
}

// deriveOrderID produces a fresh id from the creation instant and the order
// terms, so two orders created in the same instant for different assets
// never collide.
func deriveOrderID(at time.Time, seller Address, contract Address, assetID uint64, price uint64) OrderID {
	name := fmt.Sprintf("%d|%s|%s|%d|%d", at.UnixNano(), seller, contract, assetID, price)
	return OrderID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String())
}
