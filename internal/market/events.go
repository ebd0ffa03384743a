package market

import (
	"sync"
	"time"
)

// Event is one marketplace notification. Concrete event payloads carry the
// full identity of the listing they concern.
type Event interface {
	Name() string
}

type OrderCreated struct {
	ID            OrderID
	AssetContract Address
	AssetID       uint64
	Seller        Address
	Price         uint64
	ExpiresAt     time.Time
}

func (OrderCreated) Name() string { return "OrderCreated" }

type OrderSuccessful struct {
	ID            OrderID
	AssetContract Address
	AssetID       uint64
	Seller        Address
	Price         uint64
	Buyer         Address
}

func (OrderSuccessful) Name() string { return "OrderSuccessful" }

type OrderCancelled struct {
	ID            OrderID
	AssetContract Address
	AssetID       uint64
	Seller        Address
}

func (OrderCancelled) Name() string { return "OrderCancelled" }

type ChangedPublicationFee struct {
	Fee uint64
}

func (ChangedPublicationFee) Name() string { return "ChangedPublicationFee" }

type ChangedOwnerCutPerMillion struct {
	CutPerMillion uint64
}

func (ChangedOwnerCutPerMillion) Name() string { return "ChangedOwnerCutPerMillion" }

// Envelope pairs an event with its position in the ordered notification
// stream.
type Envelope struct {
	Seq   uint64
	At    time.Time
	Event Event
}

// Emitter receives notifications from the marketplace. Events are emitted
// only after their operation has committed.
type Emitter interface {
	Emit(at time.Time, ev Event)
}

// Bus is an append-ordered fan-out of marketplace events. Subscribers are
// invoked synchronously in subscription order, so every subscriber observes
// the same global event sequence.
type Bus struct {
	mu   sync.Mutex
	seq  uint64
	subs []func(Envelope)
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for all future events.
func (b *Bus) Subscribe(fn func(Envelope)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

func (b *Bus) Emit(at time.Time, ev Event) {
	b.mu.Lock()
	b.seq++
	env := Envelope{Seq: b.seq, At: at, Event: ev}
	subs := make([]func(Envelope), len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(env)
	}
}
