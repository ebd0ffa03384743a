package net

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bazaar/internal/market"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrFieldTooLong       = errors.New("field exceeds maximum length")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	CreateOrder
	CancelOrder
	ExecuteOrder
	SetOwnerCut
	SetPublicationFee
)

type ReportType uint8

const (
	AckReport ReportType = iota
	ErrorReport
	EventReport
)

type Message interface {
	GetType() MessageType
}

type BaseMessage struct {
	TypeOf MessageType
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

// cursor walks a received payload field by field. All multi-byte fields are
// big-endian; strings and byte fields carry a length prefix.
type cursor struct {
	buf []byte
	err error
}

func (c *cursor) uint64() uint64 {
	if c.err != nil {
		return 0
	}
	if len(c.buf) < 8 {
		c.err = ErrMessageTooShort
		return 0
	}
	v := binary.BigEndian.Uint64(c.buf[:8])
	c.buf = c.buf[8:]
	return v
}

func (c *cursor) int64() int64 {
	return int64(c.uint64())
}

func (c *cursor) bytes16() []byte {
	if c.err != nil {
		return nil
	}
	if len(c.buf) < 2 {
		c.err = ErrMessageTooShort
		return nil
	}
	n := int(binary.BigEndian.Uint16(c.buf[:2]))
	c.buf = c.buf[2:]
	if len(c.buf) < n {
		c.err = ErrMessageTooShort
		return nil
	}
	v := c.buf[:n]
	c.buf = c.buf[n:]
	return v
}

func (c *cursor) address() market.Address {
	return market.Address(c.bytes16())
}

// writer builds an outgoing payload with the same encoding.
type writer struct {
	buf []byte
}

func (w *writer) uint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *writer) int64(v int64) {
	w.uint64(uint64(v))
}

func (w *writer) bytes16(b []byte) error {
	if len(b) > 0xffff {
		return ErrFieldTooLong
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

func (w *writer) address(a market.Address) error {
	return w.bytes16([]byte(a))
}

type CreateOrderMessage struct {
	BaseMessage
	Caller        market.Address
	AssetContract market.Address
	AssetID       uint64
	Price         uint64
	ExpiresAt     time.Time
}

type CancelOrderMessage struct {
	BaseMessage
	Caller        market.Address
	AssetContract market.Address
	AssetID       uint64
}

type ExecuteOrderMessage struct {
	BaseMessage
	Caller        market.Address
	AssetContract market.Address
	AssetID       uint64
	Price         uint64
	Fingerprint   []byte // empty for the plain execute variant
}

// AdminMessage covers the owner-only setters; the message type selects
// which configuration value changes.
type AdminMessage struct {
	BaseMessage
	Caller market.Address
	Value  uint64
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < 2 {
		return BaseMessage{}, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[:2]))
	c := &cursor{buf: msg[2:]}

	switch typeOf {
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	case CreateOrder:
		m := CreateOrderMessage{BaseMessage: BaseMessage{TypeOf: CreateOrder}}
		m.Caller = c.address()
		m.AssetContract = c.address()
		m.AssetID = c.uint64()
		m.Price = c.uint64()
		m.ExpiresAt = time.Unix(c.int64(), 0).UTC()
		return m, c.err
	case CancelOrder:
		m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}
		m.Caller = c.address()
		m.AssetContract = c.address()
		m.AssetID = c.uint64()
		return m, c.err
	case ExecuteOrder:
		m := ExecuteOrderMessage{BaseMessage: BaseMessage{TypeOf: ExecuteOrder}}
		m.Caller = c.address()
		m.AssetContract = c.address()
		m.AssetID = c.uint64()
		m.Price = c.uint64()
		m.Fingerprint = append([]byte(nil), c.bytes16()...)
		return m, c.err
	case SetOwnerCut, SetPublicationFee:
		m := AdminMessage{BaseMessage: BaseMessage{TypeOf: typeOf}}
		m.Caller = c.address()
		m.Value = c.uint64()
		return m, c.err
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

// SerializeMessage encodes a request for the wire. The client uses this;
// the server only parses.
func SerializeMessage(m Message) ([]byte, error) {
	w := &writer{buf: binary.BigEndian.AppendUint16(nil, uint16(m.GetType()))}
	var err error
	switch msg := m.(type) {
	case BaseMessage:
	case CreateOrderMessage:
		if err = w.address(msg.Caller); err == nil {
			err = w.address(msg.AssetContract)
		}
		w.uint64(msg.AssetID)
		w.uint64(msg.Price)
		w.int64(msg.ExpiresAt.Unix())
	case CancelOrderMessage:
		if err = w.address(msg.Caller); err == nil {
			err = w.address(msg.AssetContract)
		}
		w.uint64(msg.AssetID)
	case ExecuteOrderMessage:
		if err = w.address(msg.Caller); err == nil {
			err = w.address(msg.AssetContract)
		}
		w.uint64(msg.AssetID)
		w.uint64(msg.Price)
		if err == nil {
			err = w.bytes16(msg.Fingerprint)
		}
	case AdminMessage:
		err = w.address(msg.Caller)
		w.uint64(msg.Value)
	default:
		return nil, ErrInvalidMessageType
	}
	if err != nil {
		return nil, err
	}
	return w.buf, nil
}

// Report is a server-to-client notification: the acknowledgement of a
// request, an error, or a marketplace event from the global stream.
type Report struct {
	TypeOf  ReportType
	Request MessageType    // which request an ack/error answers
	OrderID market.OrderID // set on acks that concern one order
	Err     string
	Seq     uint64 // event stream position
	At      int64  // unix seconds
	Event   string // event name
	Payload []byte // event payload, JSON
}

func (r *Report) Serialize() ([]byte, error) {
	w := &writer{buf: []byte{byte(r.TypeOf)}}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(r.Request))
	if err := w.bytes16([]byte(r.OrderID)); err != nil {
		return nil, err
	}
	if err := w.bytes16([]byte(r.Err)); err != nil {
		return nil, err
	}
	w.uint64(r.Seq)
	w.int64(r.At)
	if err := w.bytes16([]byte(r.Event)); err != nil {
		return nil, err
	}
	if err := w.bytes16(r.Payload); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func ParseReport(buf []byte) (Report, error) {
	if len(buf) < 3 {
		return Report{}, ErrMessageTooShort
	}
	r := Report{TypeOf: ReportType(buf[0])}
	r.Request = MessageType(binary.BigEndian.Uint16(buf[1:3]))
	c := &cursor{buf: buf[3:]}
	r.OrderID = market.OrderID(c.bytes16())
	r.Err = string(c.bytes16())
	r.Seq = c.uint64()
	r.At = c.int64()
	r.Event = string(c.bytes16())
	r.Payload = append([]byte(nil), c.bytes16()...)
	return r, c.err
}

func eventReport(env market.Envelope) (Report, error) {
	payload, err := json.Marshal(env.Event)
	if err != nil {
		return Report{}, fmt.Errorf("encode event: %w", err)
	}
	return Report{
		TypeOf:  EventReport,
		Seq:     env.Seq,
		At:      env.At.Unix(),
		Event:   env.Event.Name(),
		Payload: payload,
	}, nil
}
