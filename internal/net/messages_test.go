package net

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bazaar/internal/market"
)

func TestCreateOrderMessageRoundTrip(t *testing.T) {
	msg := CreateOrderMessage{
		BaseMessage:   BaseMessage{TypeOf: CreateOrder},
		Caller:        "alice",
		AssetContract: "land",
		AssetID:       42,
		Price:         1_000_000,
		ExpiresAt:     time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC),
	}

	wire, err := SerializeMessage(msg)
	require.NoError(t, err)
	parsed, err := parseMessage(wire)
	require.NoError(t, err)
	assert.Equal(t, msg, parsed)
}

func TestExecuteOrderMessageCarriesFingerprint(t *testing.T) {
	msg := ExecuteOrderMessage{
		BaseMessage:   BaseMessage{TypeOf: ExecuteOrder},
		Caller:        "bob",
		AssetContract: "estate",
		AssetID:       7,
		Price:         500,
		Fingerprint:   []byte{0xde, 0xad},
	}

	wire, err := SerializeMessage(msg)
	require.NoError(t, err)
	parsed, err := parseMessage(wire)
	require.NoError(t, err)
	assert.Equal(t, msg, parsed)
}

func TestAdminAndCancelMessages(t *testing.T) {
	for _, msg := range []Message{
		CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}, Caller: "alice", AssetContract: "land", AssetID: 1},
		AdminMessage{BaseMessage: BaseMessage{TypeOf: SetOwnerCut}, Caller: "admin", Value: 25_000},
		AdminMessage{BaseMessage: BaseMessage{TypeOf: SetPublicationFee}, Caller: "admin", Value: 42},
		BaseMessage{TypeOf: Heartbeat},
	} {
		wire, err := SerializeMessage(msg)
		require.NoError(t, err)
		parsed, err := parseMessage(wire)
		require.NoError(t, err)
		assert.Equal(t, msg, parsed)
	}
}

func TestParseMessageRejectsGarbage(t *testing.T) {
	_, err := parseMessage(nil)
	assert.ErrorIs(t, err, ErrMessageTooShort)

	_, err = parseMessage([]byte{0xff, 0xff})
	assert.ErrorIs(t, err, ErrInvalidMessageType)

	// A create message cut off mid-field.
	full, err := SerializeMessage(CreateOrderMessage{
		BaseMessage:   BaseMessage{TypeOf: CreateOrder},
		Caller:        "alice",
		AssetContract: "land",
		ExpiresAt:     time.Unix(0, 0),
	})
	require.NoError(t, err)
	_, err = parseMessage(full[:len(full)-3])
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestReportRoundTrip(t *testing.T) {
	report := Report{
		TypeOf:  EventReport,
		Seq:     9,
		At:      1_717_243_200,
		Event:   "OrderSuccessful",
		Payload: []byte(`{"Buyer":"bob"}`),
	}

	wire, err := report.Serialize()
	require.NoError(t, err)
	parsed, err := ParseReport(wire)
	require.NoError(t, err)
	assert.Equal(t, report, parsed)
}

func TestErrorReportRoundTrip(t *testing.T) {
	report := Report{
		TypeOf:  ErrorReport,
		Request: ExecuteOrder,
		Err:     market.ErrNotListed.Error(),
		Payload: []byte{},
	}

	wire, err := report.Serialize()
	require.NoError(t, err)
	parsed, err := ParseReport(wire)
	require.NoError(t, err)
	assert.Equal(t, report.Err, parsed.Err)
	assert.Equal(t, ExecuteOrder, parsed.Request)
}

func TestFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("payload")))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestFramingRejectsOversizedFrames(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, writeFrame(&buf, make([]byte, maxFrameSize+1)), ErrFrameTooLarge)

	// A forged oversized header is rejected before allocation.
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := readFrame(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}
