// Package postgres persists the marketplace notification stream. Events
// are spooled through a buffered channel and written by a background
// goroutine, so a slow database never blocks settlement.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"bazaar/internal/market"
)

const schema = `
CREATE TABLE IF NOT EXISTS marketplace_events (
	seq        BIGINT PRIMARY KEY,
	emitted_at TIMESTAMPTZ NOT NULL,
	name       TEXT NOT NULL,
	payload    JSONB NOT NULL
)`

const spoolSize = 256

// Archive is the append-only event store.
type Archive struct {
	pool  *pgxpool.Pool
	spool chan market.Envelope
}

// Open connects to dsn and ensures the events table exists.
func Open(ctx context.Context, dsn string) (*Archive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect archive: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Archive{
		pool:  pool,
		spool: make(chan market.Envelope, spoolSize),
	}, nil
}

func (a *Archive) Close() {
	a.pool.Close()
}

// Append writes one event row.
func (a *Archive) Append(ctx context.Context, env market.Envelope) error {
	payload, err := json.Marshal(env.Event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = a.pool.Exec(ctx,
		`INSERT INTO marketplace_events (seq, emitted_at, name, payload)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (seq) DO NOTHING`,
		int64(env.Seq), env.At, env.Event.Name(), payload,
	)
	if err != nil {
		return fmt.Errorf("append event %d: %w", env.Seq, err)
	}
	return nil
}

// Record is one archived notification.
type Record struct {
	Seq     uint64
	At      time.Time
	Name    string
	Payload []byte
}

// Recent returns the newest limit events, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT seq, emitted_at, name, payload
		 FROM marketplace_events
		 ORDER BY seq DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var seq int64
		if err := rows.Scan(&seq, &r.At, &r.Name, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Seq = uint64(seq)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Attach subscribes the archive to the event stream and starts the spool
// writer under t. Events arriving while the spool is full are dropped with
// a warning rather than stalling the emitting operation.
func (a *Archive) Attach(t *tomb.Tomb, bus *market.Bus) {
	bus.Subscribe(func(env market.Envelope) {
		select {
		case a.spool <- env:
		default:
			log.Warn().Uint64("seq", env.Seq).Msg("archive spool full, dropping event")
		}
	})

	t.Go(func() error {
		for {
			select {
			case <-t.Dying():
				return nil
			case env := <-a.spool:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := a.Append(ctx, env); err != nil {
					log.Error().Err(err).Uint64("seq", env.Seq).Msg("unable to archive event")
				}
				cancel()
			}
		}
	})
}
