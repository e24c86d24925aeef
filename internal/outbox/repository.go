package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/doodledash/doodledash/internal/sqlutil"
)

// ErrEventNotFound is returned when an outbox row is missing or already
// sent.
var ErrEventNotFound = errors.New("outbox event not found or already sent")

// Repository persists outbox events alongside the domain rows they
// describe.
type Repository struct {
	db sqlutil.DBTX
}

func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a copy of the repository bound to tx, so the event row
// commits atomically with the mutation that produced it.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

// InsertEvent allocates the room's next feed sequence number and
// appends the event row. Run it inside the mutation's transaction for
// all-or-nothing commits.
func (r *Repository) InsertEvent(ctx context.Context, roomCode, eventType string, payload []byte) error {
	var seq int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO room_seq (room_code, seq) VALUES ($1, 1)
		ON CONFLICT (room_code) DO UPDATE SET seq = room_seq.seq + 1
		RETURNING seq`, roomCode).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to allocate event sequence: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO room_outbox (id, room_code, event_type, seq, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), roomCode, eventType, seq, payload)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// LatestSeq returns the highest sequence number allocated for a room's
// feed, or zero when the room has no events yet.
func (r *Repository) LatestSeq(ctx context.Context, roomCode string) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx, `
		SELECT seq FROM room_seq WHERE room_code = $1`, roomCode).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read latest sequence: %w", err)
	}
	return seq, nil
}

// FetchUnsent returns up to limit unpublished events, oldest first.
func (r *Repository) FetchUnsent(ctx context.Context, limit int32) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, room_code, event_type, seq, payload, created_at
		FROM room_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.RoomCode, &ev.EventType, &ev.Seq, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}
	return events, nil
}

// FetchByID returns one unsent event.
func (r *Repository) FetchByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	var ev Event
	err := r.db.QueryRowContext(ctx, `
		SELECT id, room_code, event_type, seq, payload, created_at
		FROM room_outbox
		WHERE id = $1 AND sent_at IS NULL`, id).
		Scan(&ev.ID, &ev.RoomCode, &ev.EventType, &ev.Seq, &ev.Payload, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}
	return &ev, nil
}

// MarkSent stamps the event as published.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE room_outbox SET sent_at = now() WHERE id = $1 AND sent_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}
