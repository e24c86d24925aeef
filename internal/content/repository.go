package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/doodledash/doodledash/internal/models"
	"github.com/doodledash/doodledash/internal/sqlutil"
)

const contentColumns = `id, room_id, player_id, caption, image_url, used_in_round, created_at`

// CreateContentRequest represents a caption submission.
type CreateContentRequest struct {
	ID       uuid.UUID `json:"id"`
	RoomID   uuid.UUID `json:"room_id"`
	PlayerID uuid.UUID `json:"player_id"`
	Caption  string    `json:"caption"`
}

// Repository persists content items in the authoritative store.
type Repository struct {
	db sqlutil.DBTX
}

func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a copy of the repository bound to tx.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) CreateContent(ctx context.Context, req CreateContentRequest) (*models.ContentItem, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO content_items (id, room_id, player_id, caption)
		VALUES ($1, $2, $3, $4)
		RETURNING `+contentColumns,
		req.ID, req.RoomID, req.PlayerID, req.Caption)

	item, err := scanContent(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create content item: %w", err)
	}
	return item, nil
}

func (r *Repository) GetContent(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+contentColumns+` FROM content_items WHERE id = $1`, id)

	item, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content item: %w", err)
	}
	return item, nil
}

// AttachImage records the rendered image URL for an item.
func (r *Repository) AttachImage(ctx context.Context, id uuid.UUID, imageURL string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE content_items SET image_url = $2 WHERE id = $1`,
		id, imageURL)
	if err != nil {
		return fmt.Errorf("failed to attach image: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContentNotFound
	}
	return nil
}

// SelectUnused picks one rendered, unconsumed item uniformly at random.
func (r *Repository) SelectUnused(ctx context.Context, roomID uuid.UUID) (*models.ContentItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+contentColumns+` FROM content_items
		WHERE room_id = $1 AND used_in_round IS NULL AND image_url IS NOT NULL
		ORDER BY random()
		LIMIT 1`, roomID)

	item, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPoolExhausted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select unused content: %w", err)
	}
	return item, nil
}

// MarkUsed consumes an item for a round. The IS NULL guard keeps an
// item from ever being consumed by two rounds.
func (r *Repository) MarkUsed(ctx context.Context, id uuid.UUID, round int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE content_items SET used_in_round = $2
		WHERE id = $1 AND used_in_round IS NULL`,
		id, round)
	if err != nil {
		return fmt.Errorf("failed to mark content used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyUsed
	}
	return nil
}

// ResetUsed clears all used markers for a room (pool exhaustion policy).
func (r *Repository) ResetUsed(ctx context.Context, roomID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE content_items SET used_in_round = NULL WHERE room_id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("failed to reset used markers: %w", err)
	}
	return nil
}

func (r *Repository) ListContent(ctx context.Context, roomID uuid.UUID) ([]models.ContentItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contentColumns+` FROM content_items WHERE room_id = $1 ORDER BY created_at`,
		roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	defer rows.Close()

	var items []models.ContentItem
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate content items: %w", err)
	}
	return items, nil
}

// CountRendered returns how many items in the room have an image
// attached and are eligible for selection once unused.
func (r *Repository) CountRendered(ctx context.Context, roomID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM content_items
		WHERE room_id = $1 AND image_url IS NOT NULL`, roomID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rendered content: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContent(row scanner) (*models.ContentItem, error) {
	var (
		item     models.ContentItem
		imageURL sql.NullString
		usedIn   sql.NullInt32
	)
	if err := row.Scan(&item.ID, &item.RoomID, &item.PlayerID, &item.Caption,
		&imageURL, &usedIn, &item.CreatedAt); err != nil {
		return nil, err
	}

	if item.Caption == "" {
		return nil, fmt.Errorf("malformed content row: empty caption")
	}
	if imageURL.Valid {
		item.ImageURL = &imageURL.String
	}
	if usedIn.Valid {
		used := int(usedIn.Int32)
		item.UsedInRound = &used
	}
	return &item, nil
}
