package player

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/doodledash/doodledash/internal/models"
	"github.com/doodledash/doodledash/internal/sqlutil"
)

const playerColumns = `id, room_id, username, role, score, has_answered, joined_at`

// CreatePlayerRequest represents a request to add a player to a room.
type CreatePlayerRequest struct {
	ID       uuid.UUID         `json:"id"`
	RoomID   uuid.UUID         `json:"room_id"`
	Username string            `json:"username"`
	Role     models.PlayerRole `json:"role"`
}

// Repository persists players in the authoritative store.
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

func (r *Repository) CreatePlayer(ctx context.Context, req CreatePlayerRequest) (*models.Player, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO players (id, room_id, username, role)
		VALUES ($1, $2, $3, $4)
		RETURNING `+playerColumns,
		req.ID, req.RoomID, req.Username, req.Role)

	p, err := scanPlayer(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	return p, nil
}

func (r *Repository) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+playerColumns+` FROM players WHERE id = $1`, id)

	p, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return p, nil
}

func (r *Repository) ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+playerColumns+` FROM players WHERE room_id = $1 ORDER BY joined_at`,
		roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate players: %w", err)
	}
	return players, nil
}

// AddScore increments a player's score. Scores only move up; negative
// deltas are rejected.
func (r *Repository) AddScore(ctx context.Context, playerID uuid.UUID, delta int) (*models.Player, error) {
	if delta < 0 {
		return nil, fmt.Errorf("score delta must be non-negative, got %d", delta)
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE players SET score = score + $2 WHERE id = $1
		RETURNING `+playerColumns,
		playerID, delta)

	p, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add score: %w", err)
	}
	return p, nil
}

func (r *Repository) SetAnswered(ctx context.Context, playerID uuid.UUID, answered bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE players SET has_answered = $2 WHERE id = $1`,
		playerID, answered)
	if err != nil {
		return fmt.Errorf("failed to set answered flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// ResetAnswered clears every player's answered flag at the start of a
// round.
func (r *Repository) ResetAnswered(ctx context.Context, roomID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE players SET has_answered = FALSE WHERE room_id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("failed to reset answered flags: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row scanner) (*models.Player, error) {
	var (
		p    models.Player
		role string
	)
	if err := row.Scan(&p.ID, &p.RoomID, &p.Username, &role, &p.Score,
		&p.HasAnswered, &p.JoinedAt); err != nil {
		return nil, err
	}

	p.Role = models.PlayerRole(role)
	if !p.Role.Valid() {
		return nil, fmt.Errorf("malformed player row: unknown role %q", role)
	}
	if p.Username == "" {
		return nil, fmt.Errorf("malformed player row: empty username")
	}
	return &p, nil
}
