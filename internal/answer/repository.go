package answer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/doodledash/doodledash/internal/models"
	"github.com/doodledash/doodledash/internal/sqlutil"
)

// Repository persists answer rows. The unique (room, round, player)
// constraint is what makes guess submission idempotent at the storage
// layer.
type Repository struct {
	db sqlutil.DBTX
}

func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

// RecordAnswer inserts an answer row. It returns false without error
// when the player has already answered this round.
func (r *Repository) RecordAnswer(ctx context.Context, ans *models.Answer) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO answers (id, room_id, round_number, player_id, selected_option, correct)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, round_number, player_id) DO NOTHING
	`, ans.ID, ans.RoomID, ans.RoundNumber, ans.PlayerID, ans.SelectedOption, ans.Correct)
	if err != nil {
		return false, fmt.Errorf("failed to record answer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read answer insert result: %w", err)
	}
	return n == 1, nil
}

// ListForRound returns every answer recorded for one round of a room.
func (r *Repository) ListForRound(ctx context.Context, roomID uuid.UUID, round int) ([]models.Answer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, room_id, round_number, player_id, selected_option, correct, answered_at
		FROM answers
		WHERE room_id = $1 AND round_number = $2
		ORDER BY answered_at
	`, roomID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	defer rows.Close()

	var answers []models.Answer
	for rows.Next() {
		var ans models.Answer
		if err := rows.Scan(&ans.ID, &ans.RoomID, &ans.RoundNumber, &ans.PlayerID, &ans.SelectedOption, &ans.Correct, &ans.AnsweredAt); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		answers = append(answers, ans)
	}
	return answers, rows.Err()
}
