package room

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/doodledash/doodledash/internal/models"
	"github.com/doodledash/doodledash/internal/sqlutil"
)

const roomColumns = `id, code, host_id, status, current_round, total_rounds, current_image, current_options, correct_prompt, created_at, updated_at`

// Repository persists rooms in the authoritative store.
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

func (r *Repository) CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Room, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO rooms (id, code, status)
		VALUES ($1, $2, $3)
		RETURNING `+roomColumns,
		req.ID, req.Code, models.RoomStatusLobby)

	room, err := scanRoom(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

func (r *Repository) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+roomColumns+` FROM rooms WHERE code = $1`, code)

	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

func (r *Repository) GetRoomByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id)

	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

func (r *Repository) SetHost(ctx context.Context, roomID, hostID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rooms SET host_id = $2, updated_at = now() WHERE id = $1`,
		roomID, hostID)
	if err != nil {
		return fmt.Errorf("failed to set host: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *Repository) UpdateStatus(ctx context.Context, roomID uuid.UUID, status models.RoomStatus) (*models.Room, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE rooms SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+roomColumns,
		roomID, status)

	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update room status: %w", err)
	}
	return room, nil
}

// StartPlaying transitions a collecting room into the playing phase and
// fixes its total round count. The conditional WHERE makes the
// transition succeed at most once.
func (r *Repository) StartPlaying(ctx context.Context, roomID uuid.UUID, totalRounds int) (*models.Room, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE rooms SET status = $2, total_rounds = $3, updated_at = now()
		WHERE id = $1 AND status = $4
		RETURNING `+roomColumns,
		roomID, models.RoomStatusPlaying, totalRounds, models.RoomStatusCollecting)

	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlreadyStarted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start game: %w", err)
	}
	return room, nil
}

// CommitRound performs the compare-and-commit round advance: the update
// only lands if the room is still playing and its current round still
// equals req.FromRound. A losing concurrent caller gets
// ErrConcurrentAdvance.
func (r *Repository) CommitRound(ctx context.Context, req CommitRoundRequest) (*models.Room, error) {
	optionsJSON, err := json.Marshal(req.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal options: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE rooms
		SET current_round = current_round + 1,
		    current_image = $3,
		    current_options = $4,
		    correct_prompt = $5,
		    updated_at = now()
		WHERE id = $1 AND current_round = $2 AND status = $6
		RETURNING `+roomColumns,
		req.RoomID, req.FromRound, req.ImageURL, optionsJSON, req.CorrectPrompt,
		models.RoomStatusPlaying)

	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConcurrentAdvance
	}
	if err != nil {
		return nil, fmt.Errorf("failed to commit round: %w", err)
	}
	return room, nil
}

// CompleteRoom marks the game finished, guarded on the final round
// number so only one caller commits the terminal transition.
func (r *Repository) CompleteRoom(ctx context.Context, roomID uuid.UUID, fromRound int) (*models.Room, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE rooms
		SET status = $3, current_image = NULL, current_options = NULL,
		    correct_prompt = NULL, updated_at = now()
		WHERE id = $1 AND current_round = $2 AND status = $4
		RETURNING `+roomColumns,
		roomID, fromRound, models.RoomStatusCompleted, models.RoomStatusPlaying)

	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConcurrentAdvance
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete room: %w", err)
	}
	return room, nil
}

// InsertRound records the committed round row.
func (r *Repository) InsertRound(ctx context.Context, round *models.Round) error {
	optionsJSON, err := json.Marshal(round.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal round options: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rounds (id, room_id, number, content_item_id, image_url, options, correct_prompt)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		round.ID, round.RoomID, round.Number, round.ContentItemID,
		round.ImageURL, optionsJSON, round.CorrectPrompt)
	if err != nil {
		return fmt.Errorf("failed to insert round: %w", err)
	}
	return nil
}

// GetRound fetches one committed round by number.
func (r *Repository) GetRound(ctx context.Context, roomID uuid.UUID, number int) (*models.Round, error) {
	var (
		round       models.Round
		optionsJSON []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, room_id, number, content_item_id, image_url, options, correct_prompt, committed_at
		FROM rounds WHERE room_id = $1 AND number = $2`,
		roomID, number).Scan(
		&round.ID, &round.RoomID, &round.Number, &round.ContentItemID,
		&round.ImageURL, &optionsJSON, &round.CorrectPrompt, &round.CommittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	if err := json.Unmarshal(optionsJSON, &round.Options); err != nil {
		return nil, fmt.Errorf("malformed round options: %w", err)
	}
	return &round, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRoom converts a room row into the model, rejecting malformed rows
// instead of letting undefined fields reach orchestration logic.
func scanRoom(row scanner) (*models.Room, error) {
	var (
		id            uuid.UUID
		code          string
		hostID        uuid.NullUUID
		status        string
		currentRound  int32
		totalRounds   int32
		currentImage  sql.NullString
		options       pqtype.NullRawMessage
		correctPrompt sql.NullString
		createdAt     time.Time
		updatedAt     time.Time
	)

	if err := row.Scan(&id, &code, &hostID, &status, &currentRound, &totalRounds,
		&currentImage, &options, &correctPrompt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	roomStatus := models.RoomStatus(status)
	if !roomStatus.Valid() {
		return nil, fmt.Errorf("malformed room row: unknown status %q", status)
	}
	if currentRound < 0 || totalRounds < 0 {
		return nil, fmt.Errorf("malformed room row: negative round counters")
	}

	room := &models.Room{
		ID:           id,
		Code:         code,
		Status:       roomStatus,
		CurrentRound: int(currentRound),
		TotalRounds:  int(totalRounds),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
	if hostID.Valid {
		room.HostID = hostID.UUID
	}
	if currentImage.Valid {
		room.CurrentImage = &currentImage.String
	}
	if correctPrompt.Valid {
		room.CorrectPrompt = &correctPrompt.String
	}
	if options.Valid {
		if err := json.Unmarshal(options.RawMessage, &room.Options); err != nil {
			return nil, fmt.Errorf("malformed room row: bad options json: %w", err)
		}
	}
	return room, nil
}
