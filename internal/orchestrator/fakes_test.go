package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doodledash/doodledash/internal/content"
	"github.com/doodledash/doodledash/internal/events"
	"github.com/doodledash/doodledash/internal/models"
	"github.com/doodledash/doodledash/internal/player"
	"github.com/doodledash/doodledash/internal/room"
)

// fakeStore is an in-memory Store with the same compare-and-commit
// semantics as the SQL implementation.
type fakeStore struct {
	mu      sync.Mutex
	rm      *models.Room
	players map[uuid.UUID]*models.Player
	rounds  map[int]*models.Round
	answers map[string]*models.Answer
	pool    *fakePool
	commits chan int
}

func newFakeStore(pool *fakePool) *fakeStore {
	return &fakeStore{
		players: make(map[uuid.UUID]*models.Player),
		rounds:  make(map[int]*models.Round),
		answers: make(map[string]*models.Answer),
		pool:    pool,
		commits: make(chan int, 32),
	}
}

func cloneRoom(rm *models.Room) *models.Room {
	cp := *rm
	cp.Options = append([]string(nil), rm.Options...)
	return &cp
}

func (f *fakeStore) CreateRoomWithHost(ctx context.Context, code, username string) (*models.Room, *models.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	host := &models.Player{
		ID:       uuid.New(),
		Username: username,
		Role:     models.PlayerRoleHost,
		JoinedAt: time.Now(),
	}
	f.rm = &models.Room{
		ID:        uuid.New(),
		Code:      code,
		HostID:    host.ID,
		Status:    models.RoomStatusLobby,
		CreatedAt: time.Now(),
	}
	host.RoomID = f.rm.ID
	f.players[host.ID] = host
	pl := *host
	return cloneRoom(f.rm), &pl, nil
}

func (f *fakeStore) AddPlayer(ctx context.Context, rm *models.Room, username string) (*models.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rm.Status != models.RoomStatusLobby && f.rm.Status != models.RoomStatusCollecting {
		return nil, room.ErrRoomNotJoinable
	}
	for _, pl := range f.players {
		if pl.Username == username {
			return nil, player.ErrUsernameTaken
		}
	}
	pl := &models.Player{
		ID:       uuid.New(),
		RoomID:   f.rm.ID,
		Username: username,
		Role:     models.PlayerRoleGuesser,
		JoinedAt: time.Now(),
	}
	f.players[pl.ID] = pl
	cp := *pl
	return &cp, nil
}

func (f *fakeStore) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rm == nil || f.rm.Code != code {
		return nil, room.ErrRoomNotFound
	}
	return cloneRoom(f.rm), nil
}

func (f *fakeStore) GetRoomByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rm == nil || f.rm.ID != id {
		return nil, room.ErrRoomNotFound
	}
	return cloneRoom(f.rm), nil
}

func (f *fakeStore) ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Player
	for _, pl := range f.players {
		out = append(out, *pl)
	}
	return out, nil
}

func (f *fakeStore) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pl, ok := f.players[id]
	if !ok {
		return nil, player.ErrPlayerNotFound
	}
	cp := *pl
	return &cp, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, rm *models.Room, status models.RoomStatus) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rm.Status = status
	return cloneRoom(f.rm), nil
}

func (f *fakeStore) StartPlaying(ctx context.Context, roomID uuid.UUID, totalRounds int, payload events.GameStartedPayload) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rm.Status != models.RoomStatusCollecting {
		return nil, room.ErrAlreadyStarted
	}
	f.rm.Status = models.RoomStatusPlaying
	f.rm.TotalRounds = totalRounds
	return cloneRoom(f.rm), nil
}

func (f *fakeStore) CommitRound(ctx context.Context, req room.CommitRoundRequest) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rm == nil || f.rm.ID != req.RoomID {
		return nil, room.ErrRoomNotFound
	}
	if f.rm.Status != models.RoomStatusPlaying || f.rm.CurrentRound != req.FromRound {
		return nil, room.ErrConcurrentAdvance
	}
	f.rm.CurrentRound++
	f.rm.CurrentImage = &req.ImageURL
	f.rm.Options = append([]string(nil), req.Options...)
	f.rm.CorrectPrompt = &req.CorrectPrompt
	f.rm.UpdatedAt = time.Now()
	f.rounds[f.rm.CurrentRound] = &models.Round{
		ID:            uuid.New(),
		RoomID:        f.rm.ID,
		Number:        f.rm.CurrentRound,
		ContentItemID: req.ContentItemID,
		ImageURL:      req.ImageURL,
		Options:       append([]string(nil), req.Options...),
		CorrectPrompt: req.CorrectPrompt,
		CommittedAt:   f.rm.UpdatedAt,
	}
	f.pool.markUsed(req.ContentItemID, f.rm.CurrentRound)
	for _, pl := range f.players {
		pl.HasAnswered = false
	}
	select {
	case f.commits <- f.rm.CurrentRound:
	default:
	}
	return cloneRoom(f.rm), nil
}

func (f *fakeStore) CompleteRoom(ctx context.Context, roomID uuid.UUID, fromRound int, payload events.GameCompletedPayload) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rm.Status != models.RoomStatusPlaying || f.rm.CurrentRound != fromRound {
		return nil, room.ErrConcurrentAdvance
	}
	f.rm.Status = models.RoomStatusCompleted
	f.rm.CurrentImage = nil
	f.rm.Options = nil
	f.rm.CorrectPrompt = nil
	return cloneRoom(f.rm), nil
}

func (f *fakeStore) RecordAnswer(ctx context.Context, rm *models.Room, ans *models.Answer) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%d:%s", ans.RoundNumber, ans.PlayerID)
	if _, ok := f.answers[key]; ok {
		return false, nil
	}
	cp := *ans
	cp.AnsweredAt = time.Now()
	f.answers[key] = &cp
	if pl, ok := f.players[ans.PlayerID]; ok {
		pl.HasAnswered = true
	}
	return true, nil
}

func (f *fakeStore) AddScore(ctx context.Context, rm *models.Room, playerID uuid.UUID, delta int) (*models.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pl, ok := f.players[playerID]
	if !ok {
		return nil, player.ErrPlayerNotFound
	}
	pl.Score += delta
	cp := *pl
	return &cp, nil
}

func (f *fakeStore) GetRound(ctx context.Context, roomID uuid.UUID, number int) (*models.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rnd, ok := f.rounds[number]
	if !ok {
		return nil, room.ErrRoomNotFound
	}
	cp := *rnd
	return &cp, nil
}

func (f *fakeStore) ListAnswers(ctx context.Context, roomID uuid.UUID, round int) ([]models.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Answer
	for _, ans := range f.answers {
		if ans.RoundNumber == round {
			out = append(out, *ans)
		}
	}
	return out, nil
}

func (f *fakeStore) currentRound() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rm.CurrentRound
}

func (f *fakeStore) roundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rounds)
}

func (f *fakeStore) score(playerID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.players[playerID].Score
}

func (f *fakeStore) answerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.answers)
}

// fakePool is an in-memory ContentPool with used markers.
type fakePool struct {
	mu      sync.Mutex
	items   []*models.ContentItem
	resets  int
	renders int
}

func newFakePool() *fakePool {
	return &fakePool{}
}

func (f *fakePool) add(roomID, authorID uuid.UUID, caption string, rendered bool) *models.ContentItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := &models.ContentItem{
		ID:       uuid.New(),
		RoomID:   roomID,
		PlayerID: authorID,
		Caption:  caption,
	}
	if rendered {
		url := "https://img.example/" + item.ID.String()
		item.ImageURL = &url
	}
	f.items = append(f.items, item)
	return item
}

func (f *fakePool) Submit(ctx context.Context, rm *models.Room, playerID uuid.UUID, caption string) (*models.ContentItem, error) {
	item := f.add(rm.ID, playerID, caption, false)
	cp := *item
	return &cp, nil
}

func (f *fakePool) GetContent(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.ID == id {
			cp := *item
			return &cp, nil
		}
	}
	return nil, content.ErrContentNotFound
}

func (f *fakePool) SelectUnused(ctx context.Context, roomID uuid.UUID) (*models.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.RoomID == roomID && item.UsedInRound == nil && item.ImageURL != nil {
			cp := *item
			return &cp, nil
		}
	}
	return nil, content.ErrPoolExhausted
}

func (f *fakePool) markUsed(id uuid.UUID, round int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.ID == id {
			r := round
			item.UsedInRound = &r
		}
	}
}

func (f *fakePool) ResetUsed(ctx context.Context, roomID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	for _, item := range f.items {
		if item.RoomID == roomID {
			item.UsedInRound = nil
		}
	}
	return nil
}

func (f *fakePool) RetryRender(ctx context.Context, roomCode string, contentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.ID == contentID {
			f.renders++
			if item.ImageURL == nil {
				url := "https://img.example/" + item.ID.String()
				item.ImageURL = &url
			}
			return nil
		}
	}
	return content.ErrContentNotFound
}

func (f *fakePool) CountRendered(ctx context.Context, roomID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if item.RoomID == roomID && item.ImageURL != nil {
			n++
		}
	}
	return n, nil
}

func (f *fakePool) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

func (f *fakePool) renderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renders
}

// flakyStore fails a fixed number of RecordAnswer calls before
// delegating to the wrapped store.
type flakyStore struct {
	*fakeStore
	failMu   sync.Mutex
	failures int
}

func (f *flakyStore) RecordAnswer(ctx context.Context, rm *models.Room, ans *models.Answer) (bool, error) {
	f.failMu.Lock()
	if f.failures > 0 {
		f.failures--
		f.failMu.Unlock()
		return false, fmt.Errorf("failed to record answer: connection reset")
	}
	f.failMu.Unlock()
	return f.fakeStore.RecordAnswer(ctx, rm, ans)
}

// fakeDecoys returns deterministic decoys unless fn overrides it.
type fakeDecoys struct {
	mu    sync.Mutex
	calls int
	fn    func(correct string, count int) ([]string, error)
}

func (f *fakeDecoys) GenerateDecoys(ctx context.Context, correct string, count int) ([]string, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(correct, count)
	}
	decoys := make([]string, count)
	for i := range decoys {
		decoys[i] = fmt.Sprintf("%s (decoy %d)", correct, i+1)
	}
	return decoys, nil
}

func (f *fakeDecoys) setFn(fn func(correct string, count int) ([]string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
}

func (f *fakeDecoys) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
