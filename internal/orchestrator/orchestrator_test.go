package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/doodledash/doodledash/internal/clients"
	"github.com/doodledash/doodledash/internal/content"
	"github.com/doodledash/doodledash/internal/models"
	"github.com/doodledash/doodledash/internal/room"
)

type testGame struct {
	orch   *Orchestrator
	store  *fakeStore
	pool   *fakePool
	decoys *fakeDecoys
	clock  *clockwork.FakeClock
	rm     *models.Room
	host   *models.Player
	guests []*models.Player
}

// newTestGame builds a room in the collecting phase with the given
// guesser count and one rendered caption per player, every caption
// authored by the host so all guessers are required answerers.
func newTestGame(t *testing.T, guessers, captionsPerPlayer int) *testGame {
	t.Helper()
	ctx := context.Background()

	pool := newFakePool()
	store := newFakeStore(pool)
	decoys := &fakeDecoys{}
	clock := clockwork.NewFakeClock()
	orch := New(store, pool, decoys, clock)
	t.Cleanup(orch.Close)

	rm, host, err := orch.CreateRoom(ctx, "host")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	var guests []*models.Player
	for i := 0; i < guessers; i++ {
		_, pl, err := orch.JoinRoom(ctx, rm.Code, fmt.Sprintf("guesser-%d", i+1))
		if err != nil {
			t.Fatalf("JoinRoom: %v", err)
		}
		guests = append(guests, pl)
	}
	if _, err := orch.OpenSubmissions(ctx, rm.Code, host.ID); err != nil {
		t.Fatalf("OpenSubmissions: %v", err)
	}
	total := captionsPerPlayer * (guessers + 1)
	for i := 0; i < total; i++ {
		pool.add(rm.ID, host.ID, fmt.Sprintf("caption %d", i+1), true)
	}

	return &testGame{
		orch:   orch,
		store:  store,
		pool:   pool,
		decoys: decoys,
		clock:  clock,
		rm:     rm,
		host:   host,
		guests: guests,
	}
}

func (g *testGame) start(t *testing.T) *models.Room {
	t.Helper()
	rm, err := g.orch.StartGame(context.Background(), g.rm.Code, g.host.ID)
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	return rm
}

func waitForCommit(t *testing.T, commits <-chan int, want int) {
	t.Helper()
	select {
	case got := <-commits:
		if got != want {
			t.Fatalf("committed round = %d, want %d", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for round %d to commit", want)
	}
}

func TestStartGameFixesTotalRounds(t *testing.T) {
	g := newTestGame(t, 2, 2) // 3 players, 6 captions
	rm := g.start(t)

	if rm.Status != models.RoomStatusPlaying {
		t.Fatalf("status = %s, want %s", rm.Status, models.RoomStatusPlaying)
	}
	if rm.TotalRounds != 6 {
		t.Errorf("TotalRounds = %d, want 6", rm.TotalRounds)
	}
	if rm.CurrentRound != 1 {
		t.Errorf("CurrentRound = %d, want 1", rm.CurrentRound)
	}
}

func TestStartGameCommitsFirstRoundWithOptions(t *testing.T) {
	g := newTestGame(t, 2, 1)
	rm := g.start(t)

	if len(rm.Options) != clients.DefaultDecoyCount+1 {
		t.Fatalf("len(Options) = %d, want %d", len(rm.Options), clients.DefaultDecoyCount+1)
	}
	if rm.CorrectPrompt == nil {
		t.Fatal("CorrectPrompt is nil after first round commit")
	}
	correct := 0
	seen := make(map[string]bool)
	for _, opt := range rm.Options {
		if seen[opt] {
			t.Errorf("duplicate option %q", opt)
		}
		seen[opt] = true
		if opt == *rm.CorrectPrompt {
			correct++
		}
	}
	if correct != 1 {
		t.Errorf("correct caption appears %d times in options, want exactly 1", correct)
	}
	if rm.CurrentImage == nil || *rm.CurrentImage == "" {
		t.Error("CurrentImage not set after first round commit")
	}
}

func TestStartGameGuards(t *testing.T) {
	g := newTestGame(t, 2, 1)
	ctx := context.Background()

	if _, err := g.orch.StartGame(ctx, g.rm.Code, g.guests[0].ID); !errors.Is(err, ErrNotHost) {
		t.Errorf("non-host start: err = %v, want ErrNotHost", err)
	}

	g.start(t)
	if _, err := g.orch.StartGame(ctx, g.rm.Code, g.host.ID); !errors.Is(err, room.ErrAlreadyStarted) {
		t.Errorf("double start: err = %v, want ErrAlreadyStarted", err)
	}
}

func TestStartGameNotEnoughPlayers(t *testing.T) {
	g := newTestGame(t, 0, 1)
	_, err := g.orch.StartGame(context.Background(), g.rm.Code, g.host.ID)
	if !errors.Is(err, ErrNotEnoughPlayers) {
		t.Fatalf("err = %v, want ErrNotEnoughPlayers", err)
	}
}

func TestStartGameRequiresRenderedContent(t *testing.T) {
	pool := newFakePool()
	store := newFakeStore(pool)
	orch := New(store, pool, &fakeDecoys{}, clockwork.NewFakeClock())
	t.Cleanup(orch.Close)
	ctx := context.Background()

	rm, host, _ := orch.CreateRoom(ctx, "host")
	orch.JoinRoom(ctx, rm.Code, "guesser")
	orch.OpenSubmissions(ctx, rm.Code, host.ID)
	pool.add(rm.ID, host.ID, "still rendering", false)

	if _, err := orch.StartGame(ctx, rm.Code, host.ID); !errors.Is(err, ErrNoRenderedContent) {
		t.Fatalf("err = %v, want ErrNoRenderedContent", err)
	}
}

func TestConcurrentAdvanceCommitsExactlyOnce(t *testing.T) {
	g := newTestGame(t, 2, 2)
	started := g.start(t) // round 1 committed
	<-g.store.commits

	const n = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	snapshot := cloneRoom(started)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.orch.advance(context.Background(), cloneRoom(snapshot))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, room.ErrConcurrentAdvance):
				losses++
			default:
				t.Errorf("advance: unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if losses != n-1 {
		t.Errorf("losses = %d, want %d", losses, n-1)
	}
	if got := g.store.currentRound(); got != 2 {
		t.Errorf("CurrentRound = %d, want 2", got)
	}
}

func TestGameCompletesAfterTotalRounds(t *testing.T) {
	g := newTestGame(t, 2, 2) // totalRounds = 6
	g.start(t)
	ctx := context.Background()

	for i := 2; i <= 6; i++ {
		rm, err := g.orch.AdvanceRound(ctx, g.rm.Code, g.host.ID)
		if err != nil {
			t.Fatalf("AdvanceRound to %d: %v", i, err)
		}
		if rm.CurrentRound != i {
			t.Fatalf("CurrentRound = %d, want %d", rm.CurrentRound, i)
		}
	}

	rm, err := g.orch.AdvanceRound(ctx, g.rm.Code, g.host.ID)
	if err != nil {
		t.Fatalf("final advance: %v", err)
	}
	if rm.Status != models.RoomStatusCompleted {
		t.Errorf("status = %s, want %s", rm.Status, models.RoomStatusCompleted)
	}
	if got := g.store.roundCount(); got != 6 {
		t.Errorf("committed rounds = %d, want 6 and never a 7th", got)
	}

	if _, err := g.orch.AdvanceRound(ctx, g.rm.Code, g.host.ID); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("advance after completion: err = %v, want ErrNotPlaying", err)
	}
}

func TestAdvanceReusesPoolAfterReset(t *testing.T) {
	g := newTestGame(t, 1, 1) // 2 players, totalRounds = 4, pool of 2
	g.start(t)
	ctx := context.Background()

	for i := 2; i <= 4; i++ {
		if _, err := g.orch.AdvanceRound(ctx, g.rm.Code, g.host.ID); err != nil {
			t.Fatalf("AdvanceRound to %d: %v", i, err)
		}
	}

	if got := g.pool.resetCount(); got != 1 {
		t.Errorf("pool resets = %d, want 1", got)
	}
	if got := g.store.roundCount(); got != 4 {
		t.Errorf("committed rounds = %d, want 4", got)
	}
}

func TestAdvanceDecoyFailureLeavesRoundUncommitted(t *testing.T) {
	g := newTestGame(t, 2, 1)
	g.start(t)
	before := g.decoys.callCount()

	genErr := &clients.GenerationError{Reason: "upstream returned 2 decoys, want 3"}
	g.decoys.setFn(func(string, int) ([]string, error) { return nil, genErr })

	_, err := g.orch.AdvanceRound(context.Background(), g.rm.Code, g.host.ID)
	var ge *clients.GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("err = %v, want *clients.GenerationError", err)
	}
	if got := g.store.currentRound(); got != 1 {
		t.Errorf("CurrentRound = %d after generation failure, want 1", got)
	}
	if got := g.decoys.callCount() - before; got != 2 {
		t.Errorf("decoy calls = %d, want 2 (one retry)", got)
	}

	// Clearing the failure makes the same advance succeed.
	g.decoys.setFn(nil)
	rm, err := g.orch.AdvanceRound(context.Background(), g.rm.Code, g.host.ID)
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if rm.CurrentRound != 2 {
		t.Errorf("CurrentRound = %d after retry, want 2", rm.CurrentRound)
	}
}

func TestAdvanceRoundHostOnly(t *testing.T) {
	g := newTestGame(t, 2, 1)
	g.start(t)
	_, err := g.orch.AdvanceRound(context.Background(), g.rm.Code, g.guests[0].ID)
	if !errors.Is(err, ErrNotHost) {
		t.Fatalf("err = %v, want ErrNotHost", err)
	}
}

func TestSubmitGuessScoresAndAutoAdvances(t *testing.T) {
	g := newTestGame(t, 2, 2)
	rm := g.start(t)
	<-g.store.commits
	ctx := context.Background()

	correct := *rm.CorrectPrompt
	var wrong string
	for _, opt := range rm.Options {
		if opt != correct {
			wrong = opt
			break
		}
	}

	res, err := g.orch.SubmitGuess(ctx, g.rm.Code, g.guests[0].ID, correct)
	if err != nil {
		t.Fatalf("SubmitGuess: %v", err)
	}
	if !res.Counted || !res.Correct {
		t.Errorf("first guess result = %+v, want counted and correct", res)
	}
	if got := g.store.score(g.guests[0].ID); got != PointsPerCorrect {
		t.Errorf("score = %d, want %d", got, PointsPerCorrect)
	}

	res, err = g.orch.SubmitGuess(ctx, g.rm.Code, g.guests[1].ID, wrong)
	if err != nil {
		t.Fatalf("SubmitGuess: %v", err)
	}
	if !res.Counted || res.Correct {
		t.Errorf("second guess result = %+v, want counted and incorrect", res)
	}
	if got := g.store.score(g.guests[1].ID); got != 0 {
		t.Errorf("wrong guess scored %d points, want 0", got)
	}

	// Both required players answered; the session task commits round 2.
	waitForCommit(t, g.store.commits, 2)
}

func TestSubmitGuessDuplicateIsNoOp(t *testing.T) {
	g := newTestGame(t, 2, 1)
	rm := g.start(t)
	<-g.store.commits
	ctx := context.Background()

	correct := *rm.CorrectPrompt
	if _, err := g.orch.SubmitGuess(ctx, g.rm.Code, g.guests[0].ID, correct); err != nil {
		t.Fatalf("SubmitGuess: %v", err)
	}
	res, err := g.orch.SubmitGuess(ctx, g.rm.Code, g.guests[0].ID, correct)
	if err != nil {
		t.Fatalf("duplicate SubmitGuess: %v", err)
	}
	if !res.AlreadyAnswered || res.Counted {
		t.Errorf("duplicate result = %+v, want already_answered and not counted", res)
	}
	if got := g.store.score(g.guests[0].ID); got != PointsPerCorrect {
		t.Errorf("score = %d after duplicate, want %d (scored once)", got, PointsPerCorrect)
	}
	if got := g.store.answerCount(); got != 1 {
		t.Errorf("answer rows = %d, want 1", got)
	}
}

func TestSubmitGuessFromHostIsNoOp(t *testing.T) {
	g := newTestGame(t, 2, 1)
	rm := g.start(t)
	<-g.store.commits

	res, err := g.orch.SubmitGuess(context.Background(), g.rm.Code, g.host.ID, *rm.CorrectPrompt)
	if err != nil {
		t.Fatalf("SubmitGuess: %v", err)
	}
	if res.Counted || res.Correct || res.AlreadyAnswered {
		t.Errorf("host guess result = %+v, want empty no-op", res)
	}
	if got := g.store.answerCount(); got != 0 {
		t.Errorf("answer rows = %d after host guess, want 0", got)
	}
}

func TestSubmitGuessInvalidOption(t *testing.T) {
	g := newTestGame(t, 2, 1)
	g.start(t)
	<-g.store.commits

	_, err := g.orch.SubmitGuess(context.Background(), g.rm.Code, g.guests[0].ID, "not an option")
	if !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("err = %v, want ErrInvalidOption", err)
	}
}

func TestSubmitGuessBeforePlaying(t *testing.T) {
	g := newTestGame(t, 2, 1)
	_, err := g.orch.SubmitGuess(context.Background(), g.rm.Code, g.guests[0].ID, "anything")
	if !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("err = %v, want ErrNotPlaying", err)
	}
}

func TestAuthorExcludedFromRequiredSet(t *testing.T) {
	ctx := context.Background()
	pool := newFakePool()
	store := newFakeStore(pool)
	orch := New(store, pool, &fakeDecoys{}, clockwork.NewFakeClock())
	t.Cleanup(orch.Close)

	rm, host, _ := orch.CreateRoom(ctx, "host")
	_, author, _ := orch.JoinRoom(ctx, rm.Code, "author")
	_, other, _ := orch.JoinRoom(ctx, rm.Code, "other")
	orch.OpenSubmissions(ctx, rm.Code, host.ID)
	for i := 0; i < 6; i++ {
		pool.add(rm.ID, author.ID, fmt.Sprintf("caption %d", i+1), true)
	}

	started, err := orch.StartGame(ctx, rm.Code, host.ID)
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	<-store.commits

	// The author is not required, so the one remaining guesser
	// completes the round alone.
	if _, err := orch.SubmitGuess(ctx, rm.Code, other.ID, *started.CorrectPrompt); err != nil {
		t.Fatalf("SubmitGuess: %v", err)
	}
	waitForCommit(t, store.commits, 2)
}

func TestIdleSessionTearsDown(t *testing.T) {
	ctx := context.Background()
	pool := newFakePool()
	store := newFakeStore(pool)
	clock := clockwork.NewFakeClock()
	orch := New(store, pool, &fakeDecoys{}, clock)
	t.Cleanup(orch.Close)

	rm, _, err := orch.CreateRoom(ctx, "host")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	orch.mu.Lock()
	_, alive := orch.sessions[rm.ID]
	orch.mu.Unlock()
	if !alive {
		t.Fatal("no session task after CreateRoom")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("session timer never armed: %v", err)
	}
	clock.Advance(defaultGracePeriod + time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		orch.mu.Lock()
		_, alive = orch.sessions[rm.ID]
		orch.mu.Unlock()
		if !alive {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("session still alive after grace period elapsed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitGuessRetriesAfterStoreFailure(t *testing.T) {
	ctx := context.Background()
	pool := newFakePool()
	flaky := &flakyStore{fakeStore: newFakeStore(pool), failures: 1}
	orch := New(flaky, pool, &fakeDecoys{}, clockwork.NewFakeClock())
	t.Cleanup(orch.Close)

	rm, host, _ := orch.CreateRoom(ctx, "host")
	_, guest, _ := orch.JoinRoom(ctx, rm.Code, "guesser")
	orch.OpenSubmissions(ctx, rm.Code, host.ID)
	for i := 0; i < 4; i++ {
		pool.add(rm.ID, host.ID, fmt.Sprintf("caption %d", i+1), true)
	}
	started, err := orch.StartGame(ctx, rm.Code, host.ID)
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	<-flaky.commits

	correct := *started.CorrectPrompt
	if _, err := orch.SubmitGuess(ctx, rm.Code, guest.ID, correct); err == nil {
		t.Fatal("expected the first guess to fail at the store")
	}
	if got := flaky.answerCount(); got != 0 {
		t.Fatalf("answer rows = %d after failed write, want 0", got)
	}

	// The failed write must not consume the player's slot: the retry
	// is counted, scored, and completes the round.
	res, err := orch.SubmitGuess(ctx, rm.Code, guest.ID, correct)
	if err != nil {
		t.Fatalf("retried SubmitGuess: %v", err)
	}
	if !res.Counted || res.AlreadyAnswered {
		t.Fatalf("retry result = %+v, want counted", res)
	}
	if got := flaky.answerCount(); got != 1 {
		t.Errorf("answer rows = %d after retry, want 1", got)
	}
	if got := flaky.score(guest.ID); got != PointsPerCorrect {
		t.Errorf("score = %d after retry, want %d", got, PointsPerCorrect)
	}
	waitForCommit(t, flaky.commits, 2)
}

func TestStaleAdvanceRequestDoesNotStallNextRound(t *testing.T) {
	g := newTestGame(t, 2, 2)
	g.start(t)
	<-g.store.commits
	ctx := context.Background()

	rm, err := g.store.GetRoomByCode(ctx, g.rm.Code)
	if err != nil {
		t.Fatalf("GetRoomByCode: %v", err)
	}
	s := g.orch.getSession(ctx, rm)

	// Host advances past round 1 while no one has answered it.
	if _, err := g.orch.AdvanceRound(ctx, g.rm.Code, g.host.ID); err != nil {
		t.Fatalf("AdvanceRound: %v", err)
	}
	waitForCommit(t, g.store.commits, 2)

	// A completion request queued for round 1 re-reads state and must
	// not advance the unanswered round 2.
	g.orch.advanceAfter(s)
	if got := g.store.currentRound(); got != 2 {
		t.Fatalf("currentRound = %d after stale advance request, want 2", got)
	}

	// Round 2 still advances once its answers arrive.
	rm, err = g.store.GetRoomByCode(ctx, g.rm.Code)
	if err != nil {
		t.Fatalf("GetRoomByCode: %v", err)
	}
	for _, pl := range g.guests {
		if _, err := g.orch.SubmitGuess(ctx, rm.Code, pl.ID, *rm.CorrectPrompt); err != nil {
			t.Fatalf("SubmitGuess: %v", err)
		}
	}
	waitForCommit(t, g.store.commits, 3)
}

func TestRetryRenderAttachesImage(t *testing.T) {
	g := newTestGame(t, 2, 1)
	ctx := context.Background()

	item := g.pool.add(g.rm.ID, g.guests[0].ID, "still rendering", false)
	if err := g.orch.RetryRender(ctx, g.rm.Code, item.ID); err != nil {
		t.Fatalf("RetryRender: %v", err)
	}
	if got := g.pool.renderCount(); got != 1 {
		t.Errorf("render retries = %d, want 1", got)
	}
	got, err := g.pool.GetContent(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if !got.Rendered() {
		t.Error("item still unrendered after retry")
	}
}

func TestRetryRenderUnknownContent(t *testing.T) {
	g := newTestGame(t, 2, 1)
	err := g.orch.RetryRender(context.Background(), g.rm.Code, uuid.New())
	if !errors.Is(err, content.ErrContentNotFound) {
		t.Fatalf("err = %v, want ErrContentNotFound", err)
	}
}
