package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/doodledash/doodledash/internal/answer"
	"github.com/doodledash/doodledash/internal/models"
	"github.com/doodledash/doodledash/internal/room"
)

// session is the per-room coordination task. It owns the room's answer
// tracker, serializes automatic round advances, and tears itself down
// after the room sits idle past the grace period.
type session struct {
	roomID    uuid.UUID
	tracker   *answer.Tracker
	advanceCh chan struct{}
	touchCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// requestAdvance nudges the session task to check whether the current
// round is complete. Non-blocking: the handler re-reads room and
// tracker state, so coalescing pending requests loses nothing.
func (s *session) requestAdvance() {
	select {
	case s.advanceCh <- struct{}{}:
	default:
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// getSession returns the room's session task, starting one if needed.
// A session created for a room already mid-game (after a restart) is
// re-armed from the persisted round and answer rows.
func (o *Orchestrator) getSession(ctx context.Context, rm *models.Room) *session {
	o.mu.Lock()
	if s, ok := o.sessions[rm.ID]; ok {
		o.mu.Unlock()
		return s
	}
	s := &session{
		roomID:    rm.ID,
		tracker:   answer.NewTracker(),
		advanceCh: make(chan struct{}, 1),
		touchCh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if !o.closed {
		o.sessions[rm.ID] = s
		go o.runSession(s)
	}
	o.mu.Unlock()

	if rm.Status == models.RoomStatusPlaying && rm.CurrentRound > 0 {
		o.rearmSession(ctx, s, rm)
	}
	return s
}

// rearmSession rebuilds tracker state for an in-flight round from the
// database. If the round turns out to be fully answered already, the
// advance is requested so the game does not stall.
func (o *Orchestrator) rearmSession(ctx context.Context, s *session, rm *models.Room) {
	rnd, err := o.store.GetRound(ctx, rm.ID, rm.CurrentRound)
	if err != nil {
		log.Error().Err(err).Str("room_code", rm.Code).Msg("failed to load current round for re-arm")
		return
	}
	item, err := o.pool.GetContent(ctx, rnd.ContentItemID)
	if err != nil {
		log.Error().Err(err).Str("room_code", rm.Code).Msg("failed to load round content for re-arm")
		return
	}
	players, err := o.store.ListPlayers(ctx, rm.ID)
	if err != nil {
		log.Error().Err(err).Str("room_code", rm.Code).Msg("failed to list players for re-arm")
		return
	}
	answers, err := o.store.ListAnswers(ctx, rm.ID, rm.CurrentRound)
	if err != nil {
		log.Error().Err(err).Str("room_code", rm.Code).Msg("failed to list answers for re-arm")
		return
	}

	required := requiredAnswerers(players, rm.HostID, item.PlayerID)
	s.tracker.Reset(rm.CurrentRound, required)
	for _, ans := range answers {
		s.tracker.Record(rm.CurrentRound, ans.PlayerID)
	}
	if s.tracker.Complete() {
		s.requestAdvance()
	}
}

// runSession is the session task loop. One goroutine per active room.
func (o *Orchestrator) runSession(s *session) {
	timer := o.clock.NewTimer(o.grace)
	defer timer.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.advanceCh:
			o.advanceAfter(s)
			timer.Reset(o.grace)
		case <-s.touchCh:
			timer.Reset(o.grace)
		case <-timer.Chan():
			log.Info().
				Str("room_id", s.roomID.String()).
				Dur("grace", o.grace).
				Msg("room idle past grace period, stopping session task")
			o.dropSession(s.roomID)
			return
		}
	}
}

// advanceAfter commits the next round when the persisted current round
// is fully answered. Requests queued before a manual advance see the
// newer round here, so a coalesced or stale request never stalls the
// game.
func (o *Orchestrator) advanceAfter(s *session) {
	ctx, cancel := context.WithTimeout(context.Background(), advanceTimeout)
	defer cancel()

	rm, err := o.store.GetRoomByID(ctx, s.roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID.String()).Msg("failed to load room for automatic advance")
		return
	}
	if rm.Status != models.RoomStatusPlaying || rm.CurrentRound == 0 {
		return
	}
	if s.tracker.Round() != rm.CurrentRound || !s.tracker.Complete() {
		return
	}
	if _, err := o.advance(ctx, rm); err != nil {
		if errors.Is(err, room.ErrConcurrentAdvance) {
			return
		}
		log.Error().Err(err).Str("room_code", rm.Code).Int("round", rm.CurrentRound).Msg("automatic round advance failed")
	}
}

// touch marks room activity, deferring the idle teardown.
func (o *Orchestrator) touch(ctx context.Context, rm *models.Room) {
	o.touchSession(o.getSession(ctx, rm))
}

func (o *Orchestrator) touchSession(s *session) {
	select {
	case s.touchCh <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) dropSession(roomID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[roomID]; ok {
		delete(o.sessions, roomID)
		s.close()
	}
}

// Close stops every session task. New sessions are not started after
// Close.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for id, s := range o.sessions {
		delete(o.sessions, id)
		s.close()
	}
}
