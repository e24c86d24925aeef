package statesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/doodledash/doodledash/internal/events"
)

// StateFetcher loads an authoritative room snapshot, typically from the
// service's state endpoint. It is called on startup, after a NATS
// reconnect, and whenever a sequence gap is detected.
type StateFetcher interface {
	FetchState(ctx context.Context, roomCode string) (*RoomState, error)
}

// Config holds configuration for the synchronizer's JetStream tail.
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "ROOM_EVENTS",
		SubjectPrefix: "room.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Synchronizer keeps a client-side RoomState in sync with one room's
// feed: a full snapshot first, then live events, with any missed stretch
// repaired by re-fetching the snapshot rather than replaying.
type Synchronizer struct {
	roomCode string
	config   Config
	fetcher  StateFetcher
	rec      *Reconciler
	onUpdate func(*RoomState)

	nc       *nats.Conn
	js       jetstream.JetStream
	resyncCh chan struct{}
}

// New connects to NATS and prepares a synchronizer for roomCode.
// onUpdate, if non-nil, is invoked after every state change.
func New(roomCode string, fetcher StateFetcher, onUpdate func(*RoomState), config Config) (*Synchronizer, error) {
	s := &Synchronizer{
		roomCode: roomCode,
		config:   config,
		fetcher:  fetcher,
		rec:      NewReconciler(roomCode),
		onUpdate: onUpdate,
		resyncCh: make(chan struct{}, 1),
	}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Str("room_code", roomCode).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("room_code", roomCode).Str("url", nc.ConnectedUrl()).Msg("NATS reconnected, scheduling resync")
			s.requestResync()
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	s.nc = nc
	s.js = js
	return s, nil
}

// State returns a copy of the current projection.
func (s *Synchronizer) State() *RoomState {
	return s.rec.State()
}

func (s *Synchronizer) subject() string {
	return fmt.Sprintf("%s.%s", s.config.SubjectPrefix, s.roomCode)
}

func (s *Synchronizer) requestResync() {
	select {
	case s.resyncCh <- struct{}{}:
	default:
	}
}

// Run loads the snapshot, then tails the room's feed until ctx ends.
func (s *Synchronizer) Run(ctx context.Context) error {
	if err := s.resync(ctx); err != nil {
		return err
	}

	consumer, err := s.js.OrderedConsumer(ctx, s.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{s.subject()},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create ordered consumer: %w", err)
	}

	msgCh := make(chan jetstream.Msg, 64)
	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case msgCh <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	log.Info().Str("room_code", s.roomCode).Str("subject", s.subject()).Msg("room synchronizer running")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.resyncCh:
			if err := s.resync(ctx); err != nil {
				log.Error().Err(err).Str("room_code", s.roomCode).Msg("resync failed")
			}
		case msg := <-msgCh:
			s.handleMessage(ctx, msg)
		}
	}
}

func (s *Synchronizer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var env events.Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to decode event envelope")
		return
	}

	err := s.rec.Apply(env)
	switch {
	case err == nil:
		s.notify()
	case errors.Is(err, ErrSequenceGap):
		log.Warn().
			Str("room_code", s.roomCode).
			Int64("seq", env.Seq).
			Int64("have", s.rec.State().LastSeq).
			Msg("missed events on room feed, re-fetching snapshot")
		if err := s.resync(ctx); err != nil {
			log.Error().Err(err).Str("room_code", s.roomCode).Msg("resync after gap failed")
			s.requestResync()
		}
	default:
		log.Error().Err(err).Str("room_code", s.roomCode).Msg("failed to apply event")
	}
}

// resync replaces the projection with a fresh authoritative snapshot.
func (s *Synchronizer) resync(ctx context.Context) error {
	state, err := s.fetcher.FetchState(ctx, s.roomCode)
	if err != nil {
		return fmt.Errorf("failed to fetch room state: %w", err)
	}
	s.rec.Load(state)
	log.Debug().Str("room_code", s.roomCode).Int64("seq", state.LastSeq).Msg("room state snapshot loaded")
	s.notify()
	return nil
}

func (s *Synchronizer) notify() {
	if s.onUpdate != nil {
		s.onUpdate(s.rec.State())
	}
}

// Close tears down the NATS connection.
func (s *Synchronizer) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
