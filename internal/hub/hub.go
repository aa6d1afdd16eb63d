// Package hub fans committed round summaries out to live subscribers.
//
// A subscription always starts with a connected marker, then replays every
// persisted round in order, then streams live rounds. Each subscriber is
// registered before history is read, and rounds at or below the last one
// delivered are skipped, so nothing is lost or repeated across the switch
// from replay to live.
package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/pkg/logger"
	"github.com/okian/tourney/pkg/metrics"
)

const defaultBuffer = 64

// History is the read side of the store the hub replays from.
type History interface {
	Tournament(ctx context.Context, id string) (model.Tournament, error)
	Rounds(ctx context.Context, tournamentID string, from int) ([]model.RoundSummary, error)
}

// Hub keeps per-tournament subscriber sets. Publish never blocks on a subscriber.
type Hub struct {
	history History
	buffer  int
	logger  logger.Logger

	mu     sync.Mutex
	subs   map[string]map[string]*Subscription
	total  int
	closed bool
}

// New creates a hub reading history from h.
func New(h History, opts ...Option) *Hub {
	hub := &Hub{
		history: h,
		buffer:  defaultBuffer,
		logger:  logger.Nop(),
		subs:    make(map[string]map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(hub)
	}
	return hub
}

// Subscribe opens a stream for a tournament. Every stream starts with a
// connected event. The subscription ends when ctx is done, Close is called,
// the final event has been delivered, or the subscriber falls more than the
// buffer behind, in which case the last event is a resubscribe marker.
func (h *Hub) Subscribe(ctx context.Context, tournamentID string) (*Subscription, error) {
	if _, err := h.history.Tournament(ctx, tournamentID); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownTournament, tournamentID, err)
	}

	sub := &Subscription{
		ID:           uuid.NewString(),
		TournamentID: tournamentID,
		hub:          h,
		out:          make(chan model.Event, 1),
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		limit:        h.buffer,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	set := h.subs[tournamentID]
	if set == nil {
		set = make(map[string]*Subscription)
		h.subs[tournamentID] = set
	}
	set[sub.ID] = sub
	h.total++
	metrics.UpdateHubSubscribers(h.total)
	h.mu.Unlock()

	// out is empty, so the marker is in place before the pump can race Close.
	sub.out <- model.Event{Type: model.EventConnected, TournamentID: tournamentID}
	go sub.pump(ctx)
	return sub, nil
}

// Publish queues ev for every subscriber of the tournament. With no
// subscribers it is a no-op.
func (h *Hub) Publish(tournamentID string, ev model.Event) {
	h.mu.Lock()
	set := h.subs[tournamentID]
	targets := make([]*Subscription, 0, len(set))
	for _, s := range set {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	metrics.RecordHubEventPublished()
	for _, s := range targets {
		if !s.enqueue(ev) {
			h.logger.Warn(context.Background(), "subscriber fell behind, dropping",
				logger.String("tournament_id", tournamentID),
				logger.String("subscription_id", s.ID),
			)
			metrics.RecordHubSubscriberDropped()
		}
	}
}

// Subscribers returns the number of open subscriptions for a tournament.
func (h *Hub) Subscribers(tournamentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[tournamentID])
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for _, s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[s.TournamentID]
	if _, ok := set[s.ID]; !ok {
		return
	}
	delete(set, s.ID)
	if len(set) == 0 {
		delete(h.subs, s.TournamentID)
	}
	h.total--
	metrics.UpdateHubSubscribers(h.total)
}

// Subscription is one subscriber's stream.
type Subscription struct {
	ID           string
	TournamentID string

	hub    *Hub
	out    chan model.Event
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	limit  int

	mu         sync.Mutex
	queue      []model.Event
	overflowed bool
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan model.Event { return s.out }

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
}

// enqueue reports false when the subscriber overflowed. An overflowed
// subscriber leaves the hub at once; its undelivered backlog is replaced by
// the resubscribe marker, which the pump delivers last.
func (s *Subscription) enqueue(ev model.Event) bool {
	s.mu.Lock()
	if s.overflowed {
		s.mu.Unlock()
		return true
	}
	if len(s.queue) >= s.limit {
		s.overflowed = true
		s.queue = []model.Event{{Type: model.EventResubscribe, TournamentID: s.TournamentID}}
		s.mu.Unlock()
		s.hub.remove(s)
		s.signal()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump is the only writer of out.
func (s *Subscription) pump(ctx context.Context) {
	defer close(s.out)
	defer s.Close()

	// Status is read before history. A terminal tournament never gains
	// rounds, so the replay below is complete for it.
	t, err := s.hub.history.Tournament(ctx, s.TournamentID)
	if err != nil {
		s.hub.logger.Error(ctx, "subscription history read failed", logger.Error(err))
		return
	}
	rounds, err := s.hub.history.Rounds(ctx, s.TournamentID, 1)
	if err != nil {
		s.hub.logger.Error(ctx, "subscription history read failed", logger.Error(err))
		return
	}
	lastRound := 0
	for _, r := range rounds {
		if !s.send(ctx, model.RoundEvent(r)) {
			return
		}
		lastRound = r.Round
	}
	metrics.RecordHubReplayedRounds(len(rounds))
	if t.Status.Terminal() {
		s.send(ctx, model.FinalEvent(t))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.notify:
		}

		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			switch ev.Type {
			case model.EventRound:
				if ev.Round == nil || ev.Round.Round <= lastRound {
					continue
				}
				if !s.send(ctx, ev) {
					return
				}
				lastRound = ev.Round.Round
			case model.EventFinal, model.EventResubscribe:
				s.send(ctx, ev)
				return
			default:
				if !s.send(ctx, ev) {
					return
				}
			}
		}
	}
}

func (s *Subscription) send(ctx context.Context, ev model.Event) bool {
	select {
	case s.out <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}
