package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"

	"github.com/amingione/fas-checkout/internal/domain"
	"github.com/amingione/fas-checkout/internal/repository"
)

// SessionService hosts checkout state machines keyed by session id, so a
// shopper can resume mid-checkout across page loads and devices. All state
// changes go through the pure reducer; this service only loads and saves.
type SessionService struct {
	store  repository.SessionStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewSessionService creates a session service with the given session TTL.
func NewSessionService(store repository.SessionStore, ttl time.Duration, logger *slog.Logger) *SessionService {
	return &SessionService{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// Session pairs a session id with its current state.
type Session struct {
	ID    string               `json:"id"`
	State domain.CheckoutState `json:"state"`
}

// Start creates a new checkout session in the initial state.
func (s *SessionService) Start(ctx context.Context) (*Session, error) {
	id := uuid.New().String()
	state := domain.NewCheckoutState()

	if err := s.store.Save(ctx, id, state, s.ttl); err != nil {
		return nil, fmt.Errorf("start checkout session: %w", err)
	}

	s.logger.InfoContext(ctx, "checkout session started", slog.String("session_id", id))
	return &Session{ID: id, State: state}, nil
}

// Get returns the current state of a session.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}

	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return &Session{ID: sessionID, State: state}, nil
}

// Dispatch applies an event to a session's state machine and persists the
// result. Events that are illegal in the current status are no-ops, so the
// returned state may equal the previous one.
func (s *SessionService) Dispatch(ctx context.Context, sessionID string, ev domain.CheckoutEvent) (*Session, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}
	if ev.Type == "" {
		return nil, apperrors.InvalidInput("event type is required")
	}

	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load checkout session: %w", err)
	}

	next := domain.Reduce(state, ev)
	if err := s.store.Save(ctx, sessionID, next, s.ttl); err != nil {
		return nil, fmt.Errorf("save checkout session: %w", err)
	}

	if next.Status != state.Status {
		s.logger.DebugContext(ctx, "checkout session advanced",
			slog.String("session_id", sessionID),
			slog.String("event", string(ev.Type)),
			slog.String("from", string(state.Status)),
			slog.String("to", string(next.Status)),
		)
	}

	return &Session{ID: sessionID, State: next}, nil
}
