// Package session owns per-conversation state: the image store keyed by
// content-addressed id, the append-only message history and the
// optional model photo used for virtual try-on.
//
// Every session has its own mutex; the store-wide lock only guards the
// session map itself, so work on different sessions never contends.
// Callers must not hold any session lock across provider calls, and no
// method here performs one.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/farrosalferro/fashion-recommender/internal/imageref"
)

var (
	// ErrNotFound is returned for unknown or cleaned-up session ids.
	ErrNotFound = errors.New("session not found")

	// ErrImageNotFound is returned when an image id is not stored in
	// the session.
	ErrImageNotFound = errors.New("image not found")
)

// Role identifies the author of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's history.
type Message struct {
	Role    Role                 `json:"role"`
	Content string               `json:"content"`
	Images  []imageref.Reference `json:"images,omitempty"`
}

func (m Message) clone() Message {
	m.Images = slices.Clone(m.Images)
	return m
}

// Snapshot is the read-only projection of a session for inspection.
type Snapshot struct {
	SessionID     string    `json:"session_id"`
	Messages      []Message `json:"messages"`
	HasModelImage bool      `json:"has_model_image"`
}

// Journal persists session mutations. The in-memory store stays
// authoritative; a failed journal write is logged and the operation
// still succeeds.
type Journal interface {
	CreateSession(id string, at time.Time) error
	PutImage(sessionID, imageID string, src imageref.Source, isModel bool) error
	AppendTurn(sessionID string, user, assistant Message, at time.Time) error
	DeleteSession(id string, at time.Time) error
	Load() ([]Record, error)
}

// Record is a persisted session as read back by Journal.Load.
type Record struct {
	ID           string
	Deleted      bool
	ModelImageID string
	Images       map[string]imageref.Source
	History      []Message
}

type entry struct {
	mu           sync.Mutex
	removed      bool
	images       map[string]imageref.Source
	history      []Message
	modelImageID string
}

// Store is the process-wide session registry.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*entry
	tombstones map[string]struct{}

	journal Journal
	logger  *slog.Logger
	newID   func() string
	now     func() time.Time
}

// NewStore creates an empty store. journal may be nil.
func NewStore(journal Journal, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions:   make(map[string]*entry),
		tombstones: make(map[string]struct{}),
		journal:    journal,
		logger:     logger,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// GetOrCreate returns id if the session exists, creates it under id if
// it does not, or mints a new id when id is empty. Ids that were
// cleaned up return ErrNotFound.
func (s *Store) GetOrCreate(id string) (string, error) {
	if id == "" {
		id = s.newID()
	}

	s.mu.RLock()
	_, ok := s.sessions[id]
	_, dead := s.tombstones[id]
	s.mu.RUnlock()
	if dead {
		return "", fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if ok {
		return id, nil
	}

	s.mu.Lock()
	if _, dead := s.tombstones[id]; dead {
		s.mu.Unlock()
		return "", fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if _, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.sessions[id] = &entry{images: make(map[string]imageref.Source)}
	s.mu.Unlock()

	s.logger.Debug("session created", "session", id)
	if s.journal != nil {
		if err := s.journal.CreateSession(id, s.now()); err != nil {
			s.logger.Error("journal create session failed", "session", id, "error", err)
		}
	}
	return id, nil
}

// lock returns the locked entry for id. The caller must unlock it.
func (s *Store) lock(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return e, nil
}

// StoreImage adds src to the session and returns its id. Storing the
// same source again is a no-op that returns the same id. When isModel
// is set the image also becomes the session's model photo.
func (s *Store) StoreImage(id string, src imageref.Source, isModel bool) (string, error) {
	e, err := s.lock(id)
	if err != nil {
		return "", err
	}
	defer e.mu.Unlock()

	imageID := imageref.ID(src)
	_, existed := e.images[imageID]
	if !existed {
		e.images[imageID] = src
	}
	modelChanged := isModel && e.modelImageID != imageID
	if isModel {
		e.modelImageID = imageID
	}

	if s.journal != nil && (!existed || modelChanged) {
		if err := s.journal.PutImage(id, imageID, src, isModel); err != nil {
			s.logger.Error("journal put image failed", "session", id, "image", imageID, "error", err)
		}
	}
	return imageID, nil
}

// Image returns the stored source for imageID.
func (s *Store) Image(id, imageID string) (imageref.Source, error) {
	e, err := s.lock(id)
	if err != nil {
		return imageref.Source{}, err
	}
	defer e.mu.Unlock()

	src, ok := e.images[imageID]
	if !ok {
		return imageref.Source{}, fmt.Errorf("%s: %w", imageID, ErrImageNotFound)
	}
	return src, nil
}

// ModelImage returns the session's model photo, if one was uploaded.
func (s *Store) ModelImage(id string) (imageref.Source, bool, error) {
	e, err := s.lock(id)
	if err != nil {
		return imageref.Source{}, false, err
	}
	defer e.mu.Unlock()

	if e.modelImageID == "" {
		return imageref.Source{}, false, nil
	}
	src, ok := e.images[e.modelImageID]
	return src, ok, nil
}

// Reference resolves imageID into a reference of the given kind.
func (s *Store) Reference(id, imageID string, kind imageref.Kind) (imageref.Reference, error) {
	src, err := s.Image(id, imageID)
	if err != nil {
		return imageref.Reference{}, err
	}
	return imageref.NewReference(src, kind), nil
}

// AppendTurn appends the user message followed by the assistant
// message as one atomic step.
func (s *Store) AppendTurn(id string, user, assistant Message) error {
	if user.Role != RoleUser || assistant.Role != RoleAssistant {
		return fmt.Errorf("append turn: roles must be user then assistant, got %q and %q", user.Role, assistant.Role)
	}

	e, err := s.lock(id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	e.history = append(e.history, user.clone(), assistant.clone())

	if s.journal != nil {
		if err := s.journal.AppendTurn(id, user, assistant, s.now()); err != nil {
			s.logger.Error("journal append turn failed", "session", id, "error", err)
		}
	}
	return nil
}

// History returns a copy of the session's history.
func (s *Store) History(id string) ([]Message, error) {
	e, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return cloneHistory(e.history), nil
}

// Snapshot returns the inspection view of the session.
func (s *Store) Snapshot(id string) (Snapshot, error) {
	e, err := s.lock(id)
	if err != nil {
		return Snapshot{}, err
	}
	defer e.mu.Unlock()

	return Snapshot{
		SessionID:     id,
		Messages:      cloneHistory(e.history),
		HasModelImage: e.modelImageID != "",
	}, nil
}

// Cleanup removes all state for id. The id is retired: later
// operations on it, including GetOrCreate, return ErrNotFound.
func (s *Store) Cleanup(id string) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	delete(s.sessions, id)
	s.tombstones[id] = struct{}{}
	s.mu.Unlock()

	e.mu.Lock()
	e.removed = true
	e.images = nil
	e.history = nil
	e.modelImageID = ""
	e.mu.Unlock()

	s.logger.Info("session cleaned up", "session", id)
	if s.journal != nil {
		if err := s.journal.DeleteSession(id, s.now()); err != nil {
			s.logger.Error("journal delete session failed", "session", id, "error", err)
		}
	}
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Restore loads persisted sessions from the journal. It is meant to run
// once at startup, before the store serves requests.
func (s *Store) Restore() (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	records, err := s.journal.Load()
	if err != nil {
		return 0, fmt.Errorf("load journal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	live := 0
	for _, r := range records {
		if r.Deleted {
			s.tombstones[r.ID] = struct{}{}
			continue
		}
		e := &entry{
			images:  r.Images,
			history: r.History,
		}
		if e.images == nil {
			e.images = make(map[string]imageref.Source)
		}
		if _, ok := e.images[r.ModelImageID]; ok {
			e.modelImageID = r.ModelImageID
		}
		s.sessions[r.ID] = e
		live++
	}
	s.logger.Info("sessions restored", "live", live, "retired", len(records)-live)
	return live, nil
}

func cloneHistory(h []Message) []Message {
	out := make([]Message, len(h))
	for i, m := range h {
		out[i] = m.clone()
	}
	return out
}
