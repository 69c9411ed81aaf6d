package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/farrosalferro/fashion-recommender/internal/imageref"
	"github.com/farrosalferro/fashion-recommender/internal/session"
	"github.com/farrosalferro/fashion-recommender/internal/tools"
)

// ErrEmptyQuery is returned for a chat request without a query.
var ErrEmptyQuery = errors.New("query is required")

// ChatRequest is one user turn.
type ChatRequest struct {
	Query      string   `json:"query"`
	SessionID  string   `json:"session_id,omitempty"`
	Images     []string `json:"images,omitempty"`
	ModelImage string   `json:"model_image,omitempty"`
}

// ChatResponse is the result of a turn.
type ChatResponse struct {
	Answer    string               `json:"answer"`
	SessionID string               `json:"session_id"`
	Images    []imageref.Reference `json:"images,omitempty"`
}

// Service runs chat turns against the session store.
type Service struct {
	sessions     *session.Store
	orchestrator *Orchestrator
	logger       *slog.Logger
}

// NewService creates a turn service.
func NewService(sessions *session.Store, orch *Orchestrator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sessions: sessions, orchestrator: orch, logger: logger}
}

// Validate checks a request without touching any session.
func (req ChatRequest) Validate() error {
	if strings.TrimSpace(req.Query) == "" {
		return ErrEmptyQuery
	}
	for _, p := range req.Images {
		if err := imageref.Validate(p); err != nil {
			return err
		}
	}
	if req.ModelImage != "" {
		if err := imageref.Validate(req.ModelImage); err != nil {
			return err
		}
	}
	return nil
}

// Chat runs one turn. Validation errors and unknown sessions are
// returned before the turn starts; once started, the turn only fails
// if ctx is cancelled, in which case nothing is written to history.
func (s *Service) Chat(ctx context.Context, req ChatRequest, obs Observer) (*ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sessionID, err := s.sessions.GetOrCreate(req.SessionID)
	if err != nil {
		return nil, err
	}
	history, err := s.sessions.History(sessionID)
	if err != nil {
		return nil, err
	}

	userText := req.Query
	var userRefs []imageref.Reference
	if len(req.Images) > 0 {
		group := imageref.Group{Kind: imageref.KindUserProvided}
		var sb strings.Builder
		sb.WriteString("\n")
		sb.WriteString(imageref.KindUserProvided.Label())
		sb.WriteString(":")
		for i, p := range req.Images {
			src := imageref.Source{Path: p}
			id, err := s.sessions.StoreImage(sessionID, src, false)
			if err != nil {
				return nil, fmt.Errorf("store image: %w", err)
			}
			group.ImageIDs = append(group.ImageIDs, id)
			userRefs = append(userRefs, imageref.NewReference(src, imageref.KindUserProvided))
			sb.WriteString("\n")
			sb.WriteString(strconv.Itoa(i + 1))
			sb.WriteString(". ")
			sb.WriteString(id)
		}
		userText += sb.String()
	}
	if req.ModelImage != "" {
		if _, err := s.sessions.StoreImage(sessionID, imageref.Source{Path: req.ModelImage}, true); err != nil {
			return nil, fmt.Errorf("store model image: %w", err)
		}
	}

	requestID := tools.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = NewRequestID()
		ctx = tools.WithRequestID(ctx, requestID)
	}
	ctx = tools.WithSessionID(ctx, sessionID)

	state := &TurnState{
		SessionID: sessionID,
		Messages:  seedMessages(history, userText, userRefs),
	}

	start := time.Now()
	s.logger.Info("turn started",
		"session", sessionID,
		"request_id", requestID,
		"history", len(history),
		"images", len(req.Images),
	)

	if err := s.orchestrator.Run(ctx, state, obs); err != nil {
		s.logger.Warn("turn aborted",
			"session", sessionID,
			"request_id", requestID,
			"iterations", state.Iteration,
			"error", err,
		)
		return nil, err
	}

	answer := state.Answer
	refs, galleryText := s.gallery(sessionID, state.Images)

	assistantText := answer
	if galleryText != "" {
		assistantText += "\n\n" + galleryText
	}
	if err := s.sessions.AppendTurn(sessionID,
		session.Message{Role: session.RoleUser, Content: userText, Images: userRefs},
		session.Message{Role: session.RoleAssistant, Content: assistantText, Images: refs},
	); err != nil {
		return nil, fmt.Errorf("record turn: %w", err)
	}

	s.logger.Info("turn finished",
		"session", sessionID,
		"request_id", requestID,
		"iterations", state.Iteration,
		"truncated", state.Truncated,
		"reasoning_failed", state.ReasoningFailed,
		"images", len(refs),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return &ChatResponse{Answer: answer, SessionID: sessionID, Images: refs}, nil
}

// gallery resolves the turn's galleries into references and the id
// listing appended to the assistant history entry. Ids the session does
// not know are dropped.
func (s *Service) gallery(sessionID string, groups []imageref.Group) ([]imageref.Reference, string) {
	var refs []imageref.Reference
	var text []string
	for _, g := range groups {
		known := imageref.Group{Kind: g.Kind}
		for _, id := range g.ImageIDs {
			ref, err := s.sessions.Reference(sessionID, id, g.Kind)
			if err != nil {
				s.logger.Warn("dropping unknown image from answer",
					"session", sessionID,
					"image_id", id,
					"kind", g.Kind,
				)
				continue
			}
			refs = append(refs, ref)
			known.ImageIDs = append(known.ImageIDs, id)
		}
		if !known.Empty() {
			text = append(text, strings.TrimRight(known.Text(), "\n"))
		}
	}
	return refs, strings.Join(text, "\n")
}

// SessionData returns the session snapshot for introspection.
func (s *Service) SessionData(id string) (session.Snapshot, error) {
	return s.sessions.Snapshot(id)
}

// Cleanup removes a session.
func (s *Service) Cleanup(id string) error {
	return s.sessions.Cleanup(id)
}

func seedMessages(history []session.Message, userText string, userRefs []imageref.Reference) []Message {
	out := make([]Message, 0, len(history)+1)
	for _, m := range history {
		kind := KindUserText
		if m.Role == session.RoleAssistant {
			kind = KindAssistantText
		}
		out = append(out, Message{Kind: kind, Content: m.Content, Images: groupsFromRefs(m.Images)})
	}
	return append(out, Message{Kind: KindUserText, Content: userText, Images: groupsFromRefs(userRefs)})
}

func groupsFromRefs(refs []imageref.Reference) []imageref.Group {
	var groups []imageref.Group
	for _, r := range refs {
		if n := len(groups); n > 0 && groups[n-1].Kind == r.Kind {
			groups[n-1].ImageIDs = append(groups[n-1].ImageIDs, r.ImageID)
			continue
		}
		groups = append(groups, imageref.Group{Kind: r.Kind, ImageIDs: []string{r.ImageID}})
	}
	return groups
}

const requestIDAlphabet = "0123456789abcdef"

// NewRequestID returns a short id for correlating the log lines of
// one turn.
func NewRequestID() string {
	return "r_" + gonanoid.MustGenerate(requestIDAlphabet, 8)
}
