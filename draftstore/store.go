// Package draftstore keeps versioned snapshots of in-progress survey sessions
// keyed by survey id. A draft lives until it is committed (the survey was
// submitted) or discarded.
package draftstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mimarumo25/iglesia-region-survey-sub004/survey"
)

// AnyVersion disables the optimistic version check on Save.
const AnyVersion = -1

var (
	// ErrNotFound is returned when no draft exists for a survey id.
	ErrNotFound = errors.New("draftstore: draft not found")
	// ErrVersionConflict is returned when a save is based on a stale version.
	ErrVersionConflict = errors.New("draftstore: draft version conflict")
	// ErrInvalidSurveyID is returned for empty or path-like survey ids.
	ErrInvalidSurveyID = errors.New("draftstore: invalid survey id")
)

// Backend stores opaque objects by key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Draft is a decoded draft snapshot.
type Draft struct {
	SurveyID string                   `json:"survey_id"`
	Version  int                      `json:"version"`
	SavedAt  time.Time                `json:"saved_at"`
	Session  survey.SurveySessionData `json:"session"`
}

// RawDraft is a draft whose session document has not been decoded. The
// migration tool works on this form so that it can rewrite fields the
// session model would normalise on load.
type RawDraft struct {
	SurveyID string          `json:"survey_id"`
	Version  int             `json:"version"`
	SavedAt  time.Time       `json:"saved_at"`
	Session  json.RawMessage `json:"session"`
}

// Store implements draft lifecycle on top of a Backend.
type Store struct {
	backend Backend
	editor  *survey.Editor
	logger  *zap.Logger
	now     func() time.Time

	mu sync.Mutex
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for SavedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.editor = survey.NewEditor(survey.WithLogger(s.logger))
	return s
}

// exportProgressPrefix holds, per survey, the publish targets that already
// received its submission.
const exportProgressPrefix = "parish-survey-export"

type exportProgress struct {
	SurveyID  string   `json:"survey_id"`
	Published []string `json:"published"`
}

func progressKey(surveyID string) string {
	return exportProgressPrefix + "/" + surveyID + ".json"
}

// Key returns the backend key of a survey draft.
func Key(surveyID string) string {
	return survey.DraftStorageKey + "/" + surveyID + ".json"
}

// ValidateID reports whether surveyID can be used as a storage key. It
// returns an error wrapping ErrInvalidSurveyID for empty or path-like ids.
func ValidateID(surveyID string) error {
	if strings.TrimSpace(surveyID) == "" || strings.ContainsAny(surveyID, "/\\") || strings.Contains(surveyID, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSurveyID, surveyID)
	}
	return nil
}

// Load returns the current draft of surveyID.
func (s *Store) Load(ctx context.Context, surveyID string) (Draft, error) {
	raw, err := s.LoadRaw(ctx, surveyID)
	if err != nil {
		return Draft{}, err
	}
	session, err := s.editor.Hydrate(raw.Session)
	if err != nil {
		return Draft{}, fmt.Errorf("decode draft %s: %w", surveyID, err)
	}
	return Draft{
		SurveyID: raw.SurveyID,
		Version:  raw.Version,
		SavedAt:  raw.SavedAt,
		Session:  session,
	}, nil
}

// LoadRaw returns the current draft of surveyID without decoding the session.
func (s *Store) LoadRaw(ctx context.Context, surveyID string) (RawDraft, error) {
	if err := ValidateID(surveyID); err != nil {
		return RawDraft{}, err
	}
	body, err := s.backend.Get(ctx, Key(surveyID))
	if err != nil {
		return RawDraft{}, err
	}
	var raw RawDraft
	if err := json.Unmarshal(body, &raw); err != nil {
		return RawDraft{}, fmt.Errorf("decode draft %s: %w", surveyID, err)
	}
	if raw.SurveyID == "" {
		raw.SurveyID = surveyID
	}
	return raw, nil
}

// Save stores session as the next version of the draft. expectedVersion must
// match the stored version (0 when no draft exists) unless it is AnyVersion.
func (s *Store) Save(ctx context.Context, surveyID string, session survey.SurveySessionData, expectedVersion int) (Draft, error) {
	doc, err := json.Marshal(session)
	if err != nil {
		return Draft{}, fmt.Errorf("encode session %s: %w", surveyID, err)
	}
	raw, err := s.SaveRaw(ctx, RawDraft{SurveyID: surveyID, Version: expectedVersion, Session: doc})
	if err != nil {
		return Draft{}, err
	}
	return Draft{
		SurveyID: raw.SurveyID,
		Version:  raw.Version,
		SavedAt:  raw.SavedAt,
		Session:  session,
	}, nil
}

// SaveRaw stores an undecoded session document. draft.Version is the
// version the caller read; the stored draft gets the next version.
func (s *Store) SaveRaw(ctx context.Context, draft RawDraft) (RawDraft, error) {
	if err := ValidateID(draft.SurveyID); err != nil {
		return RawDraft{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := 0
	existing, err := s.LoadRaw(ctx, draft.SurveyID)
	switch {
	case err == nil:
		current = existing.Version
	case errors.Is(err, ErrNotFound):
	default:
		return RawDraft{}, err
	}
	if draft.Version != AnyVersion && draft.Version != current {
		return RawDraft{}, fmt.Errorf("%w: %s at version %d, save based on %d",
			ErrVersionConflict, draft.SurveyID, current, draft.Version)
	}

	next := RawDraft{
		SurveyID: draft.SurveyID,
		Version:  current + 1,
		SavedAt:  s.now().UTC(),
		Session:  draft.Session,
	}
	body, err := json.Marshal(next)
	if err != nil {
		return RawDraft{}, fmt.Errorf("encode draft %s: %w", draft.SurveyID, err)
	}
	if err := s.backend.Put(ctx, Key(draft.SurveyID), body); err != nil {
		return RawDraft{}, fmt.Errorf("store draft %s: %w", draft.SurveyID, err)
	}
	s.logger.Debug("draft saved",
		zap.String("survey_id", next.SurveyID),
		zap.Int("version", next.Version))
	return next, nil
}

// Commit clears the draft after the survey was submitted. Committing a
// survey without draft is not an error.
func (s *Store) Commit(ctx context.Context, surveyID string) error {
	if err := ValidateID(surveyID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.backend.Delete(ctx, Key(surveyID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("commit draft %s: %w", surveyID, err)
	}
	if err := s.clearProgress(ctx, surveyID); err != nil {
		return fmt.Errorf("commit draft %s: %w", surveyID, err)
	}
	s.logger.Info("draft committed", zap.String("survey_id", surveyID))
	return nil
}

// Discard deletes an abandoned draft.
func (s *Store) Discard(ctx context.Context, surveyID string) error {
	if err := ValidateID(surveyID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, Key(surveyID)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("discard draft %s: %w", surveyID, err)
	}
	if err := s.clearProgress(ctx, surveyID); err != nil {
		return fmt.Errorf("discard draft %s: %w", surveyID, err)
	}
	s.logger.Info("draft discarded", zap.String("survey_id", surveyID))
	return nil
}

// Published returns the publish targets already recorded for the submission
// of surveyID. A survey with no recorded progress returns nil.
func (s *Store) Published(ctx context.Context, surveyID string) ([]string, error) {
	if err := ValidateID(surveyID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadProgress(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	return p.Published, nil
}

// MarkPublished records that target received the submission of surveyID.
// Progress is kept until the draft is committed or discarded, so a retried
// submission can skip the targets that already have it.
func (s *Store) MarkPublished(ctx context.Context, surveyID, target string) error {
	if err := ValidateID(surveyID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadProgress(ctx, surveyID)
	if err != nil {
		return err
	}
	for _, done := range p.Published {
		if done == target {
			return nil
		}
	}
	p.SurveyID = surveyID
	p.Published = append(p.Published, target)
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode export progress %s: %w", surveyID, err)
	}
	if err := s.backend.Put(ctx, progressKey(surveyID), body); err != nil {
		return fmt.Errorf("store export progress %s: %w", surveyID, err)
	}
	return nil
}

func (s *Store) loadProgress(ctx context.Context, surveyID string) (exportProgress, error) {
	body, err := s.backend.Get(ctx, progressKey(surveyID))
	if errors.Is(err, ErrNotFound) {
		return exportProgress{}, nil
	}
	if err != nil {
		return exportProgress{}, fmt.Errorf("load export progress %s: %w", surveyID, err)
	}
	var p exportProgress
	if err := json.Unmarshal(body, &p); err != nil {
		return exportProgress{}, fmt.Errorf("decode export progress %s: %w", surveyID, err)
	}
	return p, nil
}

func (s *Store) clearProgress(ctx context.Context, surveyID string) error {
	if err := s.backend.Delete(ctx, progressKey(surveyID)); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// List returns the survey ids that currently have a draft.
func (s *Store) List(ctx context.Context) ([]string, error) {
	prefix := survey.DraftStorageKey + "/"
	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json")
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
