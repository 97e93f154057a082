// Package survey holds the household survey session model used by the parish
// census wizard and the pure transforms applied to it before submission.
package survey

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339Nano
)

// RawSurveyInput is the partial input a session may be started from.
type RawSurveyInput struct {
	FamilyMembers   []FamilyMember   `json:"family_members"`
	DeceasedMembers []DeceasedMember `json:"deceased_members"`
}

// Editor applies session transforms with an injectable clock and logger.
// The zero value is not usable; call NewEditor.
type Editor struct {
	now    func() time.Time
	logger *zap.Logger
}

// EditorOption customises an Editor.
type EditorOption func(*Editor)

// WithClock overrides the time source used for dates and timestamps.
func WithClock(now func() time.Time) EditorOption {
	return func(e *Editor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger used for warnings.
func WithLogger(logger *zap.Logger) EditorOption {
	return func(e *Editor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEditor constructs an Editor using time.Now and a no-op logger unless
// overridden.
func NewEditor(opts ...EditorOption) *Editor {
	e := &Editor{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEditor = NewEditor()

// Initialize builds a fresh session. Family and deceased members from the
// seed are copied in as they are.
func (e *Editor) Initialize(seed *RawSurveyInput) SurveySessionData {
	now := e.now()
	s := SurveySessionData{
		InformacionGeneral: InformacionGeneral{Fecha: now.Format(dateLayout)},
		FamilyMembers:      []FamilyMember{},
		DeceasedMembers:    []DeceasedMember{},
		Metadata: Metadata{
			Timestamp:    now.UTC().Format(timestampLayout),
			CurrentStage: StageGeneral,
		},
	}
	if seed == nil {
		return s
	}
	if seed.FamilyMembers != nil {
		s.FamilyMembers = append(s.FamilyMembers, seed.FamilyMembers...)
	}
	if seed.DeceasedMembers != nil {
		s.DeceasedMembers = append(s.DeceasedMembers, seed.DeceasedMembers...)
	}
	return s
}

// Hydrate resumes a session from a persisted draft document. Sections absent
// from the document keep their defaults; a stage outside 1..6 is reset to 1.
func (e *Editor) Hydrate(doc []byte) (SurveySessionData, error) {
	s := e.Initialize(nil)
	if err := json.Unmarshal(doc, &s); err != nil {
		return SurveySessionData{}, err
	}
	if s.FamilyMembers == nil {
		s.FamilyMembers = []FamilyMember{}
	}
	if s.DeceasedMembers == nil {
		s.DeceasedMembers = []DeceasedMember{}
	}
	if !s.Metadata.CurrentStage.Valid() {
		e.logger.Warn("draft has out of range stage, resetting",
			zap.Int("stage", int(s.Metadata.CurrentStage)))
		s.Metadata.CurrentStage = StageGeneral
	}
	return s, nil
}

// Initialize builds a fresh session using the wall clock.
func Initialize(seed *RawSurveyInput) SurveySessionData {
	return defaultEditor.Initialize(seed)
}

// Hydrate resumes a session from a persisted draft document.
func Hydrate(doc []byte) (SurveySessionData, error) {
	return defaultEditor.Hydrate(doc)
}

func (e *Editor) stamp(s *SurveySessionData) {
	s.Metadata.Timestamp = e.now().UTC().Format(timestampLayout)
}
