package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mimarumo25/iglesia-region-survey-sub004/draftstore"
	"github.com/mimarumo25/iglesia-region-survey-sub004/internal/observability"
	"github.com/mimarumo25/iglesia-region-survey-sub004/survey"
)

// errRejected marks messages that will never succeed; they are logged and
// removed from the queue instead of being retried.
var errRejected = errors.New("message rejected")

// ErrIncomplete is returned when a survey is submitted before every stage is
// complete.
var ErrIncomplete = errors.New("survey incomplete")

// Handler processes survey messages from SQS.
type Handler struct {
	drafts      *draftstore.Store
	publishers  []Publisher
	acks        Acknowledger
	categorizer *survey.Categorizer
	logger      *zap.Logger
	now         func() time.Time
	newID       func(messageID string) string
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithClock overrides the submission clock.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

// WithIDGenerator overrides how new survey ids are minted from the SQS
// message id.
func WithIDGenerator(gen func(messageID string) string) HandlerOption {
	return func(h *Handler) { h.newID = gen }
}

// WithAcknowledger reports stored drafts back to the sender.
func WithAcknowledger(a Acknowledger) HandlerOption {
	return func(h *Handler) { h.acks = a }
}

// idFromMessage derives an id from the SQS message id, so a redelivered
// message gets the same survey id and correlation id again.
func idFromMessage(kind, messageID string) string {
	if messageID == "" {
		return uuid.New().String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("sqs:"+kind+":"+messageID)).String()
}

func surveyIDFromMessage(messageID string) string {
	return idFromMessage("survey", messageID)
}

// WithCategorizer replaces the default keyword categorizer.
func WithCategorizer(c *survey.Categorizer) HandlerOption {
	return func(h *Handler) {
		if c != nil {
			h.categorizer = c
		}
	}
}

// NewHandler wires a Handler. Publishers run in order on submit; the draft is
// only committed when all of them succeed.
func NewHandler(drafts *draftstore.Store, publishers []Publisher, logger *zap.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		drafts:      drafts,
		publishers:  publishers,
		categorizer: survey.NewCategorizer(survey.WithCategorizerLogger(logger)),
		logger:      logger,
		now:         time.Now,
		newID:       surveyIDFromMessage,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes a batch and reports the records that should be retried.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range sqsEvent.Records {
		logger := h.logger.With(zap.String("message_id", record.MessageId))
		err := h.process(ctx, logger, record.MessageId, record.Body)
		switch {
		case err == nil:
		case errors.Is(err, errRejected):
			logger.Error("message rejected", zap.Error(err))
		default:
			logger.Error("message failed, will retry", zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}
	return resp, nil
}

func (h *Handler) process(ctx context.Context, logger *zap.Logger, messageID, body string) error {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return fmt.Errorf("%w: decode body: %v", errRejected, err)
	}
	if err := validate.Struct(msg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", errRejected, verrs)
		}
		return fmt.Errorf("%w: %v", errRejected, err)
	}
	if msg.SurveyID != "" {
		if err := draftstore.ValidateID(msg.SurveyID); err != nil {
			return fmt.Errorf("%w: %v", errRejected, err)
		}
	}
	if msg.LoggerContext.CorrelationID == "" {
		msg.LoggerContext.CorrelationID = idFromMessage("correlation", messageID)
	}
	logger = logger.With(observability.Correlation(msg.LoggerContext.CorrelationID, msg.SurveyID)...)

	switch msg.Action {
	case ActionSaveDraft:
		return h.saveDraft(ctx, logger, messageID, msg)
	case ActionDiscard:
		return h.discard(ctx, logger, msg)
	case ActionSubmit:
		_, err := h.Submit(ctx, logger, msg)
		return err
	default:
		return fmt.Errorf("%w: unknown action %q", errRejected, msg.Action)
	}
}

// saveDraft stores the session. A message without survey id starts a new
// draft; its id only reaches the sender through the acknowledgement.
func (h *Handler) saveDraft(ctx context.Context, logger *zap.Logger, messageID string, msg Message) error {
	expected := draftstore.AnyVersion
	if msg.SurveyID == "" {
		msg.SurveyID = h.newID(messageID)
	} else if msg.ExpectedVersion != nil {
		expected = *msg.ExpectedVersion
	}
	draft, err := h.drafts.Save(ctx, msg.SurveyID, *msg.Session, expected)
	if err != nil {
		if errors.Is(err, draftstore.ErrVersionConflict) || errors.Is(err, draftstore.ErrInvalidSurveyID) {
			return fmt.Errorf("%w: %v", errRejected, err)
		}
		return err
	}
	logger.Info("draft saved",
		zap.String("survey_id", draft.SurveyID),
		zap.Int("version", draft.Version),
		zap.Stringer("stage", draft.Session.Metadata.CurrentStage))

	if h.acks == nil {
		return nil
	}
	return h.acks.Acknowledge(ctx, DraftAck{
		SurveyID:      draft.SurveyID,
		Version:       draft.Version,
		CorrelationID: msg.LoggerContext.CorrelationID,
		SavedAt:       draft.SavedAt,
	})
}

func (h *Handler) discard(ctx context.Context, logger *zap.Logger, msg Message) error {
	err := h.drafts.Discard(ctx, msg.SurveyID)
	switch {
	case err == nil:
		logger.Info("draft discarded")
		return nil
	case errors.Is(err, draftstore.ErrNotFound):
		logger.Warn("discard requested for unknown draft")
		return nil
	case errors.Is(err, draftstore.ErrInvalidSurveyID):
		return fmt.Errorf("%w: %v", errRejected, err)
	default:
		return err
	}
}

// Submit finalises a survey: applies the waste disposal selection, checks
// every stage, exports the legacy record and clears the draft. The export is
// built from the message alone and targets that already received it are
// skipped, so a retried submission does not publish twice.
func (h *Handler) Submit(ctx context.Context, logger *zap.Logger, msg Message) (Submission, error) {
	if err := draftstore.ValidateID(msg.SurveyID); err != nil {
		return Submission{}, fmt.Errorf("%w: %v", errRejected, err)
	}
	session := msg.Session.Clone()

	at, err := session.ModifiedAt()
	if err != nil {
		logger.Warn("session timestamp unreadable, using current time",
			zap.String("timestamp", session.Metadata.Timestamp))
		at = h.now()
	}
	at = at.UTC()
	editor := survey.NewEditor(survey.WithClock(func() time.Time { return at }), survey.WithLogger(logger))

	if msg.DisposicionSeleccion != nil {
		flags := h.categorizer.Categorize(msg.DisposicionSeleccion, msg.DisposicionOpciones)
		session, err = editor.UpdateVivienda(session, survey.FieldDisposicionBasuras, flags.Disposicion())
		if err != nil {
			return Submission{}, fmt.Errorf("%w: %v", errRejected, err)
		}
	}

	if stage, missing := survey.FirstIncompleteStage(session); missing {
		return Submission{}, fmt.Errorf("%w: %w: stage %d (%s)", errRejected, ErrIncomplete, stage, stage)
	}
	session = editor.MarkCompleted(session)

	sub := Submission{
		SurveyID:      msg.SurveyID,
		CorrelationID: msg.LoggerContext.CorrelationID,
		SubmittedAt:   at,
		Record:        survey.ToLegacyFormat(session),
	}
	body, err := json.Marshal(sub)
	if err != nil {
		return Submission{}, fmt.Errorf("encode submission: %w", err)
	}

	done, err := h.drafts.Published(ctx, msg.SurveyID)
	if err != nil {
		return Submission{}, err
	}
	for _, p := range h.publishers {
		name := p.Name()
		if slices.Contains(done, name) {
			logger.Info("submission already published, skipping", zap.String("target", name))
			continue
		}
		if err := p.Publish(ctx, sub, body); err != nil {
			return Submission{}, fmt.Errorf("publish to %s: %w", name, err)
		}
		if err := h.drafts.MarkPublished(ctx, msg.SurveyID, name); err != nil {
			return Submission{}, err
		}
	}

	if err := h.drafts.Commit(ctx, msg.SurveyID); err != nil {
		return Submission{}, err
	}
	logger.Info("survey submitted",
		zap.String("export_key", ExportKey(sub)),
		zap.Int("family_members", len(session.FamilyMembers)),
		zap.Int("deceased_members", len(session.DeceasedMembers)))
	return sub, nil
}
