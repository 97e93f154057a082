package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mimarumo25/iglesia-region-survey-sub004/survey"
)

const (
	defaultOutputQueue = "mia-survey-export-output"
	defaultAPITimeout  = 10 * time.Second
)

// Message actions.
const (
	ActionSaveDraft = "save_draft"
	ActionSubmit    = "submit"
	ActionDiscard   = "discard"
)

var validate = validator.New()

// Config holds the Lambda settings read from the environment.
type Config struct {
	Region             string `validate:"required"`
	DraftBucket        string `validate:"required"`
	ExportBucket       string `validate:"required"`
	OutputQueue        string `validate:"required"`
	APIEndpoint        string `validate:"omitempty,url"`
	APITimeout         time.Duration
	LogLevel           string
	BasuraKeywordsFile string
}

// LoadConfig reads Config from the environment. DRAFT_BUCKET defaults to the
// export bucket.
func LoadConfig() (Config, error) {
	cfg := Config{
		Region:             os.Getenv("AWS_REGION"),
		ExportBucket:       os.Getenv("S3_BUCKET"),
		DraftBucket:        os.Getenv("DRAFT_BUCKET"),
		OutputQueue:        os.Getenv("OUTPUT_QUEUE"),
		APIEndpoint:        strings.TrimSpace(os.Getenv("API_ENDPOINT")),
		APITimeout:         defaultAPITimeout,
		LogLevel:           os.Getenv("LOG_LEVEL"),
		BasuraKeywordsFile: os.Getenv("BASURA_KEYWORDS_FILE"),
	}
	if cfg.DraftBucket == "" {
		cfg.DraftBucket = cfg.ExportBucket
	}
	if cfg.OutputQueue == "" {
		cfg.OutputQueue = defaultOutputQueue
	}
	if raw := os.Getenv("API_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse API_TIMEOUT: %w", err)
		}
		cfg.APITimeout = d
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Message is the body of one SQS record sent by the survey front-end.
type Message struct {
	Action          string                    `json:"action" validate:"required,oneof=save_draft submit discard"`
	SurveyID        string                    `json:"survey_id" validate:"required_unless=Action save_draft"`
	ExpectedVersion *int                      `json:"expected_version" validate:"omitempty,min=0"`
	Session         *survey.SurveySessionData `json:"session" validate:"required_unless=Action discard"`

	// DisposicionSeleccion holds the catalog values picked in the waste
	// disposal multi-select; DisposicionOpciones is the catalog they come from.
	DisposicionSeleccion []string               `json:"disposicion_seleccion"`
	DisposicionOpciones  []survey.CatalogOption `json:"disposicion_opciones"`

	LoggerContext struct {
		CorrelationID   string `json:"log_correlation_id"`
		CorrelationType string `json:"log_correlation_type"`
	} `json:"context"`
}

// DraftAck is sent on the output queue after a draft is stored.
type DraftAck struct {
	SurveyID      string    `json:"survey_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id"`
	SavedAt       time.Time `json:"saved_at"`
}

// Submission is what gets exported for a submitted survey. SubmittedAt is the
// session's last modification time rather than the time of processing.
type Submission struct {
	SurveyID      string                  `json:"survey_id"`
	CorrelationID string                  `json:"correlation_id"`
	SubmittedAt   time.Time               `json:"submitted_at"`
	Record        survey.LegacyFlatRecord `json:"record"`
}
