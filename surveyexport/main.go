// Command surveyexport is the Lambda that receives survey drafts and
// submissions from SQS, keeps drafts in S3 and exports submitted surveys.
package main

import (
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/sqs"
	"go.uber.org/zap"

	"github.com/mimarumo25/iglesia-region-survey-sub004/draftstore"
	"github.com/mimarumo25/iglesia-region-survey-sub004/internal/observability"
	"github.com/mimarumo25/iglesia-region-survey-sub004/survey"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	handler, err := buildHandler(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	logger.Info("starting survey export",
		zap.String("region", cfg.Region),
		zap.String("export_bucket", cfg.ExportBucket),
		zap.String("draft_bucket", cfg.DraftBucket),
		zap.String("output_queue", cfg.OutputQueue))

	lambda.Start(handler.Handle)
}

func buildHandler(cfg Config, logger *zap.Logger) (*Handler, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}

	drafts := draftstore.New(
		draftstore.NewS3Backend(s3.New(sess), cfg.DraftBucket),
		draftstore.WithLogger(logger),
	)

	notifier := NewQueueNotifier(sqs.New(sess), cfg.OutputQueue)
	publishers := []Publisher{
		NewS3Exporter(s3manager.NewUploader(sess), cfg.ExportBucket),
		notifier,
	}
	if cfg.APIEndpoint != "" {
		publishers = append(publishers, NewAPIPublisher(cfg.APIEndpoint, cfg.APITimeout))
	}

	opts := []HandlerOption{WithAcknowledger(notifier)}
	if cfg.BasuraKeywordsFile != "" {
		c, err := survey.LoadCategorizer(cfg.BasuraKeywordsFile, survey.WithCategorizerLogger(logger))
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCategorizer(c))
	}
	return NewHandler(drafts, publishers, logger, opts...), nil
}
