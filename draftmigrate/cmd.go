package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mimarumo25/iglesia-region-survey-sub004/draftstore"
	"github.com/mimarumo25/iglesia-region-survey-sub004/internal/observability"
	"github.com/mimarumo25/iglesia-region-survey-sub004/survey"
)

type options struct {
	logLevel string
	dryRun   bool
	timeout  time.Duration

	out string

	region string
	bucket string
}

// storeFactory builds the draft store used by the s3 command. Tests swap it
// for an in-memory store.
type storeFactory func(opts *options, logger *zap.Logger) (*draftstore.Store, error)

func s3Store(opts *options, logger *zap.Logger) (*draftstore.Store, error) {
	if opts.bucket == "" {
		return nil, errors.New("--bucket or DRAFT_BUCKET is required")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(opts.region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return draftstore.New(draftstore.NewS3Backend(s3.New(sess), opts.bucket), draftstore.WithLogger(logger)), nil
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(s3Store)
}

func newRootCmdWith(newStore storeFactory) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "draftmigrate",
		Short:         "Convert string catalog ids in survey drafts to numeric ids",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "report changes without writing them")

	fileCmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Migrate a draft document stored in a local JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := observability.NewLogger(opts.logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runFile(cmd.OutOrStdout(), logger, opts, args[0])
		},
	}
	fileCmd.Flags().StringVar(&opts.out, "out", "", "write the migrated draft here instead of in place")

	s3Cmd := &cobra.Command{
		Use:   "s3 [survey-id...]",
		Short: "Migrate drafts kept in the S3 draft bucket (all when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := observability.NewLogger(opts.logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := newStore(opts, logger)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runStore(ctx, cmd.OutOrStdout(), logger, opts, store, args)
		},
	}
	s3Cmd.Flags().StringVar(&opts.region, "region", os.Getenv("AWS_REGION"), "AWS region")
	s3Cmd.Flags().StringVar(&opts.bucket, "bucket", os.Getenv("DRAFT_BUCKET"), "draft bucket")
	s3Cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall timeout")

	root.AddCommand(fileCmd, s3Cmd)
	return root
}

func runFile(w io.Writer, logger *zap.Logger, opts *options, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read draft: %w", err)
	}
	editor := survey.NewEditor(survey.WithLogger(logger))
	out, report, err := editor.MigrateDraftJSON(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	printReport(w, path, report)

	if opts.dryRun {
		return nil
	}
	target := opts.out
	if target == "" {
		if !report.Changed() {
			return nil
		}
		target = path
	}
	if err := os.WriteFile(target, out, 0o600); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}
	return nil
}

func runStore(ctx context.Context, w io.Writer, logger *zap.Logger, opts *options, store *draftstore.Store, ids []string) error {
	if len(ids) == 0 {
		var err error
		if ids, err = store.List(ctx); err != nil {
			return err
		}
	}
	editor := survey.NewEditor(survey.WithLogger(logger))

	var failed []string
	for _, id := range ids {
		if err := migrateOne(ctx, w, editor, opts, store, id); err != nil {
			logger.Error("draft migration failed", zap.String("survey_id", id), zap.Error(err))
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d drafts failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func migrateOne(ctx context.Context, w io.Writer, editor *survey.Editor, opts *options, store *draftstore.Store, id string) error {
	draft, err := store.LoadRaw(ctx, id)
	if err != nil {
		return err
	}
	out, report, err := editor.MigrateDraftJSON(draft.Session)
	if err != nil {
		return err
	}
	printReport(w, id, report)
	if opts.dryRun || !report.Changed() {
		return nil
	}
	draft.Session = out
	_, err = store.SaveRaw(ctx, draft)
	return err
}

func printReport(w io.Writer, name string, report survey.MigrationReport) {
	fmt.Fprintf(w, "%s: %d converted, %d skipped\n", name, len(report.Converted), len(report.Skipped))
	for _, path := range report.Converted {
		fmt.Fprintf(w, "  converted %s\n", path)
	}
	for _, path := range report.Skipped {
		fmt.Fprintf(w, "  skipped   %s\n", path)
	}
}
