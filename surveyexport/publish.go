package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

const exportFilenamePrefix = "mia-survey-export-"

// Values of the Event attribute on output queue messages.
const (
	eventSurveySubmitted = "survey_submitted"
	eventDraftSaved      = "draft_saved"
)

// Publisher hands a submitted survey to a downstream consumer. Name
// identifies the target in the export progress kept for retries, so it must
// be stable across deployments.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, sub Submission, body []byte) error
}

// Acknowledger tells the sender under which id and version a draft was
// stored.
type Acknowledger interface {
	Acknowledge(ctx context.Context, ack DraftAck) error
}

// S3Exporter writes each submission as a JSON object to the export bucket.
type S3Exporter struct {
	uploader s3manageriface.UploaderAPI
	bucket   string
}

// NewS3Exporter returns an exporter uploading to bucket.
func NewS3Exporter(uploader s3manageriface.UploaderAPI, bucket string) *S3Exporter {
	return &S3Exporter{uploader: uploader, bucket: bucket}
}

// Name implements Publisher.
func (e *S3Exporter) Name() string { return "s3" }

// ExportKey names the object a submission is written to. SubmittedAt comes
// from the session, so a retried submission writes the same key.
func ExportKey(sub Submission) string {
	return exportFilenamePrefix + sub.SurveyID + "-" + sub.SubmittedAt.UTC().Format("2006-01-02-15:04:05") + ".json"
}

// Publish uploads body.
func (e *S3Exporter) Publish(ctx context.Context, sub Submission, body []byte) error {
	key := ExportKey(sub)
	_, err := e.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload %q to %q: %w", key, e.bucket, err)
	}
	return nil
}

// QueueNotifier sends each submission to the output queue.
type QueueNotifier struct {
	client sqsiface.SQSAPI
	queue  string

	mu       sync.Mutex
	queueURL string
}

// NewQueueNotifier returns a notifier for the named queue. The queue URL is
// resolved on first use.
func NewQueueNotifier(client sqsiface.SQSAPI, queue string) *QueueNotifier {
	return &QueueNotifier{client: client, queue: queue}
}

func (n *QueueNotifier) resolveURL(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.queueURL != "" {
		return n.queueURL, nil
	}
	out, err := n.client.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(n.queue),
	})
	if err != nil {
		return "", fmt.Errorf("find output queue %q: %w", n.queue, err)
	}
	n.queueURL = aws.StringValue(out.QueueUrl)
	return n.queueURL, nil
}

// Name implements Publisher.
func (n *QueueNotifier) Name() string { return "sqs" }

// Publish sends body with the survey id and correlation id as attributes.
func (n *QueueNotifier) Publish(ctx context.Context, sub Submission, body []byte) error {
	attrs := map[string]*sqs.MessageAttributeValue{
		"ExportKey": stringAttr(ExportKey(sub)),
	}
	return n.send(ctx, eventSurveySubmitted, sub.SurveyID, sub.CorrelationID, attrs, body)
}

// Acknowledge sends the id and version of a stored draft back to the
// front-end, which matches it to its request by correlation id.
func (n *QueueNotifier) Acknowledge(ctx context.Context, ack DraftAck) error {
	body, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("encode draft ack: %w", err)
	}
	attrs := map[string]*sqs.MessageAttributeValue{
		"Version": {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.Itoa(ack.Version)),
		},
	}
	return n.send(ctx, eventDraftSaved, ack.SurveyID, ack.CorrelationID, attrs, body)
}

func (n *QueueNotifier) send(ctx context.Context, event, surveyID, correlationID string, attrs map[string]*sqs.MessageAttributeValue, body []byte) error {
	url, err := n.resolveURL(ctx)
	if err != nil {
		return err
	}
	attrs["Event"] = stringAttr(event)
	attrs["SurveyID"] = stringAttr(surveyID)
	if correlationID != "" {
		attrs["CorrelationID"] = stringAttr(correlationID)
	}
	_, err = n.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		MessageAttributes: attrs,
		MessageBody:       aws.String(string(body)),
		QueueUrl:          aws.String(url),
	})
	if err != nil {
		return fmt.Errorf("send %s to output queue %q: %w", event, n.queue, err)
	}
	return nil
}

func stringAttr(v string) *sqs.MessageAttributeValue {
	return &sqs.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

// APIPublisher posts the legacy record to the census REST API.
type APIPublisher struct {
	client   *http.Client
	endpoint string
}

// NewAPIPublisher returns a publisher posting to endpoint.
func NewAPIPublisher(endpoint string, timeout time.Duration) *APIPublisher {
	return &APIPublisher{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
	}
}

// Name implements Publisher.
func (p *APIPublisher) Name() string { return "api" }

// Publish posts the flat record only; the API does not know the envelope.
func (p *APIPublisher) Publish(ctx context.Context, sub Submission, _ []byte) error {
	payload, err := json.Marshal(sub.Record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sub.CorrelationID != "" {
		req.Header.Set("X-Correlation-ID", sub.CorrelationID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post survey %s: %w", sub.SurveyID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post survey %s: status %d: %s", sub.SurveyID, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
