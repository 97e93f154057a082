package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mimarumo25/iglesia-region-survey-sub004/draftstore"
	"github.com/mimarumo25/iglesia-region-survey-sub004/survey"
)

var submittedAt = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	name   string
	subs   []Submission
	bodies [][]byte
	err    error
}

func (p *recordingPublisher) Name() string {
	if p.name == "" {
		return "recorder"
	}
	return p.name
}

func (p *recordingPublisher) Publish(_ context.Context, sub Submission, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.subs = append(p.subs, sub)
	p.bodies = append(p.bodies, body)
	return nil
}

type recordingAcks struct {
	acks []DraftAck
}

func (r *recordingAcks) Acknowledge(_ context.Context, ack DraftAck) error {
	r.acks = append(r.acks, ack)
	return nil
}

func newTestHandler(pub Publisher, opts ...HandlerOption) (*Handler, *draftstore.Store) {
	return newMultiHandler([]Publisher{pub}, opts...)
}

func newMultiHandler(pubs []Publisher, opts ...HandlerOption) (*Handler, *draftstore.Store) {
	drafts := draftstore.NewMemoryStore()
	opts = append([]HandlerOption{
		WithClock(func() time.Time { return submittedAt }),
		WithIDGenerator(func(string) string { return "generated-id" }),
	}, opts...)
	return NewHandler(drafts, pubs, zap.NewNop(), opts...), drafts
}

func completeSession() survey.SurveySessionData {
	s := survey.Initialize(nil)
	s.InformacionGeneral.Municipio = survey.Item("5", "Medellin")
	s.InformacionGeneral.ApellidoFamiliar = "Ruiz"
	s.InformacionGeneral.Direccion = "Calle 10 # 4-20"
	s.Vivienda.TipoVivienda = survey.Item("1", "Casa")
	s.FamilyMembers = []survey.FamilyMember{{Nombres: "Ana Ruiz"}}
	s.Observaciones.AutorizacionDatos = true
	s.Metadata.Timestamp = submittedAt.Format(time.RFC3339Nano)
	return s
}

func sqsEvent(t *testing.T, msgs ...Message) events.SQSEvent {
	t.Helper()
	var ev events.SQSEvent
	for i, m := range msgs {
		body, err := json.Marshal(m)
		require.NoError(t, err)
		ev.Records = append(ev.Records, events.SQSMessage{
			MessageId:   string(rune('a' + i)),
			EventSource: "aws:sqs",
			Body:        string(body),
		})
	}
	return ev
}

func TestSaveDraftMintsSurveyID(t *testing.T) {
	ctx := context.Background()
	acks := &recordingAcks{}
	h, drafts := newTestHandler(&recordingPublisher{}, WithAcknowledger(acks))
	s := survey.Initialize(nil)

	msg := Message{Action: ActionSaveDraft, Session: &s}
	msg.LoggerContext.CorrelationID = "corr-1"
	resp, err := h.Handle(ctx, sqsEvent(t, msg))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	d, err := drafts.Load(ctx, "generated-id")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Version)

	require.Len(t, acks.acks, 1)
	assert.Equal(t, "generated-id", acks.acks[0].SurveyID)
	assert.Equal(t, 1, acks.acks[0].Version)
	assert.Equal(t, "corr-1", acks.acks[0].CorrelationID)

	// The sender can continue the draft with the acknowledged id and version.
	next := Message{Action: ActionSaveDraft, SurveyID: acks.acks[0].SurveyID, ExpectedVersion: &acks.acks[0].Version, Session: &s}
	resp, err = h.Handle(ctx, sqsEvent(t, next))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	require.Len(t, acks.acks, 2)
	assert.Equal(t, 2, acks.acks[1].Version)
}

func TestRedeliveredSaveDraftReusesMintedID(t *testing.T) {
	ctx := context.Background()
	drafts := draftstore.NewMemoryStore()
	h := NewHandler(drafts, nil, zap.NewNop())
	s := survey.Initialize(nil)

	ev := sqsEvent(t, Message{Action: ActionSaveDraft, Session: &s})
	for i := 0; i < 2; i++ {
		resp, err := h.Handle(ctx, ev)
		require.NoError(t, err)
		assert.Empty(t, resp.BatchItemFailures)
	}

	ids, err := drafts.List(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	d, err := drafts.Load(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 2, d.Version)
}

func TestSaveDraftVersionConflictIsNotRetried(t *testing.T) {
	ctx := context.Background()
	h, drafts := newTestHandler(&recordingPublisher{})
	s := survey.Initialize(nil)
	_, err := drafts.Save(ctx, "enc-1", s, 0)
	require.NoError(t, err)

	stale := 0
	resp, err := h.Handle(ctx, sqsEvent(t, Message{Action: ActionSaveDraft, SurveyID: "enc-1", ExpectedVersion: &stale, Session: &s}))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	d, err := drafts.Load(ctx, "enc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Version)
}

func TestSubmitExportsAndCommitsDraft(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	h, drafts := newTestHandler(pub)
	s := completeSession()
	_, err := drafts.Save(ctx, "enc-1", s, 0)
	require.NoError(t, err)

	msg := Message{
		Action:               ActionSubmit,
		SurveyID:             "enc-1",
		Session:              &s,
		DisposicionSeleccion: []string{"1", "3"},
		DisposicionOpciones: []survey.CatalogOption{
			{Value: "1", Label: "Recolección Pública"},
			{Value: "3", Label: "Enterrada"},
		},
	}
	msg.LoggerContext.CorrelationID = "corr-1"

	resp, err := h.Handle(ctx, sqsEvent(t, msg))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	require.Len(t, pub.subs, 1)
	sub := pub.subs[0]
	assert.Equal(t, "enc-1", sub.SurveyID)
	assert.Equal(t, "corr-1", sub.CorrelationID)
	assert.Equal(t, submittedAt, sub.SubmittedAt)
	assert.Equal(t, survey.ItemID("5"), sub.Record.Municipio)
	assert.True(t, sub.Record.BasuraFlags.Recolector)
	assert.True(t, sub.Record.BasuraFlags.Enterrada)
	assert.False(t, sub.Record.BasuraFlags.NoAplica)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(pub.bodies[0], &decoded))
	record := decoded["record"].(map[string]any)
	assert.Equal(t, true, record["basuras_recolector"])
	assert.Equal(t, float64(5), record["municipio"])

	_, err = drafts.Load(ctx, "enc-1")
	assert.ErrorIs(t, err, draftstore.ErrNotFound)
}

func TestSubmitIncompleteSurveyIsRejected(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	h, _ := newTestHandler(pub)
	s := completeSession()
	s.Observaciones.AutorizacionDatos = false

	_, err := h.Submit(ctx, zap.NewNop(), Message{Action: ActionSubmit, SurveyID: "enc-1", Session: &s})
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.ErrorIs(t, err, errRejected)

	resp, err := h.Handle(ctx, sqsEvent(t, Message{Action: ActionSubmit, SurveyID: "enc-1", Session: &s}))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Empty(t, pub.subs)
}

func TestSubmitPublishFailureIsRetriedAndKeepsDraft(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("s3 unavailable")}
	h, drafts := newTestHandler(pub)
	s := completeSession()
	_, err := drafts.Save(ctx, "enc-1", s, 0)
	require.NoError(t, err)

	resp, err := h.Handle(ctx, sqsEvent(t, Message{Action: ActionSubmit, SurveyID: "enc-1", Session: &s}))
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "a", resp.BatchItemFailures[0].ItemIdentifier)

	_, err = drafts.Load(ctx, "enc-1")
	assert.NoError(t, err)
}

func TestSubmitRetrySkipsPublishedTargets(t *testing.T) {
	ctx := context.Background()
	first := &recordingPublisher{name: "first"}
	second := &recordingPublisher{name: "second", err: errors.New("api down")}
	h, drafts := newMultiHandler([]Publisher{first, second})
	s := completeSession()
	_, err := drafts.Save(ctx, "enc-1", s, 0)
	require.NoError(t, err)

	ev := sqsEvent(t, Message{Action: ActionSubmit, SurveyID: "enc-1", Session: &s})
	for i := 0; i < 2; i++ {
		resp, err := h.Handle(ctx, ev)
		require.NoError(t, err)
		require.Len(t, resp.BatchItemFailures, 1)
	}
	_, err = drafts.Load(ctx, "enc-1")
	require.NoError(t, err)

	second.err = nil
	resp, err := h.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	require.Len(t, first.subs, 1)
	require.Len(t, second.subs, 1)
	assert.Equal(t, ExportKey(first.subs[0]), ExportKey(second.subs[0]))
	assert.Equal(t, first.bodies[0], second.bodies[0])

	_, err = drafts.Load(ctx, "enc-1")
	assert.ErrorIs(t, err, draftstore.ErrNotFound)
	done, err := drafts.Published(ctx, "enc-1")
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestSubmitExportKeyDoesNotDependOnProcessingTime(t *testing.T) {
	ctx := context.Background()
	s := completeSession()
	msg := Message{Action: ActionSubmit, SurveyID: "enc-1", Session: &s}

	var keys []string
	for _, now := range []time.Time{submittedAt.Add(time.Minute), submittedAt.Add(time.Hour)} {
		clock := now
		h, _ := newTestHandler(&recordingPublisher{}, WithClock(func() time.Time { return clock }))
		sub, err := h.Submit(ctx, zap.NewNop(), msg)
		require.NoError(t, err)
		keys = append(keys, ExportKey(sub))
	}
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, "mia-survey-export-enc-1-2024-06-01-12:00:00.json", keys[0])
}

func TestPathLikeSurveyIDIsRejectedBeforePublishing(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	h, _ := newTestHandler(pub)
	s := completeSession()

	_, err := h.Submit(ctx, zap.NewNop(), Message{Action: ActionSubmit, SurveyID: "../x", Session: &s})
	assert.ErrorIs(t, err, errRejected)
	assert.ErrorIs(t, err, draftstore.ErrInvalidSurveyID)

	for _, action := range []string{ActionSubmit, ActionSaveDraft, ActionDiscard} {
		resp, err := h.Handle(ctx, sqsEvent(t, Message{Action: action, SurveyID: "../x", Session: &s}))
		require.NoError(t, err)
		assert.Empty(t, resp.BatchItemFailures, action)
	}
	assert.Empty(t, pub.subs)
}

func TestInvalidMessagesAreDropped(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHandler(&recordingPublisher{})

	ev := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "bad-json", Body: "{"},
		{MessageId: "no-action", Body: `{"survey_id": "enc-1"}`},
		{MessageId: "submit-without-session", Body: `{"action": "submit", "survey_id": "enc-1"}`},
		{MessageId: "discard-without-id", Body: `{"action": "discard"}`},
	}}
	resp, err := h.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	h, drafts := newTestHandler(&recordingPublisher{})
	_, err := drafts.Save(ctx, "enc-1", survey.Initialize(nil), 0)
	require.NoError(t, err)

	resp, err := h.Handle(ctx, sqsEvent(t,
		Message{Action: ActionDiscard, SurveyID: "enc-1"},
		Message{Action: ActionDiscard, SurveyID: "enc-1"},
	))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	_, err = drafts.Load(ctx, "enc-1")
	assert.ErrorIs(t, err, draftstore.ErrNotFound)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-2")
	t.Setenv("S3_BUCKET", "exports")
	t.Setenv("DRAFT_BUCKET", "")
	t.Setenv("OUTPUT_QUEUE", "")
	t.Setenv("API_ENDPOINT", "")
	t.Setenv("API_TIMEOUT", "3s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "exports", cfg.DraftBucket)
	assert.Equal(t, defaultOutputQueue, cfg.OutputQueue)
	assert.Equal(t, 3*time.Second, cfg.APITimeout)

	t.Setenv("API_ENDPOINT", "not a url")
	_, err = LoadConfig()
	assert.Error(t, err)

	t.Setenv("API_ENDPOINT", "")
	t.Setenv("S3_BUCKET", "")
	_, err = LoadConfig()
	assert.Error(t, err)
}

type fakeUploader struct {
	s3manageriface.UploaderAPI
	inputs []*s3manager.UploadInput
	bodies []string
}

func (f *fakeUploader) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, string(body))
	return &s3manager.UploadOutput{}, nil
}

func TestS3ExporterUploadsSubmission(t *testing.T) {
	up := &fakeUploader{}
	exp := NewS3Exporter(up, "exports")
	sub := Submission{SurveyID: "enc-1", SubmittedAt: submittedAt}

	require.NoError(t, exp.Publish(context.Background(), sub, []byte(`{"ok":true}`)))

	require.Len(t, up.inputs, 1)
	assert.Equal(t, "exports", aws.StringValue(up.inputs[0].Bucket))
	assert.Equal(t, "mia-survey-export-enc-1-2024-06-01-12:00:00.json", aws.StringValue(up.inputs[0].Key))
	assert.Equal(t, `{"ok":true}`, up.bodies[0])
}

type fakeSQS struct {
	sqsiface.SQSAPI
	urlLookups int
	sent       []*sqs.SendMessageInput
}

func (f *fakeSQS) GetQueueUrlWithContext(_ aws.Context, in *sqs.GetQueueUrlInput, _ ...request.Option) (*sqs.GetQueueUrlOutput, error) {
	f.urlLookups++
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.local/" + aws.StringValue(in.QueueName))}, nil
}

func (f *fakeSQS) SendMessageWithContext(_ aws.Context, in *sqs.SendMessageInput, _ ...request.Option) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func TestQueueNotifierResolvesURLOnce(t *testing.T) {
	client := &fakeSQS{}
	n := NewQueueNotifier(client, "out")
	sub := Submission{SurveyID: "enc-1", CorrelationID: "corr-1", SubmittedAt: submittedAt}

	require.NoError(t, n.Publish(context.Background(), sub, []byte("{}")))
	require.NoError(t, n.Publish(context.Background(), sub, []byte("{}")))

	assert.Equal(t, 1, client.urlLookups)
	require.Len(t, client.sent, 2)
	in := client.sent[0]
	assert.Equal(t, "https://sqs.local/out", aws.StringValue(in.QueueUrl))
	assert.Equal(t, "enc-1", aws.StringValue(in.MessageAttributes["SurveyID"].StringValue))
	assert.Equal(t, "corr-1", aws.StringValue(in.MessageAttributes["CorrelationID"].StringValue))
	assert.Equal(t, "survey_submitted", aws.StringValue(in.MessageAttributes["Event"].StringValue))
}

func TestQueueNotifierAcknowledgesDraft(t *testing.T) {
	client := &fakeSQS{}
	n := NewQueueNotifier(client, "out")

	ack := DraftAck{SurveyID: "enc-1", Version: 3, CorrelationID: "corr-1", SavedAt: submittedAt}
	require.NoError(t, n.Acknowledge(context.Background(), ack))

	require.Len(t, client.sent, 1)
	in := client.sent[0]
	assert.Equal(t, "draft_saved", aws.StringValue(in.MessageAttributes["Event"].StringValue))
	assert.Equal(t, "3", aws.StringValue(in.MessageAttributes["Version"].StringValue))
	assert.Equal(t, "corr-1", aws.StringValue(in.MessageAttributes["CorrelationID"].StringValue))
	assert.JSONEq(t, `{"survey_id":"enc-1","version":3,"correlation_id":"corr-1","saved_at":"2024-06-01T12:00:00Z"}`,
		aws.StringValue(in.MessageBody))
}

func TestAPIPublisherPostsRecord(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "corr-1", r.Header.Get("X-Correlation-ID"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sub := Submission{
		SurveyID:      "enc-1",
		CorrelationID: "corr-1",
		Record:        survey.ToLegacyFormat(completeSession()),
	}
	require.NoError(t, NewAPIPublisher(srv.URL, time.Second).Publish(context.Background(), sub, nil))
	assert.Equal(t, "Ruiz", got["apellido_familiar"])
	assert.Equal(t, float64(5), got["municipio"])
}

func TestAPIPublisherReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "municipio requerido", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewAPIPublisher(srv.URL, time.Second).Publish(context.Background(), Submission{SurveyID: "enc-1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "municipio requerido")
}
