package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"

	"github.com/maubry/mailtriage/internal/classifier"
	"github.com/maubry/mailtriage/internal/database"
	"github.com/maubry/mailtriage/internal/decoder"
	"github.com/maubry/mailtriage/internal/parser"
	"github.com/maubry/mailtriage/pkg/models"
)

type fakeSource struct {
	messages []*gmail.Message
	fetchErr error
	payloads map[string][]byte

	mu         sync.Mutex
	fetchCalls int
}

func (f *fakeSource) FetchRecent(ctx context.Context, since time.Time, limit int64, includeOutbound bool) ([]*gmail.Message, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.messages, nil
}

func (f *fakeSource) DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	data, ok := f.payloads[attachmentID]
	if !ok {
		return nil, errors.New("attachment not found")
	}
	return data, nil
}

type fakeClassifier struct {
	result  classifier.Result
	started chan struct{} // closed on the first call
	block   chan struct{} // when set, Classify waits until closed
	calls   int
}

func (f *fakeClassifier) Classify(ctx context.Context, in classifier.Input) classifier.Result {
	f.calls++
	if f.started != nil && f.calls == 1 {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.result
}

type nullStore struct{}

func (nullStore) Save(data []byte, filename, senderEmail, messageID, attachmentID, mimeType string, declaredSize int64) (models.AttachmentRef, error) {
	return models.AttachmentRef{Filename: filename, StoragePath: "x/" + filename, MimeType: mimeType, Size: declaredSize}, nil
}

func plainResult() classifier.Result {
	return classifier.Result{
		Category:   models.CategoryGeneral,
		Priority:   models.PriorityMedium,
		Summary:    "Routine correspondence",
		Confidence: 0.8,
		Tags:       []string{},
	}
}

func gmailMsg(id, from, subject, body string) *gmail.Message {
	return &gmail.Message{
		Id:       id,
		ThreadId: "t-" + id,
		LabelIds: []string{"INBOX"},
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: from},
				{Name: "Subject", Value: subject},
				{Name: "Date", Value: "Tue, 13 May 2025 08:00:00 +0000"},
			},
			Body: &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte(body))},
		},
	}
}

type testEnv struct {
	db       *database.DB
	messages *database.MessageRepo
	runs     *database.RunRepo
	counters *database.CounterService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	counters := database.NewCounterService(db)
	return &testEnv{
		db:       db,
		messages: database.NewMessageRepo(db, counters),
		runs:     database.NewRunRepo(db),
		counters: counters,
	}
}

func newTestOrchestrator(t *testing.T, env *testEnv, source *fakeSource, cls Classifier) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dec := decoder.New(nullStore{}, parser.NewHTMLParser(), decoder.Owner{}, logger)
	return New(source, dec, cls, env.messages, env.runs, Options{FetchLimit: 50}, logger)
}

func TestRun_IngestsNewMessages(t *testing.T) {
	env := newTestEnv(t)
	source := &fakeSource{messages: []*gmail.Message{
		gmailMsg("g1", "jane@example.com", "Rent question", "When is rent due?"),
		gmailMsg("g2", "bob@example.com", "Parking", "Can I rent a second spot?"),
	}}
	cls := &fakeClassifier{result: plainResult()}
	o := newTestOrchestrator(t, env, source, cls)

	summary, err := o.Run(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.New)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 2, cls.calls)

	stored, err := env.messages.GetByProviderID(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "Rent question", stored.Subject)

	counts, err := env.counters.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Unread)
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	source := &fakeSource{messages: []*gmail.Message{
		gmailMsg("g1", "jane@example.com", "Rent question", "When is rent due?"),
	}}
	cls := &fakeClassifier{result: plainResult()}
	o := newTestOrchestrator(t, env, source, cls)

	first, err := o.Run(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, first.New)

	// Overlapping window: everything is seen again, nothing is re-ingested.
	second, err := o.Run(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Processed)
	assert.Zero(t, second.New)
	assert.Empty(t, second.Errors)
	assert.Equal(t, 1, cls.calls)

	counts, err := env.counters.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Unread)
}

func TestRun_FetchFailureFailsRun(t *testing.T) {
	env := newTestEnv(t)
	source := &fakeSource{fetchErr: errors.New("gmail unreachable")}
	o := newTestOrchestrator(t, env, source, &fakeClassifier{result: plainResult()})

	_, err := o.Run(context.Background(), time.Now().Add(-time.Hour))
	require.Error(t, err)

	var runs []models.IngestionRun
	require.NoError(t, env.db.SelectContext(context.Background(), &runs, `SELECT * FROM ingestion_runs`))
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Equal(t, []string{"gmail unreachable"}, runs[0].ErrorList())
}

func TestRun_BadMessageDoesNotAbortBatch(t *testing.T) {
	env := newTestEnv(t)
	broken := &gmail.Message{Id: "broken"} // no payload
	source := &fakeSource{messages: []*gmail.Message{
		broken,
		gmailMsg("good", "jane@example.com", "All fine", "Everything works."),
	}}
	cls := &fakeClassifier{result: plainResult()}
	o := newTestOrchestrator(t, env, source, cls)

	summary, err := o.Run(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.New)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "broken")

	_, err = env.messages.GetByProviderID(context.Background(), "good")
	assert.NoError(t, err)

	// The completed run carries the per-message error.
	var runs []models.IngestionRun
	require.NoError(t, env.db.SelectContext(context.Background(), &runs, `SELECT * FROM ingestion_runs`))
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusCompleted, runs[0].Status)
	assert.Len(t, runs[0].ErrorList(), 1)
}

func TestRun_ClassificationStored(t *testing.T) {
	env := newTestEnv(t)
	source := &fakeSource{messages: []*gmail.Message{
		gmailMsg("g9", "jane@example.com", "Ceiling leak", "Water is dripping."),
	}}
	result := classifier.Result{
		Category:       models.CategoryCriticalAlerts,
		SubCategory:    "Water Emergency",
		Priority:       models.PriorityCritical,
		Summary:        "Active leak reported",
		Confidence:     0.95,
		RequiresAction: true,
		Tags:           []string{"emergency"},
		Extracted: models.ExtractedInfo{
			ContactName:     "Jane Tenant",
			PropertyAddress: "12 Oak St",
		},
	}
	o := newTestOrchestrator(t, env, source, &fakeClassifier{result: result})

	_, err := o.Run(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	msg, err := env.messages.GetByProviderID(context.Background(), "g9")
	require.NoError(t, err)
	cls, err := env.messages.GetClassification(context.Background(), msg.ID)
	require.NoError(t, err)

	assert.Equal(t, models.CategoryCriticalAlerts, cls.Category)
	assert.Equal(t, models.PriorityCritical, cls.Priority)
	assert.True(t, cls.RequiresAction)
	assert.Equal(t, "Jane Tenant", cls.ContactName)
	assert.Equal(t, "12 Oak St", cls.PropertyAddress)
	assert.Contains(t, cls.ExtractedInfo, "property_address")

	counts, err := env.counters.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Counters{Critical: 1, Unread: 1, RequiresAction: 1}, counts)
}

func TestRun_GuardRejectsConcurrentRun(t *testing.T) {
	env := newTestEnv(t)
	source := &fakeSource{messages: []*gmail.Message{
		gmailMsg("g1", "jane@example.com", "s", "b"),
	}}
	started := make(chan struct{})
	block := make(chan struct{})
	cls := &fakeClassifier{result: plainResult(), started: started, block: block}
	o := newTestOrchestrator(t, env, source, cls)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), time.Now().Add(-time.Hour))
		done <- err
	}()

	// Wait until the first run is inside the pipeline, then try a second.
	<-started
	_, err := o.Run(context.Background(), time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrRunActive)

	close(block)
	require.NoError(t, <-done)

	// The guard is released once the run finishes.
	_, err = o.Run(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
}
