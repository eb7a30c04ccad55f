// Package ingest coordinates the fetch-decode-classify-persist pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/api/gmail/v1"

	"github.com/maubry/mailtriage/internal/classifier"
	"github.com/maubry/mailtriage/internal/database"
	"github.com/maubry/mailtriage/internal/decoder"
	gmailclient "github.com/maubry/mailtriage/internal/gmail"
	"github.com/maubry/mailtriage/pkg/models"
)

// ErrRunActive is returned when an ingestion run is already in progress.
// User-triggered and scheduled runs share the same guard.
var ErrRunActive = errors.New("ingestion run already active")

// Source fetches provider messages and attachment payloads.
type Source interface {
	FetchRecent(ctx context.Context, since time.Time, limit int64, includeOutbound bool) ([]*gmail.Message, error)
	DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// Classifier produces a triage result for one decoded message.
type Classifier interface {
	Classify(ctx context.Context, in classifier.Input) classifier.Result
}

// Options tunes one orchestrator instance.
type Options struct {
	FetchLimit      int64
	IncludeOutbound bool
}

// Orchestrator drives ingestion runs. Each message is processed
// independently: nothing escapes the per-message loop, all failures are
// aggregated into the run's error list.
type Orchestrator struct {
	source     Source
	decoder    *decoder.Decoder
	classifier Classifier
	messages   *database.MessageRepo
	runs       *database.RunRepo
	logger     *slog.Logger
	opts       Options

	mu     sync.Mutex
	active bool
}

// New creates an orchestrator.
func New(source Source, dec *decoder.Decoder, cls Classifier, messages *database.MessageRepo, runs *database.RunRepo, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 100
	}
	return &Orchestrator{
		source:     source,
		decoder:    dec,
		classifier: cls,
		messages:   messages,
		runs:       runs,
		logger:     logger.With("component", "orchestrator"),
		opts:       opts,
	}
}

// tryAcquire atomically checks-and-sets the single-run guard.
func (o *Orchestrator) tryAcquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active {
		return false
	}
	o.active = true
	return true
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.active = false
	o.mu.Unlock()
}

// Run executes one ingestion pass over messages received since the given
// time. Re-running with overlapping windows is safe: dedup by provider
// message id is the sole correctness mechanism, there is no cursor.
func (o *Orchestrator) Run(ctx context.Context, since time.Time) (models.RunSummary, error) {
	if !o.tryAcquire() {
		return models.RunSummary{}, ErrRunActive
	}
	defer o.release()

	run, err := o.runs.Open(ctx)
	if err != nil {
		return models.RunSummary{}, fmt.Errorf("cannot open run record: %w", err)
	}
	o.logger.Info("ingestion run started", "run_id", run.ID, "since", since)

	msgs, err := o.source.FetchRecent(ctx, since, o.opts.FetchLimit, o.opts.IncludeOutbound)
	if err != nil {
		// Fetch and auth failures are the only run-level failures.
		ferr := o.runs.Finalize(ctx, run, models.RunStatusFailed, 0, 0, []string{err.Error()})
		if ferr != nil {
			o.logger.Error("failed to finalize failed run", "run_id", run.ID, "error", ferr)
		}
		if errors.Is(err, gmailclient.ErrAuthRequired) {
			o.logger.Error("ingestion halted: not authenticated")
		}
		return models.RunSummary{}, err
	}

	summary := models.RunSummary{Processed: len(msgs)}
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("run interrupted: %v", err))
			break
		}
		isNew, errs := o.processOne(ctx, msg)
		if isNew {
			summary.New++
		}
		summary.Errors = append(summary.Errors, errs...)
	}

	if err := o.runs.Finalize(ctx, run, models.RunStatusCompleted, summary.Processed, summary.New, summary.Errors); err != nil {
		o.logger.Error("failed to finalize run", "run_id", run.ID, "error", err)
	}

	o.logger.Info("ingestion run completed",
		"run_id", run.ID,
		"processed", summary.Processed,
		"new", summary.New,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

// processOne runs the pipeline for a single message. A bad message never
// aborts the batch; everything is caught, tagged with the message id and
// stage, and reported back.
func (o *Orchestrator) processOne(ctx context.Context, msg *gmail.Message) (bool, []string) {
	// Dedup first: the provider id is known before decoding, and skipping
	// early avoids repeat attachment downloads and model calls on
	// overlapping windows.
	exists, err := o.messages.Exists(ctx, msg.Id)
	if err != nil {
		return false, []string{fmt.Sprintf("message %s (dedup): %v", msg.Id, err)}
	}
	if exists {
		o.logger.Debug("message already ingested", "message_id", msg.Id)
		return false, nil
	}

	result, err := o.decoder.Decode(ctx, msg, o.source)
	if err != nil {
		o.logger.Error("decode failed", "message_id", msg.Id, "error", err)
		return false, []string{fmt.Sprintf("message %s (decode): %v", msg.Id, err)}
	}

	var errs []string
	for _, p := range result.Problems {
		o.logger.Warn("attachment skipped", "message_id", msg.Id, "filename", p.Filename, "stage", p.Stage, "error", p.Err)
		errs = append(errs, fmt.Sprintf("message %s: %s", msg.Id, p))
	}

	record := result.Message
	clsResult := o.classifier.Classify(ctx, classifier.Input{
		Subject:        record.Subject,
		SenderName:     record.SenderName,
		SenderEmail:    record.SenderEmail,
		RecipientName:  record.RecipientName,
		RecipientEmail: record.RecipientEmail,
		Body:           record.BodyCleaned,
		Outbound:       record.IsOutbound,
		Attachments:    record.AttachmentRefs(),
	})

	cls, err := buildClassificationRow(clsResult)
	if err != nil {
		return false, append(errs, fmt.Sprintf("message %s (classification encode): %v", msg.Id, err))
	}

	if err := o.messages.SaveWithClassification(ctx, record, cls); err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			// Raced with another writer; a duplicate is a no-op, not an error.
			return false, errs
		}
		o.logger.Error("persistence failed", "message_id", msg.Id, "error", err)
		return false, append(errs, fmt.Sprintf("message %s (persist): %v", msg.Id, err))
	}

	o.logger.Info("ingested message",
		"message_id", msg.Id,
		"category", cls.Category,
		"priority", cls.Priority,
		"attachments", len(record.AttachmentRefs()),
	)
	return true, errs
}

// buildClassificationRow converts a classifier result into a storable row,
// lifting the well-known extracted fields into their typed columns.
func buildClassificationRow(r classifier.Result) (*models.Classification, error) {
	extracted, err := r.Extracted.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode extracted info: %w", err)
	}

	cls := &models.Classification{
		Category:        r.Category,
		SubCategory:     r.SubCategory,
		Priority:        r.Priority,
		Confidence:      r.Confidence,
		Summary:         r.Summary,
		ExtractedInfo:   string(extracted),
		ContactName:     r.Extracted.ContactName,
		ContactPhone:    r.Extracted.ContactPhone,
		ContactEmail:    r.Extracted.ContactEmail,
		PropertyAddress: r.Extracted.PropertyAddress,
		RequiresAction:  r.RequiresAction,
	}
	if err := cls.SetTagList(r.Tags); err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	return cls, nil
}
