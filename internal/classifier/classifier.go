// Package classifier assigns each message a category, priority and summary
// using a hosted language model, guarded by a deterministic keyword-based
// urgency override that can only escalate, never de-escalate.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/maubry/mailtriage/pkg/models"
)

// Completer produces a model reply for one system+user exchange.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Input is the normalized message content the classifier consumes.
type Input struct {
	Subject        string
	SenderName     string
	SenderEmail    string
	RecipientName  string
	RecipientEmail string
	Body           string // cleaned plain text, never raw markup
	Outbound       bool
	Attachments    []models.AttachmentRef
}

// Result always satisfies the classification invariants: category in the
// taxonomy, priority one of the four levels, confidence in [0,1].
type Result struct {
	Category       string
	SubCategory    string
	Priority       string
	Summary        string
	Confidence     float64
	RequiresAction bool
	Tags           []string
	Extracted      models.ExtractedInfo
	UrgencyScore   float64
}

// Classifier drives the per-message decision sequence. It never returns an
// error: every failure mode degrades to a well-formed fallback result.
type Classifier struct {
	completer Completer
	keywords  map[string]float64
	threshold float64
	logger    *slog.Logger
}

// New creates a classifier. A nil keyword table selects the default.
func New(completer Completer, keywords map[string]float64, threshold float64, logger *slog.Logger) *Classifier {
	if keywords == nil {
		keywords = DefaultUrgencyKeywords()
	}
	if threshold <= 0 {
		threshold = DefaultUrgencyThreshold
	}
	return &Classifier{
		completer: completer,
		keywords:  keywords,
		threshold: threshold,
		logger:    logger.With("component", "classifier"),
	}
}

// Classify runs the decision sequence for one message.
func (c *Classifier) Classify(ctx context.Context, in Input) Result {
	if in.Outbound {
		return c.classifyOutbound(in)
	}

	score := UrgencyScore(in.Subject, in.Body, c.keywords)

	result, err := c.callModel(ctx, in)
	if err != nil {
		c.logger.Error("classification failed", "sender", in.SenderEmail, "error", err)
		result = fallbackResult()
	}
	result.UrgencyScore = score

	// The override replaces the model's proposal outright; a cheap keyword
	// scan is a high-recall safety net the model does not get to veto.
	if score >= c.threshold {
		c.logger.Info("urgency override fired", "score", score, "sender", in.SenderEmail)
		result.Category = models.CategoryCriticalAlerts
		result.Priority = models.PriorityCritical
		result.RequiresAction = true
		result.SubCategory = emergencySubCategory(in.Body)
	}

	c.mergeAttachments(&result, in.Attachments)
	applyDefaults(&result)

	c.logger.Info("message classified",
		"category", result.Category,
		"priority", result.Priority,
		"urgency", score,
	)
	return result
}

// classifyOutbound returns the fixed low-effort classification for sent
// mail; no model call is made.
func (c *Classifier) classifyOutbound(in Input) Result {
	recipient := in.RecipientName
	if recipient == "" {
		recipient = in.RecipientEmail
	}
	if recipient == "" {
		recipient = "Unknown"
	}
	result := Result{
		Category:       models.CategoryGeneral,
		SubCategory:    "Sent Email",
		Priority:       models.PriorityMedium,
		Summary:        "Sent email to " + recipient,
		Confidence:     1.0,
		RequiresAction: false,
		Tags:           []string{"sent", "outbound"},
		Extracted: models.ExtractedInfo{
			ContactName:  in.RecipientName,
			ContactEmail: in.RecipientEmail,
		},
	}
	c.mergeAttachments(&result, in.Attachments)
	return result
}

// wireClassification mirrors the JSON object the prompt demands.
type wireClassification struct {
	Category       string               `json:"category"`
	SubCategory    string               `json:"sub_category"`
	Priority       string               `json:"priority"`
	Summary        string               `json:"summary"`
	ExtractedInfo  models.ExtractedInfo `json:"extracted_info"`
	RequiresAction bool                 `json:"requires_action"`
	Confidence     *float64             `json:"confidence_score"`
	Tags           []string             `json:"tags"`
}

func (c *Classifier) callModel(ctx context.Context, in Input) (Result, error) {
	reply, err := c.completer.Complete(ctx, systemPrompt, buildPrompt(in))
	if err != nil {
		return Result{}, err
	}

	var wire wireClassification
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &wire); err != nil {
		return Result{}, fmt.Errorf("malformed model reply: %w", err)
	}

	// A missing confidence_score defaults to 0.5; an explicit 0 is kept.
	confidence := 0.5
	if wire.Confidence != nil {
		confidence = *wire.Confidence
	}

	return Result{
		Category:       wire.Category,
		SubCategory:    wire.SubCategory,
		Priority:       wire.Priority,
		Summary:        wire.Summary,
		Confidence:     confidence,
		RequiresAction: wire.RequiresAction,
		Tags:           wire.Tags,
		Extracted:      wire.ExtractedInfo,
	}, nil
}

// stripCodeFence removes an optional ```json / ``` wrapper around a reply.
func stripCodeFence(reply string) string {
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "```") {
		reply = strings.TrimPrefix(reply, "```json")
		reply = strings.TrimPrefix(reply, "```")
		reply = strings.TrimSuffix(strings.TrimSpace(reply), "```")
	}
	return strings.TrimSpace(reply)
}

// fallbackResult is used when the model is unreachable or replies with
// something unparseable; the pipeline never aborts on a bad reply.
func fallbackResult() Result {
	return Result{
		Category:   models.CategoryGeneral,
		Priority:   models.PriorityMedium,
		Summary:    "Classification failed - manual review needed",
		Confidence: 0.0,
		Tags:       []string{"classification_failed"},
	}
}

// mergeAttachments records attachment metadata regardless of which branch
// produced the result.
func (c *Classifier) mergeAttachments(result *Result, refs []models.AttachmentRef) {
	if len(refs) == 0 {
		return
	}
	result.Extracted.SetExtra("attachment_count", strconv.Itoa(len(refs)))
	result.Extracted.SetExtra("attachment_types", strings.Join(attachmentTypes(refs), ", "))
}

// applyDefaults guarantees the invariants hold whatever the model said.
func applyDefaults(result *Result) {
	if !models.ValidCategory(result.Category) {
		result.Category = models.CategoryGeneral
	}
	if !models.ValidPriority(result.Priority) {
		result.Priority = models.PriorityMedium
	}
	if result.Summary == "" {
		result.Summary = "Email requires review"
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	if result.Tags == nil {
		result.Tags = []string{}
	}
}
