package classifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maubry/mailtriage/pkg/models"
)

type stubCompleter struct {
	reply string
	err   error
	calls int
}

func (s *stubCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const validReply = `{
	"category": "Maintenance Requests",
	"sub_category": "Plumbing",
	"priority": "High",
	"summary": "Tenant reports a dripping faucet",
	"extracted_info": {"contact_name": "Sam Lee", "property_address": "12 Oak St"},
	"requires_action": true,
	"confidence_score": 0.92,
	"tags": ["maintenance", "plumbing"]
}`

func TestClassify_ModelReply(t *testing.T) {
	completer := &stubCompleter{reply: validReply}
	c := New(completer, nil, 0, testLogger())

	result := c.Classify(context.Background(), Input{
		Subject: "Dripping faucet",
		Body:    "The kitchen faucet drips constantly.",
	})

	assert.Equal(t, 1, completer.calls)
	assert.Equal(t, "Maintenance Requests", result.Category)
	assert.Equal(t, "Plumbing", result.SubCategory)
	assert.Equal(t, models.PriorityHigh, result.Priority)
	assert.Equal(t, 0.92, result.Confidence)
	assert.True(t, result.RequiresAction)
	assert.Equal(t, "Sam Lee", result.Extracted.ContactName)
	assert.Equal(t, "12 Oak St", result.Extracted.PropertyAddress)
}

func TestClassify_CodeFencedReply(t *testing.T) {
	completer := &stubCompleter{reply: "```json\n" + validReply + "\n```"}
	c := New(completer, nil, 0, testLogger())

	result := c.Classify(context.Background(), Input{Subject: "Dripping faucet"})
	assert.Equal(t, "Maintenance Requests", result.Category)
}

func TestClassify_UrgencyOverrideReplacesModel(t *testing.T) {
	// Model calls it low priority; the keyword scan must win.
	completer := &stubCompleter{reply: `{"category": "General", "priority": "Low", "summary": "ok", "confidence_score": 0.9}`}
	c := New(completer, nil, 0, testLogger())

	result := c.Classify(context.Background(), Input{
		Subject: "EMERGENCY",
		Body:    "water is leaking through the bathroom ceiling",
	})

	assert.Equal(t, models.CategoryCriticalAlerts, result.Category)
	assert.Equal(t, models.PriorityCritical, result.Priority)
	assert.Equal(t, "Water Emergency", result.SubCategory)
	assert.True(t, result.RequiresAction)
	assert.Equal(t, 1.0, result.UrgencyScore)
}

func TestClassify_OverrideFiresEvenWhenModelFails(t *testing.T) {
	completer := &stubCompleter{err: errors.New("connection refused")}
	c := New(completer, nil, 0, testLogger())

	result := c.Classify(context.Background(), Input{
		Subject: "fire in the building",
	})

	assert.Equal(t, models.CategoryCriticalAlerts, result.Category)
	assert.Equal(t, models.PriorityCritical, result.Priority)
	assert.True(t, result.RequiresAction)
}

func TestClassify_FallbackOnModelError(t *testing.T) {
	completer := &stubCompleter{err: errors.New("timeout")}
	c := New(completer, nil, 0, testLogger())

	result := c.Classify(context.Background(), Input{Subject: "Monthly statement"})

	assert.Equal(t, models.CategoryGeneral, result.Category)
	assert.Equal(t, models.PriorityMedium, result.Priority)
	assert.Equal(t, "Classification failed - manual review needed", result.Summary)
	assert.Zero(t, result.Confidence)
	assert.Equal(t, []string{"classification_failed"}, result.Tags)
}

func TestClassify_FallbackOnMalformedReply(t *testing.T) {
	completer := &stubCompleter{reply: "I cannot classify this email."}
	c := New(completer, nil, 0, testLogger())

	result := c.Classify(context.Background(), Input{Subject: "hello"})
	assert.Equal(t, "Classification failed - manual review needed", result.Summary)
}

func TestClassify_OutboundSkipsModel(t *testing.T) {
	completer := &stubCompleter{reply: validReply}
	c := New(completer, nil, 0, testLogger())

	result := c.Classify(context.Background(), Input{
		Subject:        "Re: lease renewal",
		Outbound:       true,
		RecipientName:  "Dana Fox",
		RecipientEmail: "dana@example.com",
	})

	assert.Zero(t, completer.calls)
	assert.Equal(t, models.CategoryGeneral, result.Category)
	assert.Equal(t, "Sent Email", result.SubCategory)
	assert.Equal(t, models.PriorityMedium, result.Priority)
	assert.Equal(t, "Sent email to Dana Fox", result.Summary)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, []string{"sent", "outbound"}, result.Tags)
}

func TestClassify_InvalidTaxonomyValuesDefaulted(t *testing.T) {
	completer := &stubCompleter{reply: `{"category": "Spam Folder", "priority": "Extreme", "summary": "", "confidence_score": 7}`}
	c := New(completer, nil, 0, testLogger())

	result := c.Classify(context.Background(), Input{Subject: "misc"})

	assert.Equal(t, models.CategoryGeneral, result.Category)
	assert.Equal(t, models.PriorityMedium, result.Priority)
	assert.Equal(t, "Email requires review", result.Summary)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestClassify_MissingConfidenceDefaults(t *testing.T) {
	completer := &stubCompleter{reply: `{"category": "General", "priority": "Low", "summary": "fine"}`}
	c := New(completer, nil, 0, testLogger())

	result := c.Classify(context.Background(), Input{Subject: "misc"})
	assert.Equal(t, 0.5, result.Confidence)
}

func TestClassify_AttachmentMetadataMerged(t *testing.T) {
	completer := &stubCompleter{reply: validReply}
	c := New(completer, nil, 0, testLogger())

	result := c.Classify(context.Background(), Input{
		Subject: "photos of the damage",
		Attachments: []models.AttachmentRef{
			{Filename: "front.jpg", MimeType: "image/jpeg"},
			{Filename: "back.jpg", MimeType: "image/jpeg"},
		},
	})

	require.NotNil(t, result.Extracted.Extra)
	assert.Equal(t, "2", result.Extracted.Extra["attachment_count"])
	assert.Equal(t, "image/jpeg", result.Extracted.Extra["attachment_types"])
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}
