// Package decoder turns provider message envelopes into normalized records.
package decoder

import (
	"context"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"regexp"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"

	"github.com/maubry/mailtriage/internal/attachments"
	gmailclient "github.com/maubry/mailtriage/internal/gmail"
	"github.com/maubry/mailtriage/internal/parser"
	"github.com/maubry/mailtriage/pkg/models"
)

// Runs of blank lines / spaces collapse to one; a cleaned body is capped.
const (
	bodyMaxChars     = 5000
	truncationMarker = "... [truncated]"
)

// Attachment download retry policy.
const (
	downloadAttempts = 3
	downloadBackoff  = time.Second
)

// Downloader fetches attachment bytes by content id.
type Downloader interface {
	DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// AttachmentStore persists attachment bytes and returns a reference.
type AttachmentStore interface {
	Save(data []byte, filename, senderEmail, messageID, attachmentID, mimeType string, declaredSize int64) (models.AttachmentRef, error)
}

// AttachmentProblem records why one attachment was skipped. The owning
// message still proceeds.
type AttachmentProblem struct {
	Filename string
	Stage    string // "validation", "download", "filesystem"
	Err      error
}

func (p AttachmentProblem) String() string {
	return fmt.Sprintf("attachment %q (%s): %v", p.Filename, p.Stage, p.Err)
}

// Result is a decoded message plus any per-attachment problems.
type Result struct {
	Message  *models.Message
	Problems []AttachmentProblem
}

// Owner identifies the mailbox owner, used to fill outbound sender fields
// when headers are incomplete.
type Owner struct {
	Name  string
	Email string
}

// Decoder normalizes Gmail message payloads: header extraction, MIME part
// walking, attachment persistence, HTML to text conversion and body cleanup.
type Decoder struct {
	store      AttachmentStore
	htmlParser *parser.HTMLParser
	logger     *slog.Logger
	owner      Owner
	now        func() time.Time

	blankLineRuns *regexp.Regexp
	spaceRuns     *regexp.Regexp
	signatures    []*regexp.Regexp
	bareEmail     *regexp.Regexp
}

// New creates a decoder writing attachments into store.
func New(store AttachmentStore, htmlParser *parser.HTMLParser, owner Owner, logger *slog.Logger) *Decoder {
	return &Decoder{
		store:         store,
		htmlParser:    htmlParser,
		logger:        logger.With("component", "decoder"),
		owner:         owner,
		now:           time.Now,
		blankLineRuns: regexp.MustCompile(`\n\s*\n`),
		spaceRuns:     regexp.MustCompile(` +`),
		signatures: []*regexp.Regexp{
			regexp.MustCompile(`Sent from my \w+`),
			regexp.MustCompile(`Get Outlook for \w+`),
		},
		bareEmail: regexp.MustCompile(`[\w.\-]+@[\w.\-]+\.\w+`),
	}
}

// Decode turns one provider message into a normalized record, persisting
// its attachments along the way. Attachment failures never fail the
// message; they are reported in the result for the caller to record.
func (d *Decoder) Decode(ctx context.Context, msg *gmail.Message, dl Downloader) (*Result, error) {
	if msg == nil || msg.Payload == nil {
		return nil, fmt.Errorf("message %s has no payload", messageID(msg))
	}

	headers := headerMap(msg.Payload.Headers)
	outbound := hasLabel(msg.LabelIds, "SENT")

	senderName, senderEmail := splitAddress(d, headers["from"])
	recipientName, recipientEmail := splitAddress(d, headers["to"])
	if outbound && senderEmail == "" {
		senderName, senderEmail = d.owner.Name, d.owner.Email
	}

	var (
		bodyHTML string
		bodyText string
		refs     []models.AttachmentRef
		problems []AttachmentProblem
	)

	if len(msg.Payload.Parts) > 0 {
		bodyHTML, bodyText, refs, problems = d.walkParts(ctx, msg.Payload.Parts, msg.Id, senderEmail, dl)
	} else {
		bodyHTML, bodyText, refs, problems = d.decodeSinglePart(ctx, msg.Payload, msg.Id, senderEmail, dl)
	}

	// The classifier consumes derived text, never raw markup.
	if bodyText == "" && bodyHTML != "" {
		text, err := d.htmlParser.Parse(bodyHTML)
		if err != nil {
			d.logger.Warn("html conversion failed", "message_id", msg.Id, "error", err)
		} else {
			bodyText = text
		}
	}

	record := &models.Message{
		MessageID:      msg.Id,
		ThreadID:       msg.ThreadId,
		SenderName:     senderName,
		SenderEmail:    senderEmail,
		RecipientName:  recipientName,
		RecipientEmail: recipientEmail,
		ReceivedAt:     d.parseDate(headers["date"]),
		IsOutbound:     outbound,
		Subject:        headers["subject"],
		BodyHTML:       bodyHTML,
		BodyCleaned:    d.CleanBody(bodyText),
	}
	if err := record.SetLabelList(msg.LabelIds); err != nil {
		return nil, fmt.Errorf("failed to encode labels: %w", err)
	}
	if err := record.SetAttachmentRefs(refs); err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}

	return &Result{Message: record, Problems: problems}, nil
}

// walkParts recursively accumulates text bodies and hands binary parts to
// the attachment store.
func (d *Decoder) walkParts(ctx context.Context, parts []*gmail.MessagePart, msgID, senderEmail string, dl Downloader) (string, string, []models.AttachmentRef, []AttachmentProblem) {
	var (
		html     strings.Builder
		text     strings.Builder
		refs     []models.AttachmentRef
		problems []AttachmentProblem
	)

	for _, part := range parts {
		if len(part.Parts) > 0 {
			subHTML, subText, subRefs, subProblems := d.walkParts(ctx, part.Parts, msgID, senderEmail, dl)
			html.WriteString(subHTML)
			text.WriteString(subText)
			refs = append(refs, subRefs...)
			problems = append(problems, subProblems...)
			continue
		}

		switch {
		case part.MimeType == "text/html":
			html.WriteString(d.decodeTextPart(part, msgID))
		case part.MimeType == "text/plain":
			text.WriteString(d.decodeTextPart(part, msgID))
		case part.Filename != "" || (part.Body != nil && part.Body.AttachmentId != ""):
			ref, problem := d.processAttachment(ctx, part, msgID, senderEmail, dl)
			if problem != nil {
				problems = append(problems, *problem)
			} else if ref != nil {
				refs = append(refs, *ref)
			}
		}
	}

	return html.String(), text.String(), refs, problems
}

// decodeSinglePart handles messages with no nested parts. The top-level
// part can itself be the attachment (a lone image or PDF), detected by the
// presence of a filename or attachment id rather than assumed text content.
func (d *Decoder) decodeSinglePart(ctx context.Context, payload *gmail.MessagePart, msgID, senderEmail string, dl Downloader) (string, string, []models.AttachmentRef, []AttachmentProblem) {
	switch payload.MimeType {
	case "text/html":
		return d.decodeTextPart(payload, msgID), "", nil, nil
	case "text/plain":
		return "", d.decodeTextPart(payload, msgID), nil, nil
	}

	if payload.Filename != "" || (payload.Body != nil && payload.Body.AttachmentId != "") {
		d.logger.Info("single-part attachment detected", "message_id", msgID, "filename", payload.Filename, "mime_type", payload.MimeType)
		var (
			refs     []models.AttachmentRef
			problems []AttachmentProblem
		)
		ref, problem := d.processAttachment(ctx, payload, msgID, senderEmail, dl)
		if problem != nil {
			problems = append(problems, *problem)
		} else if ref != nil {
			refs = append(refs, *ref)
		}
		body := "[Attachment]"
		if payload.Filename != "" {
			body = "[Attachment: " + payload.Filename + "]"
		}
		return "", body, refs, problems
	}

	d.logger.Warn("unknown single-part mime type", "message_id", msgID, "mime_type", payload.MimeType)
	return "", "[Content type: " + payload.MimeType + "]", nil, nil
}

func (d *Decoder) decodeTextPart(part *gmail.MessagePart, msgID string) string {
	if part.Body == nil || part.Body.Data == "" {
		return ""
	}
	data, err := gmailclient.DecodeBody(part.Body.Data)
	if err != nil {
		d.logger.Warn("failed to decode text part", "message_id", msgID, "error", err)
		return ""
	}
	return string(data)
}

// processAttachment downloads one binary part with bounded retry and saves
// it. Returns (nil, nil) for inline parts without an attachment id.
func (d *Decoder) processAttachment(ctx context.Context, part *gmail.MessagePart, msgID, senderEmail string, dl Downloader) (*models.AttachmentRef, *AttachmentProblem) {
	filename := part.Filename
	if filename == "" {
		filename = "unknown_attachment"
	}
	mimeType := part.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	if part.Body == nil || part.Body.AttachmentId == "" {
		// Inline content without a downloadable id.
		return nil, nil
	}
	attachmentID := part.Body.AttachmentId
	declaredSize := part.Body.Size

	// Cheap rejections before spending a download.
	if declaredSize > attachments.MaxAttachmentSize {
		return nil, &AttachmentProblem{
			Filename: filename,
			Stage:    "validation",
			Err:      fmt.Errorf("too large: %.1fMB (max 50MB)", float64(declaredSize)/1024/1024),
		}
	}
	if declaredSize <= 0 {
		return nil, &AttachmentProblem{
			Filename: filename,
			Stage:    "validation",
			Err:      fmt.Errorf("empty attachment"),
		}
	}

	var (
		data []byte
		err  error
	)
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		data, err = dl.DownloadAttachment(ctx, msgID, attachmentID)
		if err == nil {
			break
		}
		d.logger.Warn("attachment download failed", "filename", filename, "attempt", attempt, "error", err)
		if attempt < downloadAttempts {
			select {
			case <-ctx.Done():
				return nil, &AttachmentProblem{Filename: filename, Stage: "download", Err: ctx.Err()}
			case <-time.After(downloadBackoff):
			}
		}
	}
	if err != nil {
		return nil, &AttachmentProblem{Filename: filename, Stage: "download", Err: err}
	}

	if int64(len(data)) != declaredSize {
		d.logger.Warn("attachment size mismatch", "filename", filename, "declared", declaredSize, "actual", len(data))
		declaredSize = int64(len(data))
	}

	ref, err := d.store.Save(data, filename, senderEmail, msgID, attachmentID, mimeType, declaredSize)
	if err != nil {
		stage := "filesystem"
		if attachments.IsValidation(err) {
			stage = "validation"
		}
		return nil, &AttachmentProblem{Filename: filename, Stage: stage, Err: err}
	}
	return &ref, nil
}

// CleanBody normalizes whitespace, strips common client signatures and caps
// the length with an explicit truncation marker. Deterministic for the same
// input.
func (d *Decoder) CleanBody(body string) string {
	if body == "" {
		return ""
	}

	body = d.blankLineRuns.ReplaceAllString(body, "\n\n")
	body = d.spaceRuns.ReplaceAllString(body, " ")
	for _, sig := range d.signatures {
		body = sig.ReplaceAllString(body, "")
	}
	body = strings.TrimSpace(body)

	runes := []rune(body)
	if len(runes) > bodyMaxChars {
		body = string(runes[:bodyMaxChars]) + truncationMarker
	}
	return body
}

// parseDate applies standard mail-date parsing with a wall-clock fallback;
// a message is never dropped for an unparseable date.
func (d *Decoder) parseDate(value string) time.Time {
	if value != "" {
		if t, err := netmail.ParseDate(value); err == nil {
			return t
		}
	}
	return d.now()
}

func headerMap(headers []*gmail.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[strings.ToLower(h.Name)] = h.Value
	}
	return m
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

// splitAddress extracts display name and address from a header value like
// "John Doe <john@example.com>", falling back to a bare address scan.
func splitAddress(d *Decoder, value string) (string, string) {
	if value == "" {
		return "", ""
	}
	if addr, err := netmail.ParseAddress(value); err == nil {
		return strings.Trim(addr.Name, `"'`), addr.Address
	}
	return "", d.bareEmail.FindString(value)
}

func messageID(msg *gmail.Message) string {
	if msg == nil {
		return "<nil>"
	}
	return msg.Id
}
