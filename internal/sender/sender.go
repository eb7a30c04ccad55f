// Package sender composes and sends outbound email through the Gmail API.
package sender

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
)

// Transport submits a fully composed RFC 5322 message.
type Transport interface {
	Send(ctx context.Context, raw []byte) error
}

// Draft is one outbound message before MIME encoding.
type Draft struct {
	FromName    string
	FromEmail   string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	Attachments []string // local file paths
}

// Sender builds MIME messages and hands them to the transport.
type Sender struct {
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a sender.
func New(transport Transport, logger *slog.Logger) *Sender {
	return &Sender{
		transport: transport,
		logger:    logger.With("component", "sender"),
		now:       time.Now,
	}
}

// Send encodes the draft and submits it.
func (s *Sender) Send(ctx context.Context, draft Draft) error {
	raw, err := s.compose(draft)
	if err != nil {
		return fmt.Errorf("failed to compose message: %w", err)
	}
	if err := s.transport.Send(ctx, raw); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	s.logger.Info("message sent",
		"to", strings.Join(draft.To, ", "),
		"subject", draft.Subject,
		"attachments", len(draft.Attachments),
	)
	return nil
}

// Reply sends the draft with a reply subject. An existing reply prefix on
// the original subject is not doubled.
func (s *Sender) Reply(ctx context.Context, draft Draft, originalSubject string) error {
	subject := strings.TrimSpace(originalSubject)
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	draft.Subject = subject
	return s.Send(ctx, draft)
}

func (s *Sender) compose(draft Draft) ([]byte, error) {
	if len(draft.To) == 0 {
		return nil, fmt.Errorf("no recipients")
	}

	var h gomail.Header
	h.SetDate(s.now())
	h.SetSubject(draft.Subject)
	h.SetAddressList("From", []*gomail.Address{{Name: draft.FromName, Address: draft.FromEmail}})
	h.SetAddressList("To", toAddresses(draft.To))
	if len(draft.Cc) > 0 {
		h.SetAddressList("Cc", toAddresses(draft.Cc))
	}
	if len(draft.Bcc) > 0 {
		h.SetAddressList("Bcc", toAddresses(draft.Bcc))
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	var th gomail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	if _, err := tw.Write([]byte(draft.Body)); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close text part: %w", err)
	}

	for _, path := range draft.Attachments {
		if err := attachFile(mw, path); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message: %w", err)
	}
	return buf.Bytes(), nil
}

func attachFile(mw *gomail.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read attachment %s: %w", path, err)
	}

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var ah gomail.AttachmentHeader
	ah.SetFilename(name)
	ah.SetContentType(contentType, nil)
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("failed to create attachment part: %w", err)
	}
	if _, err := aw.Write(data); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", name, err)
	}
	return aw.Close()
}

func toAddresses(addrs []string) []*gomail.Address {
	out := make([]*gomail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &gomail.Address{Address: strings.TrimSpace(a)})
	}
	return out
}
