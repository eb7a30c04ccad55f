package sender

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureTransport struct {
	raw []byte
	err error
}

func (c *captureTransport) Send(ctx context.Context, raw []byte) error {
	if c.err != nil {
		return c.err
	}
	c.raw = raw
	return nil
}

func newTestSender(transport Transport) *Sender {
	return New(transport, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSend_ComposesHeadersAndBody(t *testing.T) {
	transport := &captureTransport{}
	s := newTestSender(transport)

	err := s.Send(context.Background(), Draft{
		FromName:  "Pat Owner",
		FromEmail: "pat@props.com",
		To:        []string{"jane@example.com"},
		Cc:        []string{"assistant@props.com"},
		Subject:   "Inspection scheduled",
		Body:      "The annual inspection is on Friday at 10am.",
	})
	require.NoError(t, err)

	raw := string(transport.raw)
	assert.Contains(t, raw, "From:")
	assert.Contains(t, raw, "pat@props.com")
	assert.Contains(t, raw, "jane@example.com")
	assert.Contains(t, raw, "assistant@props.com")
	assert.Contains(t, raw, "Subject: Inspection scheduled")
	assert.Contains(t, raw, "The annual inspection is on Friday at 10am.")
}

func TestSend_WithAttachment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notice.txt")
	require.NoError(t, os.WriteFile(path, []byte("attached notice"), 0o644))

	transport := &captureTransport{}
	s := newTestSender(transport)

	err := s.Send(context.Background(), Draft{
		FromEmail:   "pat@props.com",
		To:          []string{"jane@example.com"},
		Subject:     "Notice attached",
		Body:        "See attachment.",
		Attachments: []string{path},
	})
	require.NoError(t, err)
	assert.Contains(t, string(transport.raw), "notice.txt")
}

func TestSend_NoRecipients(t *testing.T) {
	s := newTestSender(&captureTransport{})

	err := s.Send(context.Background(), Draft{FromEmail: "pat@props.com", Subject: "x"})
	require.Error(t, err)
}

func TestSend_MissingAttachmentFile(t *testing.T) {
	s := newTestSender(&captureTransport{})

	err := s.Send(context.Background(), Draft{
		FromEmail:   "pat@props.com",
		To:          []string{"jane@example.com"},
		Attachments: []string{filepath.Join(t.TempDir(), "absent.pdf")},
	})
	require.Error(t, err)
}

func TestReply_SubjectPrefix(t *testing.T) {
	transport := &captureTransport{}
	s := newTestSender(transport)

	draft := Draft{FromEmail: "pat@props.com", To: []string{"jane@example.com"}, Body: "ok"}

	require.NoError(t, s.Reply(context.Background(), draft, "Broken window"))
	assert.Contains(t, string(transport.raw), "Subject: Re: Broken window")

	// An existing prefix is not doubled.
	require.NoError(t, s.Reply(context.Background(), draft, "RE: Broken window"))
	assert.NotContains(t, string(transport.raw), "Re: RE:")
}
