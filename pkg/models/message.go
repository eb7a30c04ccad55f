package models

import (
	"encoding/json"
	"time"
)

// AttachmentRef describes one stored attachment belonging to a message.
// StoragePath is relative to the attachment store's base directory.
type AttachmentRef struct {
	Filename     string `json:"filename"`
	SafeFilename string `json:"safe_filename"`
	StoragePath  string `json:"storage_path"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachment_id"`
}

// Message represents one mail item as decoded from the provider.
// Immutable after creation; the classification row carries all mutable state.
type Message struct {
	ID             int64     `db:"id"`
	MessageID      string    `db:"message_id"` // provider-assigned, dedup key
	ThreadID       string    `db:"thread_id"`
	SenderName     string    `db:"sender_name"`
	SenderEmail    string    `db:"sender_email"`
	RecipientName  string    `db:"recipient_name"`
	RecipientEmail string    `db:"recipient_email"`
	ReceivedAt     time.Time `db:"received_at"`
	IsOutbound     bool      `db:"is_outbound"`
	Subject        string    `db:"subject"`
	BodyHTML       string    `db:"body_html"`
	BodyCleaned    string    `db:"body_cleaned"`
	Labels         string    `db:"labels"`      // JSON array of provider labels
	Attachments    string    `db:"attachments"` // JSON array of AttachmentRef
	CreatedAt      time.Time `db:"created_at"`
}

// AttachmentRefs decodes the denormalized attachment list.
func (m *Message) AttachmentRefs() []AttachmentRef {
	if m.Attachments == "" {
		return nil
	}
	var refs []AttachmentRef
	if err := json.Unmarshal([]byte(m.Attachments), &refs); err != nil {
		return nil
	}
	return refs
}

// SetAttachmentRefs encodes the attachment list for storage.
func (m *Message) SetAttachmentRefs(refs []AttachmentRef) error {
	if len(refs) == 0 {
		m.Attachments = ""
		return nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return err
	}
	m.Attachments = string(data)
	return nil
}

// LabelList decodes the provider label set.
func (m *Message) LabelList() []string {
	if m.Labels == "" {
		return nil
	}
	var labels []string
	if err := json.Unmarshal([]byte(m.Labels), &labels); err != nil {
		return nil
	}
	return labels
}

// SetLabelList encodes the provider label set for storage.
func (m *Message) SetLabelList(labels []string) error {
	if len(labels) == 0 {
		m.Labels = ""
		return nil
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return err
	}
	m.Labels = string(data)
	return nil
}
