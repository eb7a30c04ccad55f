package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maubry/mailtriage/pkg/models"
)

// MessageRepo persists messages and their classifications. Every mutation
// that changes a row's counted state goes through here so the paired counter
// delta is applied in the same transaction.
type MessageRepo struct {
	db       *DB
	counters *CounterService
}

// NewMessageRepo creates a message repository.
func NewMessageRepo(db *DB, counters *CounterService) *MessageRepo {
	return &MessageRepo{db: db, counters: counters}
}

// Exists reports whether a message with the given provider id is already
// stored. This is the sole dedup mechanism for safe re-runs.
func (r *MessageRepo) Exists(ctx context.Context, providerMessageID string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE message_id = ?`, providerMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return n > 0, nil
}

// SaveWithClassification persists a message and its classification as one
// transactional unit and applies the incremental counter update. Returns
// ErrAlreadyExists without side effects if the message id is already stored.
func (r *MessageRepo) SaveWithClassification(ctx context.Context, msg *models.Message, cls *models.Classification) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (message_id, thread_id, sender_name, sender_email, recipient_name, recipient_email, received_at, is_outbound, subject, body_html, body_cleaned, labels, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.MessageID,
		msg.ThreadID,
		msg.SenderName,
		msg.SenderEmail,
		msg.RecipientName,
		msg.RecipientEmail,
		msg.ReceivedAt,
		msg.IsOutbound,
		msg.Subject,
		msg.BodyHTML,
		msg.BodyCleaned,
		msg.Labels,
		msg.Attachments,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = now

	cls.MessageID = id
	clsResult, err := tx.ExecContext(ctx, `
		INSERT INTO classifications (message_id, category, sub_category, priority, confidence, summary, extracted_info, tags, contact_name, contact_phone, contact_email, property_address, is_read, is_archived, is_important, requires_action, action_due_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cls.MessageID,
		cls.Category,
		cls.SubCategory,
		cls.Priority,
		cls.Confidence,
		cls.Summary,
		cls.ExtractedInfo,
		cls.Tags,
		cls.ContactName,
		cls.ContactPhone,
		cls.ContactEmail,
		cls.PropertyAddress,
		cls.IsRead,
		cls.IsArchived,
		cls.IsImportant,
		cls.RequiresAction,
		cls.ActionDueAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert classification: %w", err)
	}
	clsID, err := clsResult.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get classification id: %w", err)
	}
	cls.ID = clsID
	cls.CreatedAt = now

	delta := deltaFor(cls.Priority, cls.IsRead, cls.IsArchived, cls.RequiresAction)
	if err := r.counters.Apply(ctx, tx, delta, "ingest"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

// GetByProviderID returns a message by its provider-assigned id.
func (r *MessageRepo) GetByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT * FROM messages WHERE message_id = ?`, providerMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// GetClassification returns the classification for a stored message.
func (r *MessageRepo) GetClassification(ctx context.Context, messageID int64) (*models.Classification, error) {
	var cls models.Classification
	err := r.db.GetContext(ctx, &cls, `SELECT * FROM classifications WHERE message_id = ?`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get classification: %w", err)
	}
	return &cls, nil
}

// MarkRead marks a classification as read and decrements the affected
// counters atomically. A no-op if the row is already read.
func (r *MessageRepo) MarkRead(ctx context.Context, classificationID int64) error {
	return r.updateFlags(ctx, classificationID, "mark_read", func(cls *models.Classification) (string, []any, bool) {
		if cls.IsRead {
			return "", nil, false
		}
		return `UPDATE classifications SET is_read = true WHERE id = ?`, []any{classificationID}, true
	})
}

// Archive archives a classification, removing it from the counted
// population if it was still unread.
func (r *MessageRepo) Archive(ctx context.Context, classificationID int64) error {
	return r.updateFlags(ctx, classificationID, "archive", func(cls *models.Classification) (string, []any, bool) {
		if cls.IsArchived {
			return "", nil, false
		}
		return `UPDATE classifications SET is_archived = true WHERE id = ?`, []any{classificationID}, true
	})
}

// SetImportant toggles the important flag. Importance does not participate
// in the counters.
func (r *MessageRepo) SetImportant(ctx context.Context, classificationID int64, important bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE classifications SET is_important = ? WHERE id = ?`, important, classificationID)
	if err != nil {
		return fmt.Errorf("failed to set important: %w", err)
	}
	return nil
}

// SetRequiresAction updates the requires-action flag and optional due date,
// adjusting the requires_action counter when the counted state changes.
func (r *MessageRepo) SetRequiresAction(ctx context.Context, classificationID int64, requires bool, dueAt *time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cls models.Classification
	err = tx.GetContext(ctx, &cls, `SELECT * FROM classifications WHERE id = ?`, classificationID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load classification: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE classifications SET requires_action = ?, action_due_at = ? WHERE id = ?`,
		requires, dueAt, classificationID)
	if err != nil {
		return fmt.Errorf("failed to set requires_action: %w", err)
	}

	if cls.RequiresAction != requires && !cls.IsRead && !cls.IsArchived {
		delta := CounterDelta{RequiresAction: 1}
		if !requires {
			delta = delta.Negate()
		}
		if err := r.counters.Apply(ctx, tx, delta, "set_requires_action"); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// updateFlags runs a read-modify-write on a classification row with the
// counter decrement for rows leaving the counted population.
func (r *MessageRepo) updateFlags(ctx context.Context, classificationID int64, updatedBy string, mutate func(*models.Classification) (string, []any, bool)) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cls models.Classification
	err = tx.GetContext(ctx, &cls, `SELECT * FROM classifications WHERE id = ?`, classificationID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load classification: %w", err)
	}

	query, args, changed := mutate(&cls)
	if !changed {
		return nil
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update classification: %w", err)
	}

	// The row was counted before this transition and is not counted after.
	delta := deltaFor(cls.Priority, cls.IsRead, cls.IsArchived, cls.RequiresAction).Negate()
	if err := r.counters.Apply(ctx, tx, delta, updatedBy); err != nil {
		return err
	}

	return tx.Commit()
}
