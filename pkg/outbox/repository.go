package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/eventcore/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) InsertTx(tx *gorm.DB, entries []models.OutboxEntry) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if len(entries) == 0 {
		return nil
	}
	return tx.Create(&entries).Error
}

// FetchPendingTx selects up to limit unprocessed entries that still have
// retries left and are due at now, oldest first. On Postgres the rows are
// locked with SKIP LOCKED so concurrent relays never pick the same entry.
func (r *Repository) FetchPendingTx(tx *gorm.DB, limit, maxRetries int, now time.Time) ([]models.OutboxEntry, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	q := tx.Where("is_processed = ?", false).
		Where("processing_attempts < ?", maxRetries).
		Where("(next_retry_at IS NULL OR next_retry_at <= ?)", now.UTC()).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEntry
	err := q.Find(&rows).Error
	return rows, err
}

// MarkProcessedTx marks every id delivered in a single statement.
func (r *Repository) MarkProcessedTx(tx *gorm.DB, ids []int64, at time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&models.OutboxEntry{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"is_processed":        true,
			"processed_at":        at.UTC(),
			"processing_attempts": gorm.Expr("processing_attempts + 1"),
			"next_retry_at":       nil,
		}).Error
}

// MarkFailedTx records a failed attempt and schedules the next one.
func (r *Repository) MarkFailedTx(tx *gorm.DB, entry models.OutboxEntry, cause error, at time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	attempts := entry.ProcessingAttempts + 1
	return tx.Model(&models.OutboxEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"processing_attempts": attempts,
			"last_error":          errorText(cause),
			"next_retry_at":       at.UTC().Add(Backoff(attempts)),
		}).Error
}

// MarkTerminalTx stops retries for an entry. It stays unprocessed so it is
// reported as exhausted.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, entry models.OutboxEntry, cause error, maxRetries int) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	attempts := entry.ProcessingAttempts + 1
	if attempts < maxRetries {
		attempts = maxRetries
	}
	return tx.Model(&models.OutboxEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"processing_attempts": attempts,
			"last_error":          errorText(cause),
			"next_retry_at":       nil,
		}).Error
}

// ListExhausted returns unprocessed entries that used every retry.
func (r *Repository) ListExhausted(ctx context.Context, maxRetries, limit int) ([]models.OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.OutboxEntry
	err := r.db.WithContext(ctx).
		Where("is_processed = ? AND processing_attempts >= ?", false, maxRetries).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) CountExhausted(ctx context.Context, maxRetries int) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Where("is_processed = ? AND processing_attempts >= ?", false, maxRetries).
		Count(&count).Error
	return count, err
}

// DeleteProcessedBefore removes delivered entries processed before cutoff.
func (r *Repository) DeleteProcessedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(ctx).
		Where("is_processed = ? AND processed_at < ?", true, cutoff.UTC()).
		Delete(&models.OutboxEntry{})
	return res.RowsAffected, res.Error
}

func (r *Repository) Get(ctx context.Context, id int64) (*models.OutboxEntry, error) {
	var row models.OutboxEntry
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	msg := truncateText(err.Error(), maxErrorTextLen)
	return &msg
}
