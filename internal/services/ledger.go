package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/docshare/drive/internal/models"
	"github.com/docshare/drive/pkg/logger"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QuotaState is a snapshot of a user's storage accounting.
type QuotaState struct {
	Quota     int64 `json:"quota"`
	Used      int64 `json:"used"`
	Available int64 `json:"available"`
}

type ReconcileResult struct {
	Before int64 `json:"before"`
	After  int64 `json:"after"`
}

// QuotaLedger is the only writer of users.used_storage.
type QuotaLedger struct {
	DB *gorm.DB
}

func NewQuotaLedger(db *gorm.DB) *QuotaLedger {
	return &QuotaLedger{DB: db}
}

// ApplyDelta adjusts the user's used storage by delta bytes in one statement
// and returns the new total. Growth is refused with QuotaExceeded when it
// would pass the quota; shrinkage clamps at zero. tx should be the
// transaction that carries the matching node change so both commit together;
// nil runs on the ledger's own connection.
func (l *QuotaLedger) ApplyDelta(ctx context.Context, tx *gorm.DB, userID uuid.UUID, delta int64) (int64, error) {
	if tx == nil {
		tx = l.DB
	}
	tx = tx.WithContext(ctx)

	var result *gorm.DB
	switch {
	case delta > 0:
		result = tx.Model(&models.User{}).
			Where("id = ? AND used_storage + ? <= storage_quota", userID, delta).
			UpdateColumn("used_storage", gorm.Expr("used_storage + ?", delta))
	case delta < 0:
		result = tx.Model(&models.User{}).
			Where("id = ?", userID).
			UpdateColumn("used_storage", gorm.Expr("CASE WHEN used_storage + ? < 0 THEN 0 ELSE used_storage + ? END", delta, delta))
	default:
		return l.usedStorage(tx, userID)
	}
	if result.Error != nil {
		return 0, fmt.Errorf("updating used storage: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		state, err := l.state(tx, userID)
		if err != nil {
			return 0, err
		}
		if delta < 0 {
			return state.Used, nil
		}
		return 0, quotaExceeded(delta, state)
	}

	return l.usedStorage(tx, userID)
}

func (l *QuotaLedger) QuotaState(ctx context.Context, userID uuid.UUID) (QuotaState, error) {
	return l.state(l.DB.WithContext(ctx), userID)
}

// CheckAvailable is an advisory check made before bytes are written. The
// binding check is the conditional update in ApplyDelta.
func (l *QuotaLedger) CheckAvailable(ctx context.Context, userID uuid.UUID, size int64) error {
	state, err := l.QuotaState(ctx, userID)
	if err != nil {
		return err
	}
	if size > state.Available {
		return quotaExceeded(size, state)
	}
	return nil
}

// SetQuota changes the ceiling only. Lowering it below current usage is
// allowed; further growth is refused until usage drops.
func (l *QuotaLedger) SetQuota(ctx context.Context, userID uuid.UUID, quota int64) (QuotaState, error) {
	if quota < 0 {
		return QuotaState{}, invalidArgument("quota must not be negative")
	}
	result := l.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("storage_quota", quota)
	if result.Error != nil {
		return QuotaState{}, fmt.Errorf("updating storage quota: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return QuotaState{}, notFound("user not found")
	}

	logger.InfoWithUser(userID.String(), "quota_updated", map[string]interface{}{
		"storage_quota": quota,
	})
	return l.QuotaState(ctx, userID)
}

// Reconcile recomputes used storage from the sizes of the user's files.
func (l *QuotaLedger) Reconcile(ctx context.Context, userID uuid.UUID) (ReconcileResult, error) {
	var result ReconcileResult
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := l.usedStorage(tx, userID)
		if err != nil {
			return err
		}

		var actual int64
		if err := tx.Model(&models.Node{}).
			Where("owner_id = ? AND kind <> ?", userID, models.NodeKindFolder).
			Select("COALESCE(SUM(size), 0)").
			Scan(&actual).Error; err != nil {
			return fmt.Errorf("summing file sizes: %w", err)
		}

		if err := tx.Model(&models.User{}).
			Where("id = ?", userID).
			UpdateColumn("used_storage", actual).Error; err != nil {
			return fmt.Errorf("updating used storage: %w", err)
		}

		result = ReconcileResult{Before: before, After: actual}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	if result.Before != result.After {
		logger.WarnWithUser(userID.String(), "quota_reconciled", map[string]interface{}{
			"before": result.Before,
			"after":  result.After,
			"drift":  result.After - result.Before,
		})
	}
	return result, nil
}

func (l *QuotaLedger) state(tx *gorm.DB, userID uuid.UUID) (QuotaState, error) {
	var user models.User
	if err := tx.Select("id", "storage_quota", "used_storage").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return QuotaState{}, notFound("user not found")
		}
		return QuotaState{}, fmt.Errorf("loading quota: %w", err)
	}

	available := user.StorageQuota - user.UsedStorage
	if available < 0 {
		available = 0
	}
	return QuotaState{Quota: user.StorageQuota, Used: user.UsedStorage, Available: available}, nil
}

func (l *QuotaLedger) usedStorage(tx *gorm.DB, userID uuid.UUID) (int64, error) {
	state, err := l.state(tx, userID)
	if err != nil {
		return 0, err
	}
	return state.Used, nil
}

func quotaExceeded(requested int64, state QuotaState) *Error {
	return newError(KindQuotaExceeded, fmt.Sprintf(
		"storage quota exceeded: %s requested, %s of %s available",
		humanize.IBytes(uint64(requested)),
		humanize.IBytes(uint64(state.Available)),
		humanize.IBytes(uint64(state.Quota)),
	), nil)
}
