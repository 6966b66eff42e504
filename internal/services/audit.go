package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docshare/drive/internal/models"
	"github.com/docshare/drive/internal/storage"
	"github.com/docshare/drive/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AuditFolderCreate  = "folder.create"
	AuditFileUpload    = "file.upload"
	AuditNodeDelete    = "node.delete"
	AuditNodeRename    = "node.rename"
	AuditNodeMove      = "node.move"
	AuditFileDuplicate = "file.duplicate"
	AuditNodeFavorite  = "node.favorite"
	AuditNodePrivate   = "node.private"

	defaultAuditListLimit = 100
	maxAuditListLimit     = 10000
	auditExportBatch      = 10000
)

type AuditEntry struct {
	UserID       *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Details      map[string]interface{}
	IPAddress    string
	RequestID    string
}

// AuditService writes audit rows from a buffered queue on a single worker
// so request handlers never wait on them.
type AuditService struct {
	DB    *gorm.DB
	Blobs storage.BlobStore

	// rows per exported object
	exportBatch int

	mu     sync.RWMutex
	closed bool
	queue  chan models.AuditLog
	done   chan struct{}
	stop   chan struct{}
}

func NewAuditService(db *gorm.DB, blobs storage.BlobStore, queueSize int) *AuditService {
	if queueSize <= 0 {
		queueSize = 1000
	}
	s := &AuditService{
		DB:          db,
		Blobs:       blobs,
		exportBatch: auditExportBatch,
		queue:       make(chan models.AuditLog, queueSize),
		done:        make(chan struct{}),
		stop:        make(chan struct{}),
	}
	go s.processQueue()
	return s
}

func (s *AuditService) LogAsync(entry AuditEntry) {
	row := models.AuditLog{
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      entry.Details,
		IPAddress:    entry.IPAddress,
		RequestID:    entry.RequestID,
		CreatedAt:    time.Now().UTC(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		logger.Warn("audit_log_after_close", map[string]interface{}{
			"action":  entry.Action,
			"dropped": true,
		})
		return
	}

	select {
	case s.queue <- row:
	default:
		logger.Warn("audit_queue_full", map[string]interface{}{
			"action":  entry.Action,
			"dropped": true,
		})
	}
}

func (s *AuditService) processQueue() {
	defer close(s.done)
	for row := range s.queue {
		if err := s.DB.Create(&row).Error; err != nil {
			logger.Error("audit_log_insert_failed", err, map[string]interface{}{
				"action": row.Action,
			})
		}
	}
}

// Close stops accepting entries and waits until queued rows are written.
func (s *AuditService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	close(s.stop)
	s.mu.Unlock()

	<-s.done
}

// List returns a user's audit rows, newest first.
func (s *AuditService) List(ctx context.Context, userID uuid.UUID, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = defaultAuditListLimit
	}
	if limit > maxAuditListLimit {
		limit = maxAuditListLimit
	}

	logs := []models.AuditLog{}
	if err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("loading audit logs: %w", err)
	}
	return logs, nil
}

// StartExporter periodically copies new audit rows to the blob store as
// NDJSON objects under audit-logs/. It stops when the service is closed.
func (s *AuditService) StartExporter(interval time.Duration) {
	if s.Blobs == nil || interval <= 0 {
		logger.Info("audit_exporter_disabled", map[string]interface{}{
			"reason": "no blob store or interval configured",
		})
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if _, err := s.Export(context.Background()); err != nil {
					logger.Error("audit_export_failed", err, nil)
				}
			}
		}
	}()

	logger.Info("audit_exporter_started", map[string]interface{}{
		"interval": interval.String(),
	})
}

// Export writes the rows after the cursor to one object and advances the
// cursor. Rows are ordered by (created_at, id) so rows sharing a timestamp
// are never skipped at a batch boundary. It returns the number of rows
// exported.
func (s *AuditService) Export(ctx context.Context) (int, error) {
	db := s.DB.WithContext(ctx)

	var cursor models.AuditExportCursor
	if err := db.First(&cursor).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("loading export cursor: %w", err)
		}
		cursor = models.AuditExportCursor{
			LastExportAt: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := db.Create(&cursor).Error; err != nil {
			return 0, fmt.Errorf("creating export cursor: %w", err)
		}
	}

	var logs []models.AuditLog
	if err := db.Where("created_at > ? OR (created_at = ? AND id > ?)",
		cursor.LastExportAt, cursor.LastExportAt, cursor.LastExportID).
		Order("created_at ASC, id ASC").
		Limit(s.exportBatch).
		Find(&logs).Error; err != nil {
		return 0, fmt.Errorf("querying audit logs: %w", err)
	}
	if len(logs) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, log := range logs {
		if err := enc.Encode(log); err != nil {
			return 0, fmt.Errorf("encoding audit log %s: %w", log.ID, err)
		}
	}

	now := time.Now().UTC()
	objectName := fmt.Sprintf("audit-logs/%s/%s-%s.ndjson",
		now.Format("2006/01/02"),
		now.Format("15-04-05"),
		uuid.NewString()[:8],
	)
	if err := s.Blobs.Put(ctx, objectName, &buf, int64(buf.Len()), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("uploading %s: %w", objectName, err)
	}

	last := logs[len(logs)-1]
	if err := db.Model(&cursor).Updates(map[string]interface{}{
		"last_export_at": last.CreatedAt,
		"last_export_id": last.ID,
		"exported_count": gorm.Expr("exported_count + ?", len(logs)),
	}).Error; err != nil {
		return 0, fmt.Errorf("advancing export cursor: %w", err)
	}

	logger.Info("audit_export_success", map[string]interface{}{
		"object_name": objectName,
		"count":       len(logs),
	})
	return len(logs), nil
}
