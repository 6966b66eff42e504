package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docshare/drive/internal/config"
	"github.com/docshare/drive/internal/models"
	"github.com/docshare/drive/internal/storage"
	"github.com/docshare/drive/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	// blob deletions issued in parallel after a folder delete
	blobDeleteConcurrency = 8
	// MaxBatchFiles caps the uploads accepted by IngestFiles.
	MaxBatchFiles = 10
)

// IngestInput describes an upload. Kind may be left empty to derive it from
// MimeType.
type IngestInput struct {
	Owner    uuid.UUID
	ParentID *uuid.UUID
	Name     string
	Kind     models.NodeKind
	MimeType string
	Size     int64
	Content  io.Reader
}

// DeleteResult summarises a delete: every node removed, how many of them
// were files, and the bytes returned to the owner's quota.
type DeleteResult struct {
	Nodes      int   `json:"nodes"`
	Files      int   `json:"files"`
	FreedBytes int64 `json:"freedBytes"`
}

// FilesystemService owns each user's tree of folders and files.
//
// Mutations for one owner are serialised around their metadata commit with
// an in-process lock. Uploads and copies write their blobs outside it; blob
// renames run inside it because they change what an existing node points at. The quota ledger is
// updated in the same transaction as the node rows it accounts for.
type FilesystemService struct {
	DB       *gorm.DB
	Blobs    storage.BlobStore
	Ledger   *QuotaLedger
	locks    *ownerLocks
	maxDepth int
}

func NewFilesystemService(db *gorm.DB, blobs storage.BlobStore, ledger *QuotaLedger, cfg config.StorageConfig) *FilesystemService {
	maxDepth := cfg.MaxTreeDepth
	if maxDepth <= 0 {
		maxDepth = 1024
	}
	return &FilesystemService{
		DB:       db,
		Blobs:    blobs,
		Ledger:   ledger,
		locks:    newOwnerLocks(),
		maxDepth: maxDepth,
	}
}

func (s *FilesystemService) CreateFolder(ctx context.Context, owner uuid.UUID, name string, parentID *uuid.UUID) (*models.Node, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	folder := models.Node{
		OwnerID:  owner,
		ParentID: parentID,
		Name:     name,
		Kind:     models.NodeKindFolder,
		MimeType: models.FolderMimeType,
	}

	unlock := s.locks.Lock(owner)
	defer unlock()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireParentFolder(tx, owner, parentID); err != nil {
			return err
		}
		if err := ensureNameFree(tx, owner, parentID, name, nil); err != nil {
			return err
		}
		return translateWriteError(tx.Create(&folder).Error, "creating folder")
	})
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(owner.String(), "folder_created", map[string]interface{}{
		"node_id":   folder.ID.String(),
		"name":      folder.Name,
		"parent_id": parentID,
	})
	return &folder, nil
}

// IngestFile stores content as a new file node and charges its size to the
// owner's quota. Bytes are written before the metadata commit; if the commit
// fails the blob is removed again, so no outcome leaves quota, blob and node
// out of step.
func (s *FilesystemService) IngestFile(ctx context.Context, input IngestInput) (*models.Node, error) {
	node, err := prepareFileNode(input)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.Ledger.CheckAvailable(ctx, input.Owner, node.Size); err != nil {
		return nil, err
	}
	if _, err := requireParentFolder(s.DB.WithContext(ctx), input.Owner, input.ParentID); err != nil {
		return nil, err
	}

	ref := storage.ObjectName(input.Owner, uuid.New(), node.Name)
	if err := s.Blobs.Put(ctx, ref, input.Content, node.Size, node.MimeType); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.discardBlob(ctx, input.Owner, ref, ctxErr)
			return nil, ctxErr
		}
		return nil, storageBackendError("failed storing file content", err)
	}

	node.BlobRef = ref
	if err := s.commitNewFile(ctx, node, false); err != nil {
		return nil, s.discardBlob(ctx, input.Owner, ref, err)
	}

	logger.InfoWithUser(input.Owner.String(), "file_ingested", map[string]interface{}{
		"node_id":   node.ID.String(),
		"name":      node.Name,
		"kind":      node.Kind,
		"size":      node.Size,
		"mime_type": node.MimeType,
		"parent_id": node.ParentID,
	})
	return node, nil
}

// IngestFiles stores up to MaxBatchFiles uploads into one folder as a unit.
// The quota is checked and charged against their combined size in a single
// transaction; if anything fails every blob written for the batch is removed
// and no node is created.
func (s *FilesystemService) IngestFiles(ctx context.Context, owner uuid.UUID, parentID *uuid.UUID, inputs []IngestInput) ([]models.Node, error) {
	switch {
	case len(inputs) == 0:
		return nil, invalidArgument("at least one file is required")
	case len(inputs) > MaxBatchFiles:
		return nil, invalidArgument(fmt.Sprintf("at most %d files can be uploaded at once", MaxBatchFiles))
	}

	nodes := make([]models.Node, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	var total int64
	for i, input := range inputs {
		input.Owner = owner
		input.ParentID = parentID
		node, err := prepareFileNode(input)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[node.Name]; dup {
			return nil, conflict(fmt.Sprintf("%q appears more than once in this upload", node.Name))
		}
		seen[node.Name] = struct{}{}
		nodes[i] = *node
		total += node.Size
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.Ledger.CheckAvailable(ctx, owner, total); err != nil {
		return nil, err
	}
	if _, err := requireParentFolder(s.DB.WithContext(ctx), owner, parentID); err != nil {
		return nil, err
	}

	var written []string
	for i := range nodes {
		ref := storage.ObjectName(owner, uuid.New(), nodes[i].Name)
		if err := s.Blobs.Put(ctx, ref, inputs[i].Content, nodes[i].Size, nodes[i].MimeType); err != nil {
			cause := ctx.Err()
			if cause == nil {
				cause = storageBackendError("failed storing file content", err)
			}
			return nil, s.discardBlobs(ctx, owner, append(written, ref), cause)
		}
		nodes[i].BlobRef = ref
		written = append(written, ref)
	}

	unlock := s.locks.Lock(owner)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireParentFolder(tx, owner, parentID); err != nil {
			return err
		}
		for i := range nodes {
			if err := ensureNameFree(tx, owner, parentID, nodes[i].Name, nil); err != nil {
				return err
			}
			if err := translateWriteError(tx.Create(&nodes[i]).Error, "creating file"); err != nil {
				return err
			}
		}
		_, err := s.Ledger.ApplyDelta(ctx, tx, owner, total)
		return err
	})
	unlock()
	if err != nil {
		return nil, s.discardBlobs(ctx, owner, written, err)
	}

	logger.InfoWithUser(owner.String(), "files_ingested", map[string]interface{}{
		"count":     len(nodes),
		"size":      total,
		"parent_id": parentID,
	})
	return nodes, nil
}

// prepareFileNode validates an upload and builds its node without a blob.
func prepareFileNode(input IngestInput) (*models.Node, error) {
	name, err := validateName(input.Name)
	if err != nil {
		return nil, err
	}
	if input.Size < 0 {
		return nil, invalidArgument("size must not be negative")
	}
	if input.Content == nil {
		return nil, invalidArgument("content is required")
	}

	mimeType := strings.TrimSpace(input.MimeType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	kind := input.Kind
	if kind == "" {
		kind = kindFromMimeType(mimeType)
	}
	if kind == models.NodeKindFolder || !kind.Valid() {
		return nil, invalidArgument(fmt.Sprintf("invalid file kind %q", kind))
	}

	return &models.Node{
		OwnerID:  input.Owner,
		ParentID: input.ParentID,
		Name:     name,
		Kind:     kind,
		MimeType: mimeType,
		Size:     input.Size,
	}, nil
}

// commitNewFile inserts a file node whose blob is already written and charges
// its size. With pickCopyName the node's name is treated as the source name
// and replaced by the first free "Copy of" variant.
func (s *FilesystemService) commitNewFile(ctx context.Context, node *models.Node, pickCopyName bool) error {
	unlock := s.locks.Lock(node.OwnerID)
	defer unlock()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireParentFolder(tx, node.OwnerID, node.ParentID); err != nil {
			return err
		}
		if pickCopyName {
			name, err := nextCopyName(tx, node.OwnerID, node.ParentID, node.Name)
			if err != nil {
				return err
			}
			node.Name = name
		} else if err := ensureNameFree(tx, node.OwnerID, node.ParentID, node.Name, nil); err != nil {
			return err
		}
		if err := translateWriteError(tx.Create(node).Error, "creating file"); err != nil {
			return err
		}
		_, err := s.Ledger.ApplyDelta(ctx, tx, node.OwnerID, node.Size)
		return err
	})
}

// discardBlobs removes every blob of a failed batch. Any removal failure
// turns the reported error into an invariant violation.
func (s *FilesystemService) discardBlobs(ctx context.Context, owner uuid.UUID, refs []string, cause error) error {
	var failed []error
	for _, ref := range refs {
		if err := s.Blobs.Delete(context.WithoutCancel(ctx), ref); err != nil {
			logger.ErrorWithUser(owner.String(), "blob_orphaned", err, map[string]interface{}{
				"blob_ref": ref,
				"cause":    cause.Error(),
			})
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return invariantViolation("failed cleaning up stored content", errors.Join(append([]error{cause}, failed...)...))
	}
	logger.WarnWithUser(owner.String(), "blobs_compensated", map[string]interface{}{
		"count": len(refs),
		"cause": cause.Error(),
	})
	return cause
}

// discardBlob removes a blob whose node was never committed and returns the
// error to report. A failed removal leaves an orphan, which is escalated.
func (s *FilesystemService) discardBlob(ctx context.Context, owner uuid.UUID, ref string, cause error) error {
	if err := s.Blobs.Delete(context.WithoutCancel(ctx), ref); err != nil {
		logger.ErrorWithUser(owner.String(), "blob_orphaned", err, map[string]interface{}{
			"blob_ref": ref,
			"cause":    cause.Error(),
		})
		return invariantViolation("failed cleaning up stored content", errors.Join(cause, err))
	}
	logger.WarnWithUser(owner.String(), "blob_compensated", map[string]interface{}{
		"blob_ref": ref,
		"cause":    cause.Error(),
	})
	return cause
}

// DeleteNode removes a file, or a folder with everything below it, and
// returns the freed bytes to the quota in the same transaction. Blobs are
// removed after the commit; failures there only leave unreferenced blobs,
// which are logged.
func (s *FilesystemService) DeleteNode(ctx context.Context, owner, nodeID uuid.UUID) (*DeleteResult, error) {
	var (
		removed []models.Node
		result  DeleteResult
	)

	unlock := s.locks.Lock(owner)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		node, err := loadOwnedNode(tx, owner, nodeID)
		if err != nil {
			return err
		}
		removed, err = collectSubtree(tx, owner, node, s.maxDepth)
		if err != nil {
			return err
		}

		ids := nodeIDs(removed)
		var deleted int64
		for start := 0; start < len(ids); start += subtreeBatchSize {
			end := min(start+subtreeBatchSize, len(ids))
			res := tx.Where("owner_id = ? AND id IN ?", owner, ids[start:end]).Delete(&models.Node{})
			if res.Error != nil {
				return fmt.Errorf("deleting nodes: %w", res.Error)
			}
			deleted += res.RowsAffected
		}
		if deleted != int64(len(ids)) {
			return invariantViolation("folder contents changed during delete", fmt.Errorf("expected %d rows, deleted %d", len(ids), deleted))
		}

		result = DeleteResult{Nodes: len(removed)}
		for i := range removed {
			if !removed[i].IsFolder() {
				result.Files++
				result.FreedBytes += removed[i].Size
			}
		}
		if result.FreedBytes > 0 {
			if _, err := s.Ledger.ApplyDelta(ctx, tx, owner, -result.FreedBytes); err != nil {
				return err
			}
		}
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	s.deleteBlobs(ctx, owner, removed)

	logger.InfoWithUser(owner.String(), "node_deleted", map[string]interface{}{
		"node_id":     nodeID.String(),
		"nodes":       result.Nodes,
		"files":       result.Files,
		"freed_bytes": result.FreedBytes,
	})
	return &result, nil
}

func (s *FilesystemService) deleteBlobs(ctx context.Context, owner uuid.UUID, nodes []models.Node) {
	ctx = context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(blobDeleteConcurrency)
	for i := range nodes {
		node := nodes[i]
		if node.IsFolder() || node.BlobRef == "" {
			continue
		}
		g.Go(func() error {
			if err := s.Blobs.Delete(ctx, node.BlobRef); err != nil {
				logger.ErrorWithUser(owner.String(), "blob_delete_failed", err, map[string]interface{}{
					"node_id":  node.ID.String(),
					"blob_ref": node.BlobRef,
				})
			}
			return nil
		})
	}
	_ = g.Wait()
}

// RenameNode changes a node's name. For files the blob reference embeds the
// name, so the blob is renamed first and renamed back if the metadata update
// does not commit. The owner lock is held across both steps.
func (s *FilesystemService) RenameNode(ctx context.Context, owner, nodeID uuid.UUID, newName string) (*models.Node, error) {
	return s.relocate(ctx, owner, nodeID, newName, false, nil)
}

// MoveAndRenameNode reparents and renames a node in one commit, so a name
// clash at the destination leaves the node where it was.
func (s *FilesystemService) MoveAndRenameNode(ctx context.Context, owner, nodeID uuid.UUID, newParentID *uuid.UUID, newName string) (*models.Node, error) {
	return s.relocate(ctx, owner, nodeID, newName, true, newParentID)
}

func (s *FilesystemService) relocate(ctx context.Context, owner, nodeID uuid.UUID, newName string, move bool, newParentID *uuid.UUID) (*models.Node, error) {
	name, err := validateName(newName)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(owner)
	defer unlock()

	db := s.DB.WithContext(ctx)
	node, err := loadOwnedNode(db, owner, nodeID)
	if err != nil {
		return nil, err
	}
	parentID := node.ParentID
	if move {
		parentID = newParentID
	}
	moved := models.ParentKey(parentID) != models.ParentKey(node.ParentID)
	if node.Name == name && !moved {
		return node, nil
	}
	if moved {
		if err := s.checkMoveTarget(db, owner, node, parentID); err != nil {
			return nil, err
		}
	}
	if err := ensureNameFree(db, owner, parentID, name, &node.ID); err != nil {
		return nil, err
	}

	oldRef := node.BlobRef
	newRef := oldRef
	if !node.IsFolder() && oldRef != "" && node.Name != name {
		newRef = storage.RenamedObjectName(oldRef, name)
	}
	blobRenamed := newRef != oldRef
	if blobRenamed {
		if err := s.Blobs.Rename(ctx, oldRef, newRef); err != nil {
			switch {
			case errors.Is(err, storage.ErrBlobExists):
				return nil, conflict(fmt.Sprintf("an item named %q already exists in this folder", name))
			case errors.Is(err, storage.ErrBlobNotFound):
				return nil, s.missingBlob(owner, node, err)
			}
			return nil, storageBackendError("failed renaming file content", err)
		}
	}

	updates := map[string]interface{}{
		"name":     name,
		"blob_ref": newRef,
	}
	if moved {
		for column, value := range parentColumns(parentID) {
			updates[column] = value
		}
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		current, err := loadOwnedNode(tx, owner, nodeID)
		if err != nil {
			return err
		}
		if current.BlobRef != oldRef {
			return conflict("the item was changed concurrently")
		}
		if err := ensureNameFree(tx, owner, parentID, name, &current.ID); err != nil {
			return err
		}
		if err := translateWriteError(tx.Model(current).Updates(updates).Error, "renaming node"); err != nil {
			return err
		}
		node = current
		return nil
	})
	if err != nil {
		if blobRenamed {
			if rbErr := s.Blobs.Rename(context.WithoutCancel(ctx), newRef, oldRef); rbErr != nil {
				logger.ErrorWithUser(owner.String(), "blob_rename_rollback_failed", rbErr, map[string]interface{}{
					"node_id":  nodeID.String(),
					"blob_ref": newRef,
					"expected": oldRef,
				})
				return nil, invariantViolation("failed restoring file content after rename", errors.Join(err, rbErr))
			}
		}
		return nil, err
	}

	node.Name = name
	node.BlobRef = newRef
	node.ParentID = parentID
	node.ParentKey = models.ParentKey(parentID)
	fields := map[string]interface{}{
		"node_id": node.ID.String(),
		"name":    name,
	}
	if moved {
		fields["parent_id"] = parentID
	}
	logger.InfoWithUser(owner.String(), "node_renamed", fields)
	return node, nil
}

// MoveNode reparents a node; a nil parent moves it to the root level.
func (s *FilesystemService) MoveNode(ctx context.Context, owner, nodeID uuid.UUID, newParentID *uuid.UUID) (*models.Node, error) {
	var node *models.Node

	unlock := s.locks.Lock(owner)
	defer unlock()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		node, err = loadOwnedNode(tx, owner, nodeID)
		if err != nil {
			return err
		}
		if models.ParentKey(node.ParentID) == models.ParentKey(newParentID) {
			return nil
		}
		if err := s.checkMoveTarget(tx, owner, node, newParentID); err != nil {
			return err
		}
		if err := ensureNameFree(tx, owner, newParentID, node.Name, &node.ID); err != nil {
			return err
		}
		if err := translateWriteError(tx.Model(node).Updates(parentColumns(newParentID)).Error, "moving node"); err != nil {
			return err
		}
		node.ParentID = newParentID
		node.ParentKey = models.ParentKey(newParentID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(owner.String(), "node_moved", map[string]interface{}{
		"node_id":   node.ID.String(),
		"parent_id": newParentID,
	})
	return node, nil
}

// checkMoveTarget rejects a destination that is missing, not a folder, or
// inside the node being moved. A nil parent is the root level.
func (s *FilesystemService) checkMoveTarget(tx *gorm.DB, owner uuid.UUID, node *models.Node, newParentID *uuid.UUID) error {
	if newParentID == nil {
		return nil
	}
	if *newParentID == node.ID {
		return invalidOperation("cannot move a folder into itself")
	}
	target, err := requireParentFolder(tx, owner, newParentID)
	if err != nil {
		return err
	}
	if !node.IsFolder() {
		return nil
	}
	chain, err := ancestors(tx, owner, target, s.maxDepth)
	if err != nil {
		return err
	}
	for i := range chain {
		if chain[i].ID == node.ID {
			return invalidOperation("cannot move a folder into its own subfolder")
		}
	}
	return nil
}

func parentColumns(parentID *uuid.UUID) map[string]interface{} {
	var parentValue interface{}
	if parentID != nil {
		parentValue = *parentID
	}
	return map[string]interface{}{
		"parent_id":  parentValue,
		"parent_key": models.ParentKey(parentID),
	}
}

// missingBlob reports a file node whose content is gone from the blob store.
func (s *FilesystemService) missingBlob(owner uuid.UUID, node *models.Node, err error) error {
	logger.ErrorWithUser(owner.String(), "blob_missing", err, map[string]interface{}{
		"node_id":  node.ID.String(),
		"blob_ref": node.BlobRef,
	})
	return invariantViolation("file content is missing", err)
}

// blobGone classifies a blob read that found nothing at node.BlobRef. A node
// deleted or renamed since it was loaded is not a storage fault.
func (s *FilesystemService) blobGone(ctx context.Context, owner uuid.UUID, node *models.Node, err error) error {
	current, loadErr := loadOwnedNode(s.DB.WithContext(context.WithoutCancel(ctx)), owner, node.ID)
	if loadErr != nil {
		return loadErr
	}
	if current.BlobRef != node.BlobRef {
		return conflict("the item was changed concurrently")
	}
	return s.missingBlob(owner, node, err)
}

// DuplicateNode copies a file next to itself as "Copy of <name>". The copy
// is charged to the quota like an upload.
func (s *FilesystemService) DuplicateNode(ctx context.Context, owner, nodeID uuid.UUID) (*models.Node, error) {
	source, err := loadOwnedNode(s.DB.WithContext(ctx), owner, nodeID)
	if err != nil {
		return nil, err
	}
	if source.IsFolder() {
		return nil, invalidOperation("folders cannot be duplicated")
	}
	if err := s.Ledger.CheckAvailable(ctx, owner, source.Size); err != nil {
		return nil, err
	}

	ref := storage.ObjectName(owner, uuid.New(), copyName(source.Name, 1))
	if err := s.Blobs.Copy(ctx, source.BlobRef, ref); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.discardBlob(ctx, owner, ref, ctxErr)
			return nil, ctxErr
		}
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, s.blobGone(ctx, owner, source, err)
		}
		return nil, storageBackendError("failed copying file content", err)
	}

	dup := models.Node{
		OwnerID:   owner,
		ParentID:  source.ParentID,
		Name:      source.Name,
		Kind:      source.Kind,
		MimeType:  source.MimeType,
		Size:      source.Size,
		BlobRef:   ref,
		IsPrivate: source.IsPrivate,
	}
	if err := s.commitNewFile(ctx, &dup, true); err != nil {
		return nil, s.discardBlob(ctx, owner, ref, err)
	}

	logger.InfoWithUser(owner.String(), "file_duplicated", map[string]interface{}{
		"node_id":   dup.ID.String(),
		"source_id": source.ID.String(),
		"name":      dup.Name,
		"size":      dup.Size,
	})
	return &dup, nil
}

func (s *FilesystemService) ToggleFavorite(ctx context.Context, owner, nodeID uuid.UUID) (*models.Node, error) {
	return s.toggle(ctx, owner, nodeID, "is_favorite")
}

func (s *FilesystemService) TogglePrivate(ctx context.Context, owner, nodeID uuid.UUID) (*models.Node, error) {
	return s.toggle(ctx, owner, nodeID, "is_private")
}

func (s *FilesystemService) toggle(ctx context.Context, owner, nodeID uuid.UUID, column string) (*models.Node, error) {
	db := s.DB.WithContext(ctx)
	result := db.Model(&models.Node{}).
		Where("id = ? AND owner_id = ?", nodeID, owner).
		UpdateColumn(column, gorm.Expr("NOT "+column))
	if result.Error != nil {
		return nil, fmt.Errorf("toggling %s: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, notFound("file or folder not found")
	}
	return loadOwnedNode(db, owner, nodeID)
}

func (s *FilesystemService) GetNode(ctx context.Context, owner, nodeID uuid.UUID) (*models.Node, error) {
	return loadOwnedNode(s.DB.WithContext(ctx), owner, nodeID)
}

// Path returns the chain of nodes from the root level down to nodeID.
func (s *FilesystemService) Path(ctx context.Context, owner, nodeID uuid.UUID) ([]models.Node, error) {
	db := s.DB.WithContext(ctx)
	node, err := loadOwnedNode(db, owner, nodeID)
	if err != nil {
		return nil, err
	}
	chain, err := ancestors(db, owner, node, s.maxDepth)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// OpenContent returns a file node and a reader over its bytes. The caller
// closes the reader.
func (s *FilesystemService) OpenContent(ctx context.Context, owner, nodeID uuid.UUID) (*models.Node, io.ReadCloser, error) {
	node, err := loadOwnedNode(s.DB.WithContext(ctx), owner, nodeID)
	if err != nil {
		return nil, nil, err
	}
	if node.IsFolder() {
		return nil, nil, invalidOperation("folders have no content")
	}

	rc, err := s.Blobs.Get(ctx, node.BlobRef)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, nil, s.blobGone(ctx, owner, node, err)
		}
		return nil, nil, storageBackendError("failed reading file content", err)
	}
	return node, rc, nil
}

// FolderSize is the total size of the files below a folder, or the file's
// own size. It is computed on every call.
func (s *FilesystemService) FolderSize(ctx context.Context, owner, nodeID uuid.UUID) (int64, error) {
	db := s.DB.WithContext(ctx)
	node, err := loadOwnedNode(db, owner, nodeID)
	if err != nil {
		return 0, err
	}
	if !node.IsFolder() {
		return node.Size, nil
	}

	nodes, err := collectSubtree(db, owner, node, s.maxDepth)
	if err != nil {
		return 0, err
	}
	var total int64
	for i := range nodes {
		if !nodes[i].IsFolder() {
			total += nodes[i].Size
		}
	}
	return total, nil
}

// translateWriteError maps unique index violations to Conflict; the
// sibling check catches most of them first.
func translateWriteError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return conflict("an item with this name already exists in this folder")
	}
	return fmt.Errorf("%s: %w", op, err)
}
