package handlers

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/docshare/drive/internal/middleware"
	"github.com/docshare/drive/internal/models"
	"github.com/docshare/drive/internal/services"
	"github.com/docshare/drive/pkg/logger"
	"github.com/docshare/drive/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type NodesHandler struct {
	FS     *services.FilesystemService
	Index  *services.SearchIndex
	Ledger *services.QuotaLedger
	Audit  *services.AuditService
}

func NewNodesHandler(fs *services.FilesystemService, index *services.SearchIndex, ledger *services.QuotaLedger, audit *services.AuditService) *NodesHandler {
	return &NodesHandler{FS: fs, Index: index, Ledger: ledger, Audit: audit}
}

type createFolderRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parentID"`
}

// updateNodeRequest fields are optional. An empty parentID moves the node
// to the root level.
type updateNodeRequest struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parentID"`
}

func resourceType(node *models.Node) string {
	if node.IsFolder() {
		return "folder"
	}
	return "file"
}

func (h *NodesHandler) audit(c *fiber.Ctx, userID uuid.UUID, action string, node *models.Node, details map[string]interface{}) {
	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &userID,
		Action:       action,
		ResourceType: resourceType(node),
		ResourceID:   &node.ID,
		Details:      details,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})
}

func (h *NodesHandler) CreateFolder(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	parentID, err := parseOptionalUUID(req.ParentID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid parentID")
	}

	folder, err := h.FS.CreateFolder(c.UserContext(), currentUser.ID, req.Name, parentID)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "folder_create", err)
	}

	details := map[string]interface{}{"name": folder.Name}
	if parentID != nil {
		details["parent_id"] = parentID.String()
	}
	h.audit(c, currentUser.ID, services.AuditFolderCreate, folder, details)

	return utils.Success(c, fiber.StatusCreated, folder)
}

// Upload stores a single "file" part, or up to services.MaxBatchFiles
// "files" parts as one all-or-nothing batch.
func (h *NodesHandler) Upload(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}
	parentID, err := parseOptionalUUID(c.FormValue("parentID"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid parentID")
	}
	kind := models.NodeKind(strings.ToLower(strings.TrimSpace(c.FormValue("kind"))))
	if kind != "" && (!kind.Valid() || kind == models.NodeKindFolder) {
		return utils.Error(c, fiber.StatusBadRequest, "kind must be image, pdf or note")
	}

	if batch := form.File["files"]; len(batch) > 0 {
		return h.uploadBatch(c, currentUser.ID, parentID, kind, batch)
	}
	single := form.File["file"]
	if len(single) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	input, stream, err := uploadInput(single[0], kind)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}
	defer stream.Close()
	input.Owner = currentUser.ID
	input.ParentID = parentID

	node, err := h.FS.IngestFile(c.UserContext(), input)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "file_upload", err)
	}

	h.auditUpload(c, currentUser.ID, node, parentID)
	return utils.Success(c, fiber.StatusCreated, node)
}

func (h *NodesHandler) uploadBatch(c *fiber.Ctx, userID uuid.UUID, parentID *uuid.UUID, kind models.NodeKind, headers []*multipart.FileHeader) error {
	if len(headers) > services.MaxBatchFiles {
		return utils.Error(c, fiber.StatusBadRequest, fmt.Sprintf("at most %d files can be uploaded at once", services.MaxBatchFiles))
	}

	inputs := make([]services.IngestInput, 0, len(headers))
	streams := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, stream := range streams {
			_ = stream.Close()
		}
	}()
	for _, header := range headers {
		input, stream, err := uploadInput(header, kind)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, err.Error())
		}
		streams = append(streams, stream)
		inputs = append(inputs, input)
	}

	nodes, err := h.FS.IngestFiles(c.UserContext(), userID, parentID, inputs)
	if err != nil {
		return respondServiceError(c, userID, "file_upload", err)
	}

	for i := range nodes {
		h.auditUpload(c, userID, &nodes[i], parentID)
	}
	return utils.Success(c, fiber.StatusCreated, nodes)
}

// uploadInput opens one multipart part. The caller closes the returned
// stream; Owner and ParentID are left for the caller to set.
func uploadInput(header *multipart.FileHeader, kind models.NodeKind) (services.IngestInput, multipart.File, error) {
	filename := filepath.Base(strings.TrimSpace(header.Filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return services.IngestInput{}, nil, errors.New("invalid filename")
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}

	stream, err := header.Open()
	if err != nil {
		return services.IngestInput{}, nil, fmt.Errorf("failed opening uploaded file %q", filename)
	}
	return services.IngestInput{
		Name:     filename,
		Kind:     kind,
		MimeType: contentType,
		Size:     header.Size,
		Content:  stream,
	}, stream, nil
}

func (h *NodesHandler) auditUpload(c *fiber.Ctx, userID uuid.UUID, node *models.Node, parentID *uuid.UUID) {
	details := map[string]interface{}{
		"file_name": node.Name,
		"file_size": node.Size,
		"mime_type": node.MimeType,
	}
	if parentID != nil {
		details["parent_id"] = parentID.String()
	}
	h.audit(c, userID, services.AuditFileUpload, node, details)
}

func (h *NodesHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	parentID, err := parseOptionalUUID(c.Query("parentID"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid parentID")
	}
	filter := services.ListFilter{
		Kind: models.NodeKind(strings.ToLower(strings.TrimSpace(c.Query("kind")))),
	}
	if filter.IsPrivate, err = parseOptionalBool(c.Query("private")); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "private must be true or false")
	}
	if filter.IsFavorite, err = parseOptionalBool(c.Query("favorite")); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "favorite must be true or false")
	}

	nodes, err := h.Index.ListChildren(c.UserContext(), currentUser.ID, parentID, filter)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "list_children", err)
	}
	return utils.Success(c, fiber.StatusOK, nodes)
}

func (h *NodesHandler) Search(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodes, err := h.Index.Search(c.UserContext(), currentUser.ID, c.Query("q"))
	if err != nil {
		return respondServiceError(c, currentUser.ID, "search", err)
	}
	return utils.Success(c, fiber.StatusOK, nodes)
}

func (h *NodesHandler) Favorites(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodes, err := h.Index.ListFavorites(c.UserContext(), currentUser.ID)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "list_favorites", err)
	}
	return utils.Success(c, fiber.StatusOK, nodes)
}

func (h *NodesHandler) Recent(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodes, err := h.Index.ListRecent(c.UserContext(), currentUser.ID, c.QueryInt("limit", 0))
	if err != nil {
		return respondServiceError(c, currentUser.ID, "list_recent", err)
	}
	return utils.Success(c, fiber.StatusOK, nodes)
}

// ByDate takes date=YYYY-MM-DD, read as a calendar day in the storage time
// zone. Without a date it lists today.
func (h *NodesHandler) ByDate(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	day := time.Now()
	if raw := strings.TrimSpace(c.Query("date")); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.Index.Location())
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "date must be formatted as YYYY-MM-DD")
		}
		day = parsed
	}

	nodes, err := h.Index.ListByCreationDate(c.UserContext(), currentUser.ID, day)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "list_by_date", err)
	}
	return utils.Success(c, fiber.StatusOK, nodes)
}

func (h *NodesHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	node, err := h.FS.GetNode(c.UserContext(), currentUser.ID, nodeID)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "node_get", err)
	}
	return utils.Success(c, fiber.StatusOK, node)
}

func (h *NodesHandler) Path(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	path, err := h.FS.Path(c.UserContext(), currentUser.ID, nodeID)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "node_path", err)
	}
	return utils.Success(c, fiber.StatusOK, path)
}

func (h *NodesHandler) Size(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	size, err := h.FS.FolderSize(c.UserContext(), currentUser.ID, nodeID)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "node_size", err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"id": nodeID, "size": size})
}

func (h *NodesHandler) Download(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	node, content, err := h.FS.OpenContent(c.UserContext(), currentUser.ID, nodeID)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "file_download", err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "file_downloaded", map[string]interface{}{
		"file_id":   node.ID.String(),
		"file_name": node.Name,
		"file_size": node.Size,
	})

	c.Set("Content-Type", node.MimeType)
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", node.Name))
	return c.SendStream(content, int(node.Size))
}

// Update renames and/or moves a node. With both fields the move and the
// rename commit together, and the new name is checked against the
// destination's siblings.
func (h *NodesHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	var req updateNodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Name == nil && req.ParentID == nil {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	var newParentID *uuid.UUID
	if req.ParentID != nil {
		if newParentID, err = parseOptionalUUID(*req.ParentID); err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid parentID")
		}
	}

	ctx := c.UserContext()
	var (
		node     *models.Node
		previous *models.Node
	)
	if req.Name != nil {
		if previous, err = h.FS.GetNode(ctx, currentUser.ID, nodeID); err != nil {
			return respondServiceError(c, currentUser.ID, "node_update", err)
		}
	}

	switch {
	case req.ParentID != nil && req.Name != nil:
		node, err = h.FS.MoveAndRenameNode(ctx, currentUser.ID, nodeID, newParentID, *req.Name)
		if err != nil {
			return respondServiceError(c, currentUser.ID, "node_update", err)
		}
	case req.ParentID != nil:
		node, err = h.FS.MoveNode(ctx, currentUser.ID, nodeID, newParentID)
		if err != nil {
			return respondServiceError(c, currentUser.ID, "node_move", err)
		}
	default:
		node, err = h.FS.RenameNode(ctx, currentUser.ID, nodeID, *req.Name)
		if err != nil {
			return respondServiceError(c, currentUser.ID, "node_rename", err)
		}
	}

	if req.ParentID != nil {
		details := map[string]interface{}{"name": node.Name}
		if newParentID != nil {
			details["parent_id"] = newParentID.String()
		}
		h.audit(c, currentUser.ID, services.AuditNodeMove, node, details)
	}
	if req.Name != nil {
		details := map[string]interface{}{"name": node.Name}
		if previous.Name != node.Name {
			details["previous_name"] = previous.Name
		}
		h.audit(c, currentUser.ID, services.AuditNodeRename, node, details)
	}

	return utils.Success(c, fiber.StatusOK, node)
}

func (h *NodesHandler) Duplicate(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	dup, err := h.FS.DuplicateNode(c.UserContext(), currentUser.ID, nodeID)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "file_duplicate", err)
	}

	h.audit(c, currentUser.ID, services.AuditFileDuplicate, dup, map[string]interface{}{
		"source_id": nodeID.String(),
		"name":      dup.Name,
		"file_size": dup.Size,
	})
	return utils.Success(c, fiber.StatusCreated, dup)
}

func (h *NodesHandler) ToggleFavorite(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	node, err := h.FS.ToggleFavorite(c.UserContext(), currentUser.ID, nodeID)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "node_favorite", err)
	}
	h.audit(c, currentUser.ID, services.AuditNodeFavorite, node, map[string]interface{}{
		"is_favorite": node.IsFavorite,
	})
	return utils.Success(c, fiber.StatusOK, node)
}

func (h *NodesHandler) TogglePrivate(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	node, err := h.FS.TogglePrivate(c.UserContext(), currentUser.ID, nodeID)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "node_private", err)
	}
	h.audit(c, currentUser.ID, services.AuditNodePrivate, node, map[string]interface{}{
		"is_private": node.IsPrivate,
	})
	return utils.Success(c, fiber.StatusOK, node)
}

func (h *NodesHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	node, err := h.FS.GetNode(c.UserContext(), currentUser.ID, nodeID)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "node_delete", err)
	}

	result, err := h.FS.DeleteNode(c.UserContext(), currentUser.ID, nodeID)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "node_delete", err)
	}

	h.audit(c, currentUser.ID, services.AuditNodeDelete, node, map[string]interface{}{
		"name":        node.Name,
		"nodes":       result.Nodes,
		"files":       result.Files,
		"freed_bytes": result.FreedBytes,
	})
	return utils.Success(c, fiber.StatusOK, result)
}
