package services

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/docshare/drive/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxNameLength = 255
	// children of at most this many folders are fetched per query
	subtreeBatchSize = 500
)

// validateName trims name and rejects values that cannot be stored as a
// node name.
func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", invalidArgument("name is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		return "", invalidArgument(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	case name == "." || name == "..":
		return "", invalidArgument("name must not be . or ..")
	case strings.ContainsAny(name, "/\\\x00"):
		return "", invalidArgument("name must not contain slashes or NUL")
	}
	return name, nil
}

func kindFromMimeType(mimeType string) models.NodeKind {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return models.NodeKindImage
	case mimeType == "application/pdf":
		return models.NodeKindPDF
	default:
		return models.NodeKindNote
	}
}

// copyName returns "Copy of <name>" for n == 1 and "Copy of <name> (n)"
// otherwise, trimming name so the result stays within the length limit.
func copyName(name string, n int) string {
	prefix := "Copy of "
	suffix := ""
	if n > 1 {
		suffix = fmt.Sprintf(" (%d)", n)
	}
	budget := maxNameLength - utf8.RuneCountInString(prefix) - utf8.RuneCountInString(suffix)
	if utf8.RuneCountInString(name) > budget {
		name = string([]rune(name)[:budget])
	}
	return prefix + name + suffix
}

func loadOwnedNode(tx *gorm.DB, owner, id uuid.UUID) (*models.Node, error) {
	var node models.Node
	if err := tx.First(&node, "id = ? AND owner_id = ?", id, owner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("file or folder not found")
		}
		return nil, fmt.Errorf("loading node: %w", err)
	}
	return &node, nil
}

// requireParentFolder checks that parentID, when set, is a folder owned by
// owner. A nil parent is the root and always valid.
func requireParentFolder(tx *gorm.DB, owner uuid.UUID, parentID *uuid.UUID) (*models.Node, error) {
	if parentID == nil {
		return nil, nil
	}
	var parent models.Node
	if err := tx.First(&parent, "id = ? AND owner_id = ?", *parentID, owner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("parent folder not found")
		}
		return nil, fmt.Errorf("loading parent folder: %w", err)
	}
	if !parent.IsFolder() {
		return nil, invalidArgument("parent must be a folder")
	}
	return &parent, nil
}

// ensureNameFree fails with Conflict when a sibling other than exclude
// already uses name.
func ensureNameFree(tx *gorm.DB, owner uuid.UUID, parentID *uuid.UUID, name string, exclude *uuid.UUID) error {
	query := tx.Model(&models.Node{}).
		Where("owner_id = ? AND parent_key = ? AND name = ?", owner, models.ParentKey(parentID), name)
	if exclude != nil {
		query = query.Where("id <> ?", *exclude)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("checking sibling names: %w", err)
	}
	if count > 0 {
		return conflict(fmt.Sprintf("an item named %q already exists in this folder", name))
	}
	return nil
}

// nextCopyName picks the first "Copy of" variant of name unused among the
// siblings under parentID.
func nextCopyName(tx *gorm.DB, owner uuid.UUID, parentID *uuid.UUID, name string) (string, error) {
	var names []string
	if err := tx.Model(&models.Node{}).
		Where("owner_id = ? AND parent_key = ? AND name LIKE ?", owner, models.ParentKey(parentID), "Copy of %").
		Pluck("name", &names).Error; err != nil {
		return "", fmt.Errorf("listing sibling names: %w", err)
	}

	taken := make(map[string]struct{}, len(names))
	for _, n := range names {
		taken[n] = struct{}{}
	}
	for n := 1; ; n++ {
		candidate := copyName(name, n)
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
	}
}

// collectSubtree returns root followed by all of its descendants, walking
// breadth first. A node reached twice means the stored parent links form a
// cycle; a tree deeper than maxDepth is refused. Both leave the caller's
// transaction untouched.
func collectSubtree(tx *gorm.DB, owner uuid.UUID, root *models.Node, maxDepth int) ([]models.Node, error) {
	visited := map[uuid.UUID]struct{}{root.ID: {}}
	nodes := []models.Node{*root}
	if !root.IsFolder() {
		return nodes, nil
	}

	frontier := []uuid.UUID{root.ID}
	for depth := 1; len(frontier) > 0; depth++ {
		if depth > maxDepth {
			return nil, invariantViolation("folder tree exceeds the maximum depth", fmt.Errorf("depth limit %d reached below %s", maxDepth, root.ID))
		}

		var next []uuid.UUID
		for start := 0; start < len(frontier); start += subtreeBatchSize {
			end := min(start+subtreeBatchSize, len(frontier))

			var children []models.Node
			if err := tx.Where("owner_id = ? AND parent_id IN ?", owner, frontier[start:end]).
				Find(&children).Error; err != nil {
				return nil, fmt.Errorf("listing folder children: %w", err)
			}

			for _, child := range children {
				if _, seen := visited[child.ID]; seen {
					return nil, invariantViolation("folder tree contains a cycle", fmt.Errorf("node %s reached twice below %s", child.ID, root.ID))
				}
				visited[child.ID] = struct{}{}
				nodes = append(nodes, child)
				if child.IsFolder() {
					next = append(next, child.ID)
				}
			}
		}
		frontier = next
	}
	return nodes, nil
}

// ancestors walks parent links upward from start, returning the chain
// start, parent(start), ..., root-level node.
func ancestors(tx *gorm.DB, owner uuid.UUID, start *models.Node, maxDepth int) ([]models.Node, error) {
	chain := []models.Node{*start}
	visited := map[uuid.UUID]struct{}{start.ID: {}}

	current := start
	for current.ParentID != nil {
		if len(chain) > maxDepth {
			return nil, invariantViolation("folder tree exceeds the maximum depth", fmt.Errorf("ancestor walk from %s passed %d levels", start.ID, maxDepth))
		}
		if _, seen := visited[*current.ParentID]; seen {
			return nil, invariantViolation("folder tree contains a cycle", fmt.Errorf("ancestor %s reached twice from %s", *current.ParentID, start.ID))
		}

		var parent models.Node
		if err := tx.First(&parent, "id = ? AND owner_id = ?", *current.ParentID, owner).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, invariantViolation("folder tree has a dangling parent", fmt.Errorf("parent %s of %s is missing", *current.ParentID, current.ID))
			}
			return nil, fmt.Errorf("loading ancestor: %w", err)
		}
		visited[parent.ID] = struct{}{}
		chain = append(chain, parent)
		current = &chain[len(chain)-1]
	}
	return chain, nil
}

func nodeIDs(nodes []models.Node) []uuid.UUID {
	ids := make([]uuid.UUID, len(nodes))
	for i := range nodes {
		ids[i] = nodes[i].ID
	}
	return ids
}
