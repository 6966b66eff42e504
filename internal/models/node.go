package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NodeKind string

const (
	NodeKindFolder NodeKind = "folder"
	NodeKindImage  NodeKind = "image"
	NodeKindPDF    NodeKind = "pdf"
	NodeKindNote   NodeKind = "note"
)

func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindFolder, NodeKindImage, NodeKindPDF, NodeKindNote:
		return true
	default:
		return false
	}
}

const FolderMimeType = "inode/directory"

// Node is a file or folder in an owner's tree.
//
// ParentKey mirrors ParentID ("" at the root) so that the database can hold a
// unique index over (owner, parent, name); a NULL parent would otherwise
// escape the constraint.
type Node struct {
	BaseModel
	OwnerID    uuid.UUID  `json:"ownerID" gorm:"type:uuid;not null;index;uniqueIndex:idx_nodes_sibling_name,priority:1"`
	ParentID   *uuid.UUID `json:"parentID,omitempty" gorm:"type:uuid;index"`
	ParentKey  string     `json:"-" gorm:"type:varchar(36);not null;default:'';uniqueIndex:idx_nodes_sibling_name,priority:2"`
	Name       string     `json:"name" gorm:"type:varchar(255);not null;uniqueIndex:idx_nodes_sibling_name,priority:3"`
	Kind       NodeKind   `json:"kind" gorm:"type:varchar(16);not null;index"`
	MimeType   string     `json:"mimeType" gorm:"type:varchar(255);not null"`
	Size       int64      `json:"size" gorm:"not null;default:0"`
	BlobRef    string     `json:"-" gorm:"type:text;not null;default:''"`
	IsPrivate  bool       `json:"isPrivate" gorm:"not null;default:false;index"`
	IsFavorite bool       `json:"isFavorite" gorm:"not null;default:false;index"`

	ParentName string `json:"parentName,omitempty" gorm:"-"`
}

func (n *Node) IsFolder() bool {
	return n.Kind == NodeKindFolder
}

func (n *Node) BeforeSave(_ *gorm.DB) error {
	n.ParentKey = ParentKey(n.ParentID)
	return nil
}

// ParentKey returns the value stored in Node.ParentKey for the given parent.
func ParentKey(parentID *uuid.UUID) string {
	if parentID == nil {
		return ""
	}
	return parentID.String()
}
