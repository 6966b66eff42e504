package models

// DefaultStorageQuota is 5 GiB.
const DefaultStorageQuota int64 = 5 * 1024 * 1024 * 1024

type User struct {
	BaseModel
	Email        string `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	DisplayName  string `json:"displayName" gorm:"type:varchar(100);not null;default:''"`
	StorageQuota int64  `json:"storageQuota" gorm:"not null"`
	UsedStorage  int64  `json:"usedStorage" gorm:"not null;default:0"`
	Nodes        []Node `json:"-" gorm:"foreignKey:OwnerID"`
}
