package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docshare/drive/internal/config"
	"github.com/docshare/drive/internal/database"
	"github.com/docshare/drive/internal/models"
	"github.com/docshare/drive/internal/storage"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), database.GormConfig())
	require.NoError(t, err, "opening in-memory sqlite database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	require.NoError(t, database.Migrate(db))
	return db
}

// faultyStore wraps a MemoryStore and fails selected operations on demand.
type faultyStore struct {
	*storage.MemoryStore

	mu         sync.Mutex
	failPut    error
	failDelete error
	failRename error
	failCopy   error
	// beforeRename runs ahead of a successful rename.
	beforeRename func()
	// afterRename runs once a rename has succeeded.
	afterRename func()
}

var errInjected = errors.New("injected failure")

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: storage.NewMemoryStore()}
}

func (f *faultyStore) Put(ctx context.Context, ref string, r io.Reader, size int64, contentType string) error {
	f.mu.Lock()
	err := f.failPut
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryStore.Put(ctx, ref, r, size, contentType)
}

func (f *faultyStore) Delete(ctx context.Context, ref string) error {
	f.mu.Lock()
	err := f.failDelete
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryStore.Delete(ctx, ref)
}

func (f *faultyStore) Rename(ctx context.Context, ref, newRef string) error {
	f.mu.Lock()
	err := f.failRename
	before, after := f.beforeRename, f.afterRename
	f.beforeRename, f.afterRename = nil, nil
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if before != nil {
		before()
	}
	if err := f.MemoryStore.Rename(ctx, ref, newRef); err != nil {
		return err
	}
	if after != nil {
		after()
	}
	return nil
}

func (f *faultyStore) Copy(ctx context.Context, ref, newRef string) error {
	f.mu.Lock()
	err := f.failCopy
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryStore.Copy(ctx, ref, newRef)
}

func (f *faultyStore) set(apply func(f *faultyStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply(f)
}

type fixture struct {
	db     *gorm.DB
	blobs  *faultyStore
	ledger *QuotaLedger
	fs     *FilesystemService
	index  *SearchIndex
	user   *models.User
}

func newFixture(t *testing.T, quota int64) *fixture {
	return newFixtureWithConfig(t, quota, config.StorageConfig{MaxTreeDepth: 64, TimeZone: "UTC"})
}

func newFixtureWithConfig(t *testing.T, quota int64, cfg config.StorageConfig) *fixture {
	t.Helper()

	db := newTestDB(t)
	blobs := newFaultyStore()
	ledger := NewQuotaLedger(db)

	return &fixture{
		db:     db,
		blobs:  blobs,
		ledger: ledger,
		fs:     NewFilesystemService(db, blobs, ledger, cfg),
		index:  NewSearchIndex(db, ledger, cfg),
		user:   createUser(t, db, "owner@example.com", quota),
	}
}

func createUser(t *testing.T, db *gorm.DB, email string, quota int64) *models.User {
	t.Helper()

	user := models.User{Email: email, DisplayName: "Test User", StorageQuota: quota}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func (f *fixture) ingest(t *testing.T, parentID *uuid.UUID, name string, size int) *models.Node {
	t.Helper()

	node, err := f.fs.IngestFile(context.Background(), ingestInput(f.user.ID, parentID, name, size))
	require.NoError(t, err)
	return node
}

func (f *fixture) folder(t *testing.T, parentID *uuid.UUID, name string) *models.Node {
	t.Helper()

	node, err := f.fs.CreateFolder(context.Background(), f.user.ID, name, parentID)
	require.NoError(t, err)
	return node
}

func (f *fixture) used(t *testing.T) int64 {
	t.Helper()

	state, err := f.ledger.QuotaState(context.Background(), f.user.ID)
	require.NoError(t, err)
	return state.Used
}

func (f *fixture) nodeCount(t *testing.T) int64 {
	t.Helper()

	var count int64
	require.NoError(t, f.db.Model(&models.Node{}).Where("owner_id = ?", f.user.ID).Count(&count).Error)
	return count
}

func (f *fixture) setCreatedAt(t *testing.T, id uuid.UUID, at time.Time) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.Node{}).Where("id = ?", id).UpdateColumn("created_at", at.UTC()).Error)
}

func ingestInput(owner uuid.UUID, parentID *uuid.UUID, name string, size int) IngestInput {
	return IngestInput{
		Owner:    owner,
		ParentID: parentID,
		Name:     name,
		MimeType: "text/plain",
		Size:     int64(size),
		Content:  bytes.NewReader(bytes.Repeat([]byte("x"), size)),
	}
}

func readBlob(t *testing.T, store storage.BlobStore, ref string) string {
	t.Helper()

	rc, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	defer rc.Close()

	var sb strings.Builder
	_, err = io.Copy(&sb, rc)
	require.NoError(t, err)
	return sb.String()
}

func blobExists(t *testing.T, store storage.BlobStore, ref string) bool {
	t.Helper()

	ok, err := store.Exists(context.Background(), ref)
	require.NoError(t, err)
	return ok
}
