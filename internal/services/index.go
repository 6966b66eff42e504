package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docshare/drive/internal/config"
	"github.com/docshare/drive/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	maxSearchLength    = 100
	searchResultLimit  = 50
	defaultRecentLimit = 10
	maxRecentLimit     = 100
	dashboardListLimit = 5
)

type DashboardStats struct {
	TotalFiles int64         `json:"totalFiles"`
	TotalSize  int64         `json:"totalSize"`
	Recent     []models.Node `json:"recent"`
	Favorites  []models.Node `json:"favorites"`
	Quota      QuotaState    `json:"quota"`
}

// SearchIndex answers read-only listing and search queries. Every query is
// scoped to one owner.
type SearchIndex struct {
	DB       *gorm.DB
	Ledger   *QuotaLedger
	location *time.Location
}

func NewSearchIndex(db *gorm.DB, ledger *QuotaLedger, cfg config.StorageConfig) *SearchIndex {
	return &SearchIndex{DB: db, Ledger: ledger, location: cfg.Location()}
}

// ListFilter narrows ListChildren. Zero values match everything.
type ListFilter struct {
	Kind       models.NodeKind
	IsPrivate  *bool
	IsFavorite *bool
}

// ListChildren lists one level below parentID (the root level when nil):
// folders by name, then files newest first.
func (s *SearchIndex) ListChildren(ctx context.Context, owner uuid.UUID, parentID *uuid.UUID, filter ListFilter) ([]models.Node, error) {
	kind := filter.Kind
	if kind != "" && !kind.Valid() {
		return nil, invalidArgument(fmt.Sprintf("unknown kind %q", kind))
	}

	db := s.DB.WithContext(ctx)
	if _, err := requireParentFolder(db, owner, parentID); err != nil {
		return nil, err
	}

	base := func() *gorm.DB {
		query := db.Where("owner_id = ? AND parent_key = ?", owner, models.ParentKey(parentID))
		if filter.IsPrivate != nil {
			query = query.Where("is_private = ?", *filter.IsPrivate)
		}
		if filter.IsFavorite != nil {
			query = query.Where("is_favorite = ?", *filter.IsFavorite)
		}
		return query
	}

	folders := []models.Node{}
	if kind == "" || kind == models.NodeKindFolder {
		if err := base().Where("kind = ?", models.NodeKindFolder).
			Order("name ASC").
			Find(&folders).Error; err != nil {
			return nil, fmt.Errorf("listing folders: %w", err)
		}
	}

	var files []models.Node
	if kind != models.NodeKindFolder {
		query := base().Where("kind <> ?", models.NodeKindFolder)
		if kind != "" {
			query = query.Where("kind = ?", kind)
		}
		if err := query.Order("created_at DESC").Find(&files).Error; err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}
	}

	return append(folders, files...), nil
}

// Search matches text case-insensitively against node names and kinds.
func (s *SearchIndex) Search(ctx context.Context, owner uuid.UUID, text string) ([]models.Node, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalidArgument("search text is required")
	}
	if utf8.RuneCountInString(text) > maxSearchLength {
		return nil, invalidArgument(fmt.Sprintf("search text must be at most %d characters", maxSearchLength))
	}

	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
	nodes := []models.Node{}
	if err := s.DB.WithContext(ctx).
		Where("owner_id = ?", owner).
		Where("(LOWER(name) LIKE ? ESCAPE '\\' OR LOWER(kind) LIKE ? ESCAPE '\\')", pattern, pattern).
		Order("created_at DESC").
		Limit(searchResultLimit).
		Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("searching nodes: %w", err)
	}
	if err := s.attachParentNames(ctx, owner, nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (s *SearchIndex) ListFavorites(ctx context.Context, owner uuid.UUID) ([]models.Node, error) {
	return s.favorites(s.DB.WithContext(ctx), owner, 0)
}

// ListRecent returns the newest nodes, folders included. limit defaults to
// 10 and is capped at 100.
func (s *SearchIndex) ListRecent(ctx context.Context, owner uuid.UUID, limit int) ([]models.Node, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	return s.recent(s.DB.WithContext(ctx), owner, limit)
}

// ListByCreationDate returns the nodes created on the calendar day of day,
// as seen in the configured time zone.
func (s *SearchIndex) ListByCreationDate(ctx context.Context, owner uuid.UUID, day time.Time) ([]models.Node, error) {
	start, end := dayBounds(day, s.location)

	nodes := []models.Node{}
	if err := s.DB.WithContext(ctx).
		Where("owner_id = ? AND created_at >= ? AND created_at < ?", owner, start, end).
		Order("created_at DESC").
		Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("listing nodes by date: %w", err)
	}
	return nodes, nil
}

// DayBounds reports the UTC instants that open and close the calendar day
// of t in the index's time zone. The end is exclusive.
func (s *SearchIndex) DayBounds(t time.Time) (time.Time, time.Time) {
	return dayBounds(t, s.location)
}

func (s *SearchIndex) Location() *time.Location {
	return s.location
}

func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start.UTC(), end.UTC()
}

// DashboardStats gathers the overview figures concurrently.
func (s *SearchIndex) DashboardStats(ctx context.Context, owner uuid.UUID) (*DashboardStats, error) {
	stats := &DashboardStats{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var totals struct {
			Count int64
			Total int64
		}
		if err := s.DB.WithContext(gctx).Model(&models.Node{}).
			Select("COUNT(*) AS count, COALESCE(SUM(size), 0) AS total").
			Where("owner_id = ? AND kind <> ?", owner, models.NodeKindFolder).
			Scan(&totals).Error; err != nil {
			return fmt.Errorf("counting files: %w", err)
		}
		stats.TotalFiles = totals.Count
		stats.TotalSize = totals.Total
		return nil
	})
	g.Go(func() error {
		recent, err := s.recent(s.DB.WithContext(gctx), owner, dashboardListLimit)
		stats.Recent = recent
		return err
	})
	g.Go(func() error {
		favorites, err := s.favorites(s.DB.WithContext(gctx), owner, dashboardListLimit)
		stats.Favorites = favorites
		return err
	})
	g.Go(func() error {
		quota, err := s.Ledger.QuotaState(gctx, owner)
		stats.Quota = quota
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SearchIndex) recent(db *gorm.DB, owner uuid.UUID, limit int) ([]models.Node, error) {
	nodes := []models.Node{}
	if err := db.Where("owner_id = ?", owner).
		Order("created_at DESC").
		Limit(limit).
		Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("listing recent nodes: %w", err)
	}
	return nodes, nil
}

func (s *SearchIndex) favorites(db *gorm.DB, owner uuid.UUID, limit int) ([]models.Node, error) {
	query := db.Where("owner_id = ? AND is_favorite = ?", owner, true).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	nodes := []models.Node{}
	if err := query.Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("listing favorites: %w", err)
	}
	return nodes, nil
}

// attachParentNames fills ParentName so flat result lists can show where
// each node lives.
func (s *SearchIndex) attachParentNames(ctx context.Context, owner uuid.UUID, nodes []models.Node) error {
	seen := map[uuid.UUID]struct{}{}
	var parentIDs []uuid.UUID
	for i := range nodes {
		if nodes[i].ParentID == nil {
			continue
		}
		if _, ok := seen[*nodes[i].ParentID]; !ok {
			seen[*nodes[i].ParentID] = struct{}{}
			parentIDs = append(parentIDs, *nodes[i].ParentID)
		}
	}
	if len(parentIDs) == 0 {
		return nil
	}

	var parents []models.Node
	if err := s.DB.WithContext(ctx).
		Select("id", "name").
		Where("owner_id = ? AND id IN ?", owner, parentIDs).
		Find(&parents).Error; err != nil {
		return fmt.Errorf("loading parent names: %w", err)
	}

	names := make(map[uuid.UUID]string, len(parents))
	for _, parent := range parents {
		names[parent.ID] = parent.Name
	}
	for i := range nodes {
		if nodes[i].ParentID != nil {
			nodes[i].ParentName = names[*nodes[i].ParentID]
		}
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
