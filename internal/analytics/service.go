package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/kopi-pos/internal/cache"
)

// DailyRevenue is one branch-day of settled sales.
type DailyRevenue struct {
	Day      time.Time `json:"day"`
	BranchID string    `json:"branchId"`
	Orders   int64     `json:"orders"`
	Gross    int64     `json:"gross"`
	Discount int64     `json:"discount"`
	Revenue  int64     `json:"revenue"`
}

// TopItem is a product ranked by units sold.
type TopItem struct {
	ItemID  string `json:"itemId"`
	Name    string `json:"name"`
	Qty     int64  `json:"qty"`
	Revenue int64  `json:"revenue"`
}

// Querier defines the database access required for analytics operations.
// An empty branchID means every branch.
type Querier interface {
	DailyRevenue(ctx context.Context, branchID string, from, to time.Time) ([]DailyRevenue, error)
	TopItems(ctx context.Context, branchID string, from, to time.Time, limit int) ([]TopItem, error)
}

// Service provides cached access to sales aggregates.
type Service struct {
	Q            Querier
	R            *redis.Client
	TTL          time.Duration
	DefaultRange int
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Revenue returns daily revenue between from (inclusive) and to (exclusive).
func (s *Service) Revenue(ctx context.Context, branchID string, from, to time.Time) ([]DailyRevenue, error) {
	if s == nil || s.Q == nil {
		return nil, fmt.Errorf("analytics service not configured")
	}
	key := cache.Key("an", "rev", cache.Branch(branchID), from.Format("2006-01-02"), to.Format("2006-01-02"))
	var rows []DailyRevenue
	if s.jsonCache().Get(ctx, key, &rows) {
		return rows, nil
	}
	rows, err := s.Q.DailyRevenue(ctx, branchID, from, to)
	if err != nil {
		return nil, err
	}
	s.jsonCache().Set(ctx, key, rows)
	return rows, nil
}

// TopItems returns the best-selling items in the range.
func (s *Service) TopItems(ctx context.Context, branchID string, from, to time.Time, limit int) ([]TopItem, error) {
	if s == nil || s.Q == nil {
		return nil, fmt.Errorf("analytics service not configured")
	}
	if limit <= 0 {
		limit = 10
	}
	key := cache.Key("an", "top", cache.Branch(branchID), from.Format("2006-01-02"), to.Format("2006-01-02"), limit)
	var rows []TopItem
	if s.jsonCache().Get(ctx, key, &rows) {
		return rows, nil
	}
	rows, err := s.Q.TopItems(ctx, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	s.jsonCache().Set(ctx, key, rows)
	return rows, nil
}

func (s *Service) jsonCache() cache.JSON {
	return cache.JSON{R: s.R, TTL: s.TTL}
}
