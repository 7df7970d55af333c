package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel is the advertised destination an order promotes
type Channel struct {
	ID          int64     `db:"id" json:"-"`
	ChannelID   string    `db:"channel_id" json:"channel_id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	ChannelName string    `db:"channel_name" json:"channel_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	Tags []string `db:"-" json:"tags"`
}

// Tag is a shared search keyword
type Tag struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TagMatch is a tag returned by the similarity lookup
type TagMatch struct {
	Tag
	Similarity float64 `db:"similarity" json:"similarity"`
}

// NormalizeTag lowercases and trims a tag name
func NormalizeTag(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeTags normalizes names, dropping empties and duplicates while
// keeping first-seen order
func NormalizeTags(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = NormalizeTag(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// AdView counts how many times a viewer has been served an order
type AdView struct {
	OrderID      int64     `db:"order_id" json:"order_id"`
	ViewerID     string    `db:"viewer_id" json:"viewer_id"`
	ViewCount    int64     `db:"view_count" json:"view_count"`
	LastViewedAt time.Time `db:"last_viewed_at" json:"last_viewed_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CanViewMore reports whether the viewer is still under the per-viewer cap.
// Only meaningful while the order row is locked.
func (v *AdView) CanViewMore(maxViews int64) bool {
	return v.ViewCount < maxViews
}
