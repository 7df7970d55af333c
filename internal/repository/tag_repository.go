package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kkkkikiki/adledger/internal/model"
)

// TagRepository handles tag data operations
type TagRepository struct{}

// NewTagRepository creates a new tag repository
func NewTagRepository() *TagRepository {
	return &TagRepository{}
}

// FindByName retrieves a tag by its exact normalized name
func (r *TagRepository) FindByName(ctx context.Context, db DBExecutor, name string) (model.Tag, error) {
	query := `SELECT id, name, created_at FROM tags WHERE name = $1`

	var tag model.Tag
	if err := db.GetContext(ctx, &tag, query, name); err != nil {
		return model.Tag{}, fmt.Errorf("tag %q: %w", name, mapError(err))
	}

	return tag, nil
}

// FindSimilar ranks tags by pg_trgm similarity, most similar first
func (r *TagRepository) FindSimilar(ctx context.Context, db DBExecutor, name string, threshold float64) ([]model.TagMatch, error) {
	query := `
		SELECT id, name, created_at, similarity(name, $1) AS similarity
		FROM tags
		WHERE similarity(name, $1) >= $2
		ORDER BY similarity DESC, name ASC
	`

	var matches []model.TagMatch
	if err := db.SelectContext(ctx, &matches, query, name, threshold); err != nil {
		return nil, fmt.Errorf("failed to find similar tags: %w", err)
	}

	return matches, nil
}

// GetOrCreate returns tags for the names, inserting the missing ones in one batch
func (r *TagRepository) GetOrCreate(ctx context.Context, db DBExecutor, names []string) ([]model.Tag, error) {
	if len(names) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	args := make([]interface{}, 0, len(names)*2)
	for _, name := range names {
		args = append(args, name, now)
	}
	insert := fmt.Sprintf(`
		INSERT INTO tags (name, created_at)
		VALUES %s
		ON CONFLICT (name) DO NOTHING
	`, valuesClause(len(names), 2))
	if _, err := db.ExecContext(ctx, insert, args...); err != nil {
		return nil, fmt.Errorf("failed to create tags: %w", mapError(err))
	}

	query, inArgs, err := inQuery(db, `SELECT id, name, created_at FROM tags WHERE name IN (?)`, names)
	if err != nil {
		return nil, err
	}
	var found []model.Tag
	if err := db.SelectContext(ctx, &found, query, inArgs...); err != nil {
		return nil, fmt.Errorf("failed to get tags: %w", err)
	}

	// keep the caller's order
	byName := make(map[string]model.Tag, len(found))
	for _, t := range found {
		byName[t.Name] = t
	}
	tags := make([]model.Tag, 0, len(names))
	for _, name := range names {
		if t, ok := byName[name]; ok {
			tags = append(tags, t)
		}
	}

	return tags, nil
}
