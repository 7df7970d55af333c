package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/model"
)

// ChannelRepository handles channel data operations
type ChannelRepository struct{}

// NewChannelRepository creates a new channel repository
func NewChannelRepository() *ChannelRepository {
	return &ChannelRepository{}
}

// Upsert creates the channel or refreshes its name when the same user owns it.
// A channel id held by another user yields ErrChannelConflict.
func (r *ChannelRepository) Upsert(ctx context.Context, db DBExecutor, channel *model.Channel) error {
	query := `
		INSERT INTO channels (channel_id, user_id, channel_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (channel_id) DO UPDATE
			SET channel_name = EXCLUDED.channel_name, updated_at = EXCLUDED.updated_at
			WHERE channels.user_id = EXCLUDED.user_id
		RETURNING id, channel_id, user_id, channel_name, created_at, updated_at
	`

	now := time.Now().UTC()
	err := db.GetContext(ctx, channel, query, channel.ChannelID, channel.UserID, channel.ChannelName, now)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("channel %q: %w", channel.ChannelID, ledger.ErrChannelConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert channel: %w", mapError(err))
	}

	return nil
}

// AddTags unions tags into a channel and returns all of its tag names
func (r *ChannelRepository) AddTags(ctx context.Context, db DBExecutor, channelPK int64, tagIDs []int64) ([]string, error) {
	if len(tagIDs) > 0 {
		args := make([]interface{}, 0, len(tagIDs)*2)
		for _, id := range tagIDs {
			args = append(args, channelPK, id)
		}
		query := fmt.Sprintf(`
			INSERT INTO channel_tags (channel_pk, tag_id)
			VALUES %s
			ON CONFLICT DO NOTHING
		`, valuesClause(len(tagIDs), 2))
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("failed to attach channel tags: %w", mapError(err))
		}
	}

	return r.TagNames(ctx, db, channelPK)
}

// TagNames returns the names of a channel's tags
func (r *ChannelRepository) TagNames(ctx context.Context, db DBExecutor, channelPK int64) ([]string, error) {
	query := `
		SELECT t.name
		FROM channel_tags ct
		JOIN tags t ON t.id = ct.tag_id
		WHERE ct.channel_pk = $1
		ORDER BY t.id
	`

	names := []string{}
	if err := db.SelectContext(ctx, &names, query, channelPK); err != nil {
		return nil, fmt.Errorf("failed to get channel tags: %w", err)
	}

	return names, nil
}
