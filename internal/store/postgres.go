package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/nexa/messenger/internal/event"
	"github.com/nexa/messenger/internal/settings"
)

// Postgres implements the durable store on PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool, verifies it, and runs pending schema
// migrations.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: postgres connection failed: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return &Postgres{db: db}, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// SaveMessage inserts a message record and returns its assigned id. Ids are
// monotonically assigned and define delivery order within a destination.
func (p *Postgres) SaveMessage(ctx context.Context, m *Message) (int64, error) {
	const query = `
		INSERT INTO messages (sender_id, dest_kind, dest_key, dest_user_a, dest_user_b, dest_channel, content, reply_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var replyTo sql.NullInt64
	if m.ReplyTo != nil {
		replyTo = sql.NullInt64{Int64: *m.ReplyTo, Valid: true}
	}

	d := m.Destination
	var id int64
	err := p.db.QueryRowContext(ctx, query,
		m.SenderID, d.Kind, d.Key(),
		nullStr(d.UserA), nullStr(d.UserB), nullStr(d.ChannelID),
		m.Content, replyTo, m.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert message: %w", err)
	}
	return id, nil
}

// GetMessage loads a single message by id.
func (p *Postgres) GetMessage(ctx context.Context, id int64) (*Message, error) {
	const query = `
		SELECT id, sender_id, dest_kind, dest_user_a, dest_user_b, dest_channel,
		       content, reply_to, is_edited, edited_at, deleted_for_all, created_at
		FROM messages
		WHERE id = $1`

	m, err := scanMessage(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get message %d: %w", id, err)
	}
	return m, nil
}

// LoadMessages returns the messages of a destination with id greater than
// sinceID, in ascending id order, excluding those the viewer suppressed with
// delete-for-me. This is the client's recovery path after a reconnect.
func (p *Postgres) LoadMessages(ctx context.Context, dest event.Destination, sinceID int64, limit int, viewerID string) ([]Message, error) {
	const query = `
		SELECT id, sender_id, dest_kind, dest_user_a, dest_user_b, dest_channel,
		       content, reply_to, is_edited, edited_at, deleted_for_all, created_at
		FROM messages m
		WHERE dest_key = $1
		  AND id > $2
		  AND NOT EXISTS (
		      SELECT 1 FROM message_suppressions s
		      WHERE s.message_id = m.id AND s.user_id = $3)
		ORDER BY id ASC
		LIMIT $4`

	rows, err := p.db.QueryContext(ctx, query, dest.Key(), sinceID, viewerID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: load messages %s: %w", dest.Key(), err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MarkEdited records an in-place edit and its timestamp.
func (p *Postgres) MarkEdited(ctx context.Context, id int64, content string, editedAt time.Time) error {
	const query = `
		UPDATE messages
		SET content = $2, is_edited = TRUE, edited_at = $3
		WHERE id = $1`

	res, err := p.db.ExecContext(ctx, query, id, content, editedAt)
	if err != nil {
		return fmt.Errorf("store: mark edited %d: %w", id, err)
	}
	return requireRow(res)
}

// MarkDeletedForAll sets the durable soft-delete flag. The row is preserved
// for reply-to and reaction referential integrity.
func (p *Postgres) MarkDeletedForAll(ctx context.Context, id int64) error {
	const query = `UPDATE messages SET deleted_for_all = TRUE WHERE id = $1`

	res, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: mark deleted %d: %w", id, err)
	}
	return requireRow(res)
}

// SuppressForViewer hides a message from one viewer's history pulls.
func (p *Postgres) SuppressForViewer(ctx context.Context, id int64, viewerID string) error {
	const query = `
		INSERT INTO message_suppressions (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := p.db.ExecContext(ctx, query, id, viewerID); err != nil {
		return fmt.Errorf("store: suppress %d for %s: %w", id, viewerID, err)
	}
	return nil
}

// ChannelMembers returns the membership snapshot of a channel. Unknown
// channels yield an empty set.
func (p *Postgres) ChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	const query = `SELECT user_id FROM channel_members WHERE channel_id = $1`

	rows, err := p.db.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: channel members %s: %w", channelID, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("store: scan member: %w", err)
		}
		members = append(members, u)
	}
	return members, rows.Err()
}

// AddChannelMember adds a user to a channel, idempotently.
func (p *Postgres) AddChannelMember(ctx context.Context, channelID, userID string) error {
	const query = `
		INSERT INTO channel_members (channel_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := p.db.ExecContext(ctx, query, channelID, userID); err != nil {
		return fmt.Errorf("store: add member %s to %s: %w", userID, channelID, err)
	}
	return nil
}

// RemoveChannelMember removes a user from a channel.
func (p *Postgres) RemoveChannelMember(ctx context.Context, channelID, userID string) error {
	const query = `DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2`

	if _, err := p.db.ExecContext(ctx, query, channelID, userID); err != nil {
		return fmt.Errorf("store: remove member %s from %s: %w", userID, channelID, err)
	}
	return nil
}

// AllUserIDs returns every known user identity (broadcast resolution).
func (p *Postgres) AllUserIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id FROM users`)
	if err != nil {
		return nil, fmt.Errorf("store: all users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUserReaction returns the emoji a user currently has on a message, or
// ErrNotFound.
func (p *Postgres) GetUserReaction(ctx context.Context, messageID int64, userID string) (string, error) {
	const query = `SELECT emoji FROM message_reactions WHERE message_id = $1 AND user_id = $2`

	var emoji string
	err := p.db.QueryRowContext(ctx, query, messageID, userID).Scan(&emoji)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get reaction: %w", err)
	}
	return emoji, nil
}

// SetReaction inserts or replaces the user's reaction on a message.
func (p *Postgres) SetReaction(ctx context.Context, messageID int64, userID, emoji string) error {
	const query = `
		INSERT INTO message_reactions (message_id, user_id, emoji)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji`

	if _, err := p.db.ExecContext(ctx, query, messageID, userID, emoji); err != nil {
		return fmt.Errorf("store: set reaction: %w", err)
	}
	return nil
}

// RemoveReaction deletes the user's reaction on a message.
func (p *Postgres) RemoveReaction(ctx context.Context, messageID int64, userID string) error {
	const query = `DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2`

	if _, err := p.db.ExecContext(ctx, query, messageID, userID); err != nil {
		return fmt.Errorf("store: remove reaction: %w", err)
	}
	return nil
}

// ReactionCounts returns the number of reaction records per emoji for a
// message. Counting records (not distinct emoji sightings) is what keeps two
// users' identical reactions counted as two.
func (p *Postgres) ReactionCounts(ctx context.Context, messageID int64) (map[string]int, error) {
	const query = `
		SELECT emoji, COUNT(*)
		FROM message_reactions
		WHERE message_id = $1
		GROUP BY emoji`

	rows, err := p.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: reaction counts %d: %w", messageID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var emoji string
		var n int
		if err := rows.Scan(&emoji, &n); err != nil {
			return nil, fmt.Errorf("store: scan reaction count: %w", err)
		}
		counts[emoji] = n
	}
	return counts, rows.Err()
}

// LoadSettings returns the user's settings, or defaults when none are saved.
func (p *Postgres) LoadSettings(ctx context.Context, userID string) (settings.Settings, error) {
	const query = `
		SELECT theme, language, notifications_enabled, sound_enabled,
		       auto_save_drafts, privacy_level, animations_enabled, compact_mode
		FROM user_settings
		WHERE user_id = $1`

	var s settings.Settings
	err := p.db.QueryRowContext(ctx, query, userID).Scan(
		&s.Theme, &s.Language, &s.NotificationsEnabled, &s.SoundEnabled,
		&s.AutoSaveDrafts, &s.PrivacyLevel, &s.AnimationsEnabled, &s.CompactMode,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.Defaults(), nil
	}
	if err != nil {
		return settings.Settings{}, fmt.Errorf("store: load settings %s: %w", userID, err)
	}
	return s, nil
}

// SaveSettings upserts the user's settings record.
func (p *Postgres) SaveSettings(ctx context.Context, userID string, s settings.Settings) error {
	const query = `
		INSERT INTO user_settings
			(user_id, theme, language, notifications_enabled, sound_enabled,
			 auto_save_drafts, privacy_level, animations_enabled, compact_mode, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			theme = EXCLUDED.theme,
			language = EXCLUDED.language,
			notifications_enabled = EXCLUDED.notifications_enabled,
			sound_enabled = EXCLUDED.sound_enabled,
			auto_save_drafts = EXCLUDED.auto_save_drafts,
			privacy_level = EXCLUDED.privacy_level,
			animations_enabled = EXCLUDED.animations_enabled,
			compact_mode = EXCLUDED.compact_mode,
			updated_at = NOW()`

	_, err := p.db.ExecContext(ctx, query, userID,
		s.Theme, s.Language, s.NotificationsEnabled, s.SoundEnabled,
		s.AutoSaveDrafts, s.PrivacyLevel, s.AnimationsEnabled, s.CompactMode)
	if err != nil {
		return fmt.Errorf("store: save settings %s: %w", userID, err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*Message, error) {
	var (
		m        Message
		kind     string
		userA    sql.NullString
		userB    sql.NullString
		channel  sql.NullString
		replyTo  sql.NullInt64
		editedAt sql.NullTime
	)

	err := row.Scan(&m.ID, &m.SenderID, &kind, &userA, &userB, &channel,
		&m.Content, &replyTo, &m.IsEdited, &editedAt, &m.DeletedForAll, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.Destination = event.Destination{
		Kind:      kind,
		UserA:     userA.String,
		UserB:     userB.String,
		ChannelID: channel.String,
	}
	if replyTo.Valid {
		m.ReplyTo = &replyTo.Int64
	}
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	return &m, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
