package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebridge-au/carebridge/libs/db"
)

type Post struct {
	ID         string
	AuthorID   string
	AuthorRole string
	GroupID    string
	Body       string
	CreatedAt  time.Time
}

type Group struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	MemberCount int
	CreatedAt   time.Time
}

type ActivityEntry struct {
	ID            int64
	EventType     string
	BookingID     string
	ProviderID    string
	ParticipantID string
	OccurredAt    time.Time
}

type FeedRepository struct {
	pool *db.Pool
}

func NewFeedRepository(pool *db.Pool) *FeedRepository {
	return &FeedRepository{pool: pool}
}

func (r *FeedRepository) CreatePost(ctx context.Context, post Post) (Post, error) {
	post.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO posts (id, author_id, author_role, group_id, body)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5)
		RETURNING created_at
	`, post.ID, post.AuthorID, post.AuthorRole, post.GroupID, post.Body).Scan(&post.CreatedAt)
	if err != nil {
		return Post{}, err
	}
	return post, nil
}

// ListPosts returns the newest posts first. groupID filters to one group;
// empty groupID returns the global feed (posts without a group).
func (r *FeedRepository) ListPosts(ctx context.Context, groupID string, before time.Time, limit int) ([]Post, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, author_id, author_role, COALESCE(group_id::text, ''), body, created_at
		FROM posts
		WHERE ($1 = '' AND group_id IS NULL OR group_id::text = $1)
		  AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, groupID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.AuthorRole, &p.GroupID, &p.Body, &p.CreatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (r *FeedRepository) CreateGroup(ctx context.Context, group Group) (Group, error) {
	group.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO groups (id, name, description, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, group.ID, group.Name, group.Description, group.OwnerID).Scan(&group.CreatedAt)
	if err != nil {
		return Group{}, err
	}

	// The owner is always a member.
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, group.ID, group.OwnerID); err != nil {
		return Group{}, err
	}
	group.MemberCount = 1
	return group, nil
}

func (r *FeedRepository) JoinGroup(ctx context.Context, groupID string, userID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, groupID, userID)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23503" {
			return pgx.ErrNoRows
		}
		return err
	}
	return nil
}

func (r *FeedRepository) ListGroups(ctx context.Context, limit int) ([]Group, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT g.id, g.name, g.description, g.owner_id, g.created_at, COUNT(m.user_id)
		FROM groups g
		LEFT JOIN group_members m ON m.group_id = g.id
		GROUP BY g.id
		ORDER BY g.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.OwnerID, &g.CreatedAt, &g.MemberCount); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *FeedRepository) InsertActivity(ctx context.Context, tx pgx.Tx, entry ActivityEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO activity_entries (event_type, booking_id, provider_id, participant_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.EventType, entry.BookingID, entry.ProviderID, entry.ParticipantID, entry.OccurredAt)
	return err
}

// ListActivity returns activity visible to the caller. Providers see events
// for their own provider_id, participants for their own participant_id.
func (r *FeedRepository) ListActivity(ctx context.Context, providerID string, participantID string, limit int) ([]ActivityEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, booking_id, provider_id, participant_id, occurred_at
		FROM activity_entries
		WHERE ($1 <> '' AND provider_id = $1) OR ($2 <> '' AND participant_id = $2)
		ORDER BY occurred_at DESC
		LIMIT $3
	`, providerID, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.BookingID, &e.ProviderID, &e.ParticipantID, &e.OccurredAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
