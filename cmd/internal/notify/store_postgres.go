package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store, ConditionalInserter and Directory on PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//
// Tables (in the configured schema): notifications, projects,
// project_collaborators, profiles, push_subscriptions.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ ConditionalInserter = (*PostgresStore)(nil)

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "public").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrStoreNotConfigured
	}
	return st, nil
}

// InsertMany writes all records with a single multi-row INSERT.
func (s *PostgresStore) InsertMany(ctx context.Context, recs []Record) error {
	if s == nil || s.pool == nil {
		return ErrStoreNotConfigured
	}
	if len(recs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	notifications := pgIdent(s.schema, "notifications")

	var b strings.Builder
	b.WriteString(`INSERT INTO ` + notifications + ` (id, recipient_id, title, message, seen, created_at) VALUES `)
	args := make([]any, 0, len(recs)*6)
	for i, r := range recs {
		if strings.TrimSpace(r.ID) == "" || strings.TrimSpace(r.RecipientID) == "" {
			return ErrInvalidInput
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 6
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, r.ID, r.RecipientID, r.Title, r.Message, r.Seen, r.CreatedAt)
	}

	if _, err := s.pool.Exec(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	return nil
}

// InsertAbsent writes the records that have no identical message in the window.
// Per (recipient, message) it takes a transaction-scoped advisory lock, so
// concurrent writers across processes cannot both pass the check. Statements go
// out as one batch.
func (s *PostgresStore) InsertAbsent(ctx context.Context, recs []Record, since time.Time) ([]Record, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreNotConfigured
	}
	if len(recs) == 0 {
		return []Record{}, nil
	}
	for _, r := range recs {
		if strings.TrimSpace(r.ID) == "" || strings.TrimSpace(r.RecipientID) == "" {
			return nil, ErrInvalidInput
		}
	}

	ordered := slices.Clone(recs)
	slices.SortFunc(ordered, func(a, b Record) int {
		return strings.Compare(dedupKey(a.RecipientID, a.Message), dedupKey(b.RecipientID, b.Message))
	})

	notifications := pgIdent(s.schema, "notifications")
	insert := `INSERT INTO ` + notifications + ` (id, recipient_id, title, message, seen, created_at)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::boolean, $6::timestamptz
		 WHERE NOT EXISTS (
		   SELECT 1 FROM ` + notifications + `
		    WHERE recipient_id = $2::text
		      AND message = $4::text
		      AND created_at >= $7::timestamptz
		 )`

	batch := &pgx.Batch{}
	for _, r := range ordered {
		batch.Queue(`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, dedupKey(r.RecipientID, r.Message))
		batch.Queue(insert, r.ID, r.RecipientID, r.Title, r.Message, r.Seen, r.CreatedAt, since)
	}

	inserted := make([]Record, 0, len(ordered))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for _, r := range ordered {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("dedup lock: %w", err)
			}
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("insert notification: %w", err)
			}
			if tag.RowsAffected() == 1 {
				inserted = append(inserted, r)
			}
		}
		return br.Close()
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// ExistsSince checks for an identical message in the trailing window.
func (s *PostgresStore) ExistsSince(ctx context.Context, recipientID, message string, since time.Time) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrStoreNotConfigured
	}
	notifications := pgIdent(s.schema, "notifications")

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM `+notifications+`
		    WHERE recipient_id = $1
		      AND message = $2
		      AND created_at >= $3
		 )`,
		recipientID, message, since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return exists, nil
}

// ListByRecipient returns records newest first.
func (s *PostgresStore) ListByRecipient(ctx context.Context, in ListInput) ([]Record, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreNotConfigured
	}
	recipientID := strings.TrimSpace(in.RecipientID)
	if recipientID == "" {
		return nil, ErrInvalidInput
	}
	notifications := pgIdent(s.schema, "notifications")

	rows, err := s.pool.Query(ctx,
		`SELECT id, recipient_id, title, message, seen, created_at
		   FROM `+notifications+`
		  WHERE recipient_id = $1
		    AND ($2 = false OR seen = false)
		  ORDER BY created_at DESC, id DESC
		  LIMIT $3`,
		recipientID, in.UnseenOnly, clampLimit(in.Limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, 16)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.RecipientID, &r.Title, &r.Message, &r.Seen, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkSeen flips seen for the recipient's ids.
func (s *PostgresStore) MarkSeen(ctx context.Context, recipientID string, ids []string) (int, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreNotConfigured
	}
	if strings.TrimSpace(recipientID) == "" {
		return 0, ErrInvalidInput
	}
	if len(ids) == 0 {
		return 0, nil
	}
	notifications := pgIdent(s.schema, "notifications")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+notifications+`
		    SET seen = true
		  WHERE recipient_id = $1
		    AND id = ANY($2)
		    AND seen = false`,
		recipientID, ids,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ProjectStakeholders fetches owner and planners in one round trip.
func (s *PostgresStore) ProjectStakeholders(ctx context.Context, projectID string) (string, []string, error) {
	if s == nil || s.pool == nil {
		return "", nil, ErrStoreNotConfigured
	}
	projects := pgIdent(s.schema, "projects")
	collaborators := pgIdent(s.schema, "project_collaborators")

	var (
		owner    string
		planners []string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT p.owner_id,
		        COALESCE(array_agg(c.user_id ORDER BY c.created_at) FILTER (WHERE c.user_id IS NOT NULL), '{}')
		   FROM `+projects+` p
		   LEFT JOIN `+collaborators+` c
		     ON c.project_id = p.id
		    AND c.role = $2
		  WHERE p.id = $1
		  GROUP BY p.owner_id`,
		projectID, RolePlanner,
	).Scan(&owner, &planners)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("resolve stakeholders: %w", err)
	}
	return owner, planners, nil
}

// EmailFor returns the profile email for a user.
func (s *PostgresStore) EmailFor(ctx context.Context, userID string) (string, error) {
	if s == nil || s.pool == nil {
		return "", ErrStoreNotConfigured
	}
	profiles := pgIdent(s.schema, "profiles")

	var email *string
	err := s.pool.QueryRow(ctx,
		`SELECT email FROM `+profiles+` WHERE id = $1`,
		userID,
	).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	if email == nil || strings.TrimSpace(*email) == "" {
		return "", ErrNotFound
	}
	return strings.TrimSpace(*email), nil
}

// PushSubscriptions lists a user's push endpoints.
func (s *PostgresStore) PushSubscriptions(ctx context.Context, userID string) ([]PushSubscription, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreNotConfigured
	}
	subs := pgIdent(s.schema, "push_subscriptions")

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, endpoint, p256dh, auth
		   FROM `+subs+`
		  WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PushSubscription
	for rows.Next() {
		var sub PushSubscription
		if err := rows.Scan(&sub.RecipientID, &sub.Endpoint, &sub.P256dh, &sub.Auth); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
