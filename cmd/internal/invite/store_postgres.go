package invite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads invitations, guests and projects from PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

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
		return nil, ErrInvalidInput
	}
	return st, nil
}

// GetForSend joins the invitation with its guest and project.
func (s *PostgresStore) GetForSend(ctx context.Context, id string) (Invitation, error) {
	if s == nil || s.pool == nil {
		return Invitation{}, ErrInvalidInput
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Invitation{}, ErrInvalidInput
	}

	var (
		out     Invitation
		phone   pgtype.Text
		sentVia pgtype.Text
		date    pgtype.Date
	)
	err := s.pool.QueryRow(ctx,
		`SELECT i.id, i.project_id, i.guest_id, i.token, i.sent_at, i.sent_via,
		        g.name, g.phone,
		        p.partner1_name, p.partner2_name, p.wedding_date, p.venue
		   FROM `+pgIdent(s.schema, "invitations")+` i
		   JOIN `+pgIdent(s.schema, "guests")+` g ON g.id = i.guest_id
		   JOIN `+pgIdent(s.schema, "projects")+` p ON p.id = i.project_id
		  WHERE i.id = $1`,
		id,
	).Scan(
		&out.ID, &out.ProjectID, &out.GuestID, &out.Token, &out.SentAt, &sentVia,
		&out.GuestName, &phone,
		&out.Partner1, &out.Partner2, &date, &out.Venue,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invitation{}, ErrNotFound
		}
		return Invitation{}, err
	}
	out.Phone = phone.String
	out.SentVia = sentVia.String
	if date.Valid {
		out.EventDate = date.Time
	}
	return out, nil
}

// MarkSent stamps sent_at and sent_via.
func (s *PostgresStore) MarkSent(ctx context.Context, id, via string, at time.Time) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "invitations")+`
		    SET sent_at = $2, sent_via = $3
		  WHERE id = $1`,
		id, at.UTC(), via,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
