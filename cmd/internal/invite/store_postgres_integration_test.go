package invite

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"dasma/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// Integration tests are enabled when DASMA_DATABASE_URL is set.

func TestPostgresStore_GetForSendAndMarkSent(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	st, err := NewPostgresStore(pool, WithSchema(schema))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	mustExec(t, pool, `INSERT INTO `+pgIdent(schema, "projects")+` (id, partner1_name, partner2_name, wedding_date, venue)
		VALUES ('p1', 'Drita', 'Blerim', '2026-08-15', 'Hotel Emerald')`)
	mustExec(t, pool, `INSERT INTO `+pgIdent(schema, "guests")+` (id, project_id, name, phone) VALUES
		('g1', 'p1', 'Arta', '+38344123456'), ('g2', 'p1', 'Besa', NULL)`)
	mustExec(t, pool, `INSERT INTO `+pgIdent(schema, "invitations")+` (id, project_id, guest_id, token) VALUES
		('i1', 'p1', 'g1', 'tok-1'), ('i2', 'p1', 'g2', 'tok-2')`)

	inv, err := st.GetForSend(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, "Arta", inv.GuestName)
	require.Equal(t, "+38344123456", inv.Phone)
	require.Equal(t, "Drita", inv.Partner1)
	require.Equal(t, 2026, inv.EventDate.Year())
	require.Equal(t, time.August, inv.EventDate.Month())
	require.Nil(t, inv.SentAt)

	inv, err = st.GetForSend(ctx, "i2")
	require.NoError(t, err)
	require.Empty(t, inv.Phone)

	_, err = st.GetForSend(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, st.MarkSent(ctx, "i1", ChannelWhatsApp, at))
	inv, err = st.GetForSend(ctx, "i1")
	require.NoError(t, err)
	require.NotNil(t, inv.SentAt)
	require.True(t, at.Equal(*inv.SentAt))
	require.Equal(t, ChannelWhatsApp, inv.SentVia)

	require.ErrorIs(t, st.MarkSent(ctx, "nope", ChannelWhatsApp, at), ErrNotFound)
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("DASMA_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: DASMA_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if os.Getenv("CI") == "" {
			t.Skipf("integration test skipped: postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}
	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := ids.NewULID(time.Time{})
	require.NoError(t, err)
	schema := "dasma_it_" + strings.ToLower(id)

	mustExec(t, pool, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize())
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

// mustApplySchema creates the tables PostgresStore reads.
// Keep aligned with db/schema.sql.
func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	projects := pgIdent(schema, "projects")
	guests := pgIdent(schema, "guests")

	mustExec(t, pool, `
CREATE TABLE `+projects+` (
  id            TEXT PRIMARY KEY,
  partner1_name TEXT NOT NULL DEFAULT '',
  partner2_name TEXT NOT NULL DEFAULT '',
  wedding_date  DATE,
  venue         TEXT NOT NULL DEFAULT ''
);
CREATE TABLE `+guests+` (
  id         TEXT PRIMARY KEY,
  project_id TEXT NOT NULL REFERENCES `+projects+`(id) ON DELETE CASCADE,
  name       TEXT NOT NULL,
  phone      TEXT
);
CREATE TABLE `+pgIdent(schema, "invitations")+` (
  id         TEXT PRIMARY KEY,
  project_id TEXT NOT NULL REFERENCES `+projects+`(id) ON DELETE CASCADE,
  guest_id   TEXT NOT NULL REFERENCES `+guests+`(id) ON DELETE CASCADE,
  token      TEXT NOT NULL UNIQUE,
  sent_at    TIMESTAMPTZ,
  sent_via   TEXT
);`)
}

func mustExec(t *testing.T, pool *pgxpool.Pool, sql string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, sql); err != nil {
		t.Fatalf("exec: %v", err)
	}
}
