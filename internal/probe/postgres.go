package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres verifies a PostgreSQL server end to end: connect, run a trivial
// catalog query, disconnect. Settings come from the config store under the
// DATABASE key (DB_HOST, DB_PORT, DB_USER, DB_PASS, DB_NAME), falling back
// to the environment.
type Postgres struct {
	src      SettingsSource
	fallback map[string]string
}

// NewPostgres builds the database prober. src may be nil when the gate runs
// without a config store (settings then come entirely from fallback).
func NewPostgres(src SettingsSource, fallback map[string]string) *Postgres {
	return &Postgres{src: src, fallback: fallback}
}

func (p *Postgres) Kind() string { return KindDatabase }

func (p *Postgres) Check(ctx context.Context) error {
	s, err := resolve(ctx, p.src, KindDatabase, p.fallback)
	if err != nil {
		return fmt.Errorf("resolving database settings: %w", err)
	}

	u := url.URL{
		Scheme: "postgres",
		User: url.UserPassword(
			setting(s, "DB_USER", "postgres"),
			setting(s, "DB_PASS", ""),
		),
		Host: net.JoinHostPort(
			setting(s, "DB_HOST", "localhost"),
			setting(s, "DB_PORT", "5432"),
		),
		Path: "/" + setting(s, "DB_NAME", "postgres"),
	}

	conn, err := pgx.Connect(ctx, u.String())
	if err != nil {
		return classifyPG(err)
	}
	defer conn.Close(ctx)

	// Same smoke query the gate has always run: any authenticated session
	// can read pg_database, regardless of schema state.
	var datname string
	if err := conn.QueryRow(ctx, "SELECT datname FROM pg_database LIMIT 1").Scan(&datname); err != nil {
		return classifyPG(err)
	}
	return nil
}

// classifyPG maps SQLSTATE class 28 (invalid authorization) onto ErrAuth
// before falling back to the transport-level classification.
func classifyPG(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "28") {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return classify(err)
}
