package principal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over a principals table:
//
//	id                  TEXT PRIMARY KEY
//	identifier          TEXT NOT NULL UNIQUE  -- normalized
//	password_hash       TEXT NOT NULL
//	token_version       BIGINT NOT NULL DEFAULT 0
//	password_changed_at TIMESTAMPTZ NULL
//	verified            BOOLEAN NOT NULL DEFAULT false
//
// The pool is owned by the caller.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithTable sets the schema-qualified table (default "public"."principals").
// Both names must be plain identifiers.
func WithTable(schema, name string) PostgresOption {
	return func(s *PostgresStore) error {
		schema, name = strings.TrimSpace(schema), strings.TrimSpace(name)
		if !pgIdentRe.MatchString(schema) || !pgIdentRe.MatchString(name) {
			return fmt.Errorf("principal: invalid table identifier %q.%q", schema, name)
		}
		s.table = pgx.Identifier{schema, name}.Sanitize()
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{"public", "principals"}.Sanitize(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("principal: nil pool")
	}
	return st, nil
}

const principalColumns = `id, identifier, password_hash, token_version, password_changed_at, verified`

// Create inserts p. The identifier is normalized.
func (s *PostgresStore) Create(ctx context.Context, p Principal) (Principal, error) {
	if p.ID == "" || p.Identifier == "" {
		return Principal{}, errors.New("principal: id and identifier required")
	}
	p.Identifier = NormalizeIdentifier(p.Identifier)

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table+` (`+principalColumns+`)
		   VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+principalColumns,
		p.ID, p.Identifier, p.PasswordHash, int64(p.TokenVersion), nullTime(p.PasswordChangedAt), p.Verified,
	)
	out, err := scanPrincipal(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Principal{}, ErrConflict
		}
		return Principal{}, fmt.Errorf("principal: create: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Principal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM `+s.table+` WHERE id = $1`, id)
	return s.one(row, "get")
}

func (s *PostgresStore) FindByIdentifier(ctx context.Context, identifier string) (Principal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM `+s.table+` WHERE identifier = $1`,
		NormalizeIdentifier(identifier))
	return s.one(row, "find")
}

func (s *PostgresStore) UpdateCredentials(ctx context.Context, id string, upd CredentialsUpdate) (Principal, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table+`
		    SET password_hash = $2,
		        password_changed_at = $3,
		        token_version = token_version + 1
		  WHERE id = $1 AND token_version = $4
		RETURNING `+principalColumns,
		id, upd.PasswordHash, nullTime(upd.ChangedAt), int64(upd.ExpectedVersion))
	p, err := s.one(row, "update credentials")
	if !errors.Is(err, ErrNotFound) {
		return p, err
	}
	// No row matched: either the principal is gone or its version moved.
	if _, err := s.Get(ctx, id); err != nil {
		return Principal{}, err
	}
	return Principal{}, ErrVersionConflict
}

func (s *PostgresStore) MarkVerified(ctx context.Context, id string) (Principal, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table+` SET verified = true WHERE id = $1 RETURNING `+principalColumns, id)
	return s.one(row, "mark verified")
}

func (s *PostgresStore) one(row pgx.Row, op string) (Principal, error) {
	p, err := scanPrincipal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrNotFound
		}
		return Principal{}, fmt.Errorf("principal: %s: %w", op, err)
	}
	return p, nil
}

func scanPrincipal(row pgx.Row) (Principal, error) {
	var (
		p         Principal
		version   int64
		changedAt *time.Time
	)
	if err := row.Scan(&p.ID, &p.Identifier, &p.PasswordHash, &version, &changedAt, &p.Verified); err != nil {
		return Principal{}, err
	}
	if version > 0 {
		p.TokenVersion = uint64(version)
	}
	if changedAt != nil {
		p.PasswordChangedAt = changedAt.UTC()
	}
	return p, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
