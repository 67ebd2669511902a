// Package pg is the networked storage engine backed by PostgreSQL. It
// mirrors the embedded engine's semantics exactly: the same error
// taxonomy, uniqueness enforced by database constraints, idempotent
// schema setup.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"econlab.org/internal/auth"
	"econlab.org/internal/econ"
	"econlab.org/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var (
	_ auth.Store   = (*Store)(nil)
	_ econ.Service = (*Store)(nil)
)

// Store implements the storage adapter over a shared connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open pg store: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// Init creates the schema. Re-runnable against an initialized database.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`create table if not exists users (
			id            text primary key,
			username      text not null,
			email         text not null,
			password_hash text not null,
			level         text not null check (level in ('beginner', 'intermediate', 'expert')),
			role          text not null check (role in ('user', 'admin', 'test')),
			home_country  text,
			tenant_id     text not null,
			active        boolean not null default true,
			created_at    timestamptz not null default now(),
			last_login    timestamptz,
			metadata      jsonb
		)`,
		`create unique index if not exists users_email_tenant_idx on users(email, tenant_id)`,
		`create table if not exists country_grants (
			id         text primary key,
			user_id    text not null references users(id),
			country    text not null,
			level      text not null check (level in ('full', 'readonly')),
			granted_by text,
			granted_at timestamptz not null default now(),
			active     boolean not null default true
		)`,
		`create unique index if not exists country_grants_active_idx on country_grants(user_id, country) where active`,
		`create index if not exists country_grants_user_idx on country_grants(user_id)`,
		`create table if not exists sim_indicators (
			id          text primary key,
			country     text not null,
			name        text not null,
			period      text not null,
			value       double precision not null,
			computed_at timestamptz not null default now()
		)`,
		`create index if not exists sim_indicators_country_idx on sim_indicators(country, computed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init pg schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, nu auth.NewUser) (*auth.User, error) {
	meta, err := encodeMetadata(nu.Metadata)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		insert into users (id, username, email, password_hash, level, role, home_country, tenant_id, metadata)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+userColumns,
		ids.New(), nu.Username, nu.Email, nu.PasswordHash, nu.Level, nu.Role,
		nullable(nu.HomeCountry), nu.TenantID, meta,
	)
	u, err := scanUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil, auth.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email, tenantID string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = $1 and tenant_id = $2`, email, tenantID)
	return scanUser(row)
}

func (s *Store) FindUserByID(ctx context.Context, id, tenantID string) (*auth.User, error) {
	if tenantID == "" {
		row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
		return scanUser(row)
	}
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1 and tenant_id = $2`, id, tenantID)
	return scanUser(row)
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate, tenantID string) (*auth.User, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Username != nil {
		setClauses = append(setClauses, fmt.Sprintf("username = $%d", idx))
		args = append(args, *upd.Username)
		idx++
	}
	if upd.Level != nil {
		setClauses = append(setClauses, fmt.Sprintf("level = $%d", idx))
		args = append(args, *upd.Level)
		idx++
	}
	if len(setClauses) == 0 {
		return s.FindUserByID(ctx, id, tenantID)
	}

	query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
	args = append(args, id)
	idx++
	if tenantID != "" {
		query += fmt.Sprintf(` and tenant_id = $%d`, idx)
		args = append(args, tenantID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, auth.ErrNotFound
	}
	return s.FindUserByID(ctx, id, tenantID)
}

func (s *Store) RecordLogin(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login = now() where id = $1`, id)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) ListCountryGrants(ctx context.Context, userID string) ([]auth.CountryGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, country, level, granted_by, granted_at, active
		from country_grants
		where user_id = $1 and active
		order by granted_at asc`, userID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var grants []auth.CountryGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *g)
	}
	return grants, rows.Err()
}

func (s *Store) UpsertCountryGrant(ctx context.Context, userID, country, level, grantedBy string) (*auth.CountryGrant, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into country_grants (id, user_id, country, level, granted_by, granted_at)
		values ($1, $2, $3, $4, $5, now())
		on conflict (user_id, country) where active do update set
			level = excluded.level,
			granted_by = excluded.granted_by,
			granted_at = excluded.granted_at
		returning id, user_id, country, level, granted_by, granted_at, active`,
		uuid.NewString(), userID, country, level, nullable(grantedBy),
	)
	g, err := scanGrant(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("upsert grant: %w", err)
	}
	return g, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for readiness probes.
func (s *Store) DB() *sql.DB { return s.db }

// --- simulation output readout -------------------------------------------

func (s *Store) ListIndicators(ctx context.Context, country string, limit int) ([]econ.Indicator, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, country, name, period, value, computed_at
		from sim_indicators
		where country = $1
		order by computed_at desc
		limit $2`, country, limit)
	if err != nil {
		return nil, fmt.Errorf("list indicators: %w", err)
	}
	defer rows.Close()

	var res []econ.Indicator
	for rows.Next() {
		var ind econ.Indicator
		if err := rows.Scan(&ind.ID, &ind.Country, &ind.Name, &ind.Period, &ind.Value, &ind.ComputedAt); err != nil {
			return nil, err
		}
		res = append(res, ind)
	}
	return res, rows.Err()
}

func (s *Store) RecordIndicator(ctx context.Context, ind econ.Indicator) (econ.Indicator, error) {
	if err := ind.Validate(); err != nil {
		return econ.Indicator{}, err
	}
	if ind.ID == "" {
		ind.ID = uuid.NewString()
	}
	if ind.ComputedAt.IsZero() {
		ind.ComputedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sim_indicators (id, country, name, period, value, computed_at)
		values ($1, $2, $3, $4, $5, $6)`,
		ind.ID, ind.Country, ind.Name, ind.Period, ind.Value, ind.ComputedAt,
	)
	if err != nil {
		return econ.Indicator{}, fmt.Errorf("record indicator: %w", err)
	}
	return ind, nil
}

// --- helpers --------------------------------------------------------------

const userColumns = `id, username, email, password_hash, level, role, home_country, tenant_id, active, created_at, last_login, metadata`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (*auth.User, error) {
	var (
		u           auth.User
		homeCountry sql.NullString
		lastLogin   sql.NullTime
		meta        []byte
	)
	err := sc.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Level, &u.Role,
		&homeCountry, &u.TenantID, &u.Active, &u.CreatedAt, &lastLogin, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	u.HomeCountry = homeCountry.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &u.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &u, nil
}

func scanGrant(sc scanner) (*auth.CountryGrant, error) {
	var (
		g         auth.CountryGrant
		grantedBy sql.NullString
	)
	err := sc.Scan(&g.ID, &g.UserID, &g.Country, &g.Level, &grantedBy, &g.GrantedAt, &g.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	g.GrantedBy = grantedBy.String
	return &g, nil
}

func encodeMetadata(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
