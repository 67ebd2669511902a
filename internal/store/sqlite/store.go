// Package sqlite is the embedded file-backed storage engine. It runs on
// the pure-Go SQLite driver in WAL mode with a busy timeout so
// concurrent writers serialize; uniqueness is enforced by the engine's
// own constraints, never by check-then-insert.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"econlab.org/internal/auth"
	"econlab.org/internal/econ"
	"econlab.org/internal/ids"
)

var (
	_ auth.Store   = (*Store)(nil)
	_ econ.Service = (*Store)(nil)
)

// Store implements the storage adapter over a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database file. Schema setup is a separate
// Init call so opening a handle never mutates an existing store.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return &Store{db: db}, nil
}

// Init creates the schema. Safe to re-run: every statement is
// IF NOT EXISTS.
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
			active        integer not null default 1,
			created_at    text not null,
			last_login    text,
			metadata      text
		)`,
		`create unique index if not exists users_email_tenant_idx on users(email, tenant_id)`,
		`create table if not exists country_grants (
			id         text primary key,
			user_id    text not null references users(id),
			country    text not null,
			level      text not null check (level in ('full', 'readonly')),
			granted_by text,
			granted_at text not null,
			active     integer not null default 1
		)`,
		`create unique index if not exists country_grants_active_idx on country_grants(user_id, country) where active = 1`,
		`create index if not exists country_grants_user_idx on country_grants(user_id)`,
		`create table if not exists sim_indicators (
			id          text primary key,
			country     text not null,
			name        text not null,
			period      text not null,
			value       real not null,
			computed_at text not null
		)`,
		`create index if not exists sim_indicators_country_idx on sim_indicators(country, computed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, nu auth.NewUser) (*auth.User, error) {
	now := time.Now().UTC()
	u := &auth.User{
		ID:           ids.New(),
		Username:     nu.Username,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Level:        nu.Level,
		Role:         nu.Role,
		HomeCountry:  nu.HomeCountry,
		TenantID:     nu.TenantID,
		Active:       true,
		CreatedAt:    now,
		Metadata:     nu.Metadata,
	}
	meta, err := encodeMetadata(nu.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		insert into users (id, username, email, password_hash, level, role, home_country, tenant_id, active, created_at, metadata)
		values (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Level, u.Role,
		nullable(u.HomeCountry), u.TenantID, now.Format(time.RFC3339Nano), meta,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.") {
			return nil, auth.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email, tenantID string) (*auth.User, error) {
	return s.queryUser(ctx, `select `+userColumns+` from users where email = ? and tenant_id = ?`, email, tenantID)
}

func (s *Store) FindUserByID(ctx context.Context, id, tenantID string) (*auth.User, error) {
	if tenantID == "" {
		return s.queryUser(ctx, `select `+userColumns+` from users where id = ?`, id)
	}
	return s.queryUser(ctx, `select `+userColumns+` from users where id = ? and tenant_id = ?`, id, tenantID)
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate, tenantID string) (*auth.User, error) {
	var (
		setClauses []string
		args       []any
	)
	if upd.Username != nil {
		setClauses = append(setClauses, "username = ?")
		args = append(args, *upd.Username)
	}
	if upd.Level != nil {
		setClauses = append(setClauses, "level = ?")
		args = append(args, *upd.Level)
	}
	if len(setClauses) == 0 {
		return s.FindUserByID(ctx, id, tenantID)
	}

	query := `update users set ` + strings.Join(setClauses, ", ") + ` where id = ?`
	args = append(args, id)
	if tenantID != "" {
		query += ` and tenant_id = ?`
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
	res, err := s.db.ExecContext(ctx, `update users set last_login = ? where id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
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
		where user_id = ? and active = 1
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
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into country_grants (id, user_id, country, level, granted_by, granted_at, active)
		values (?, ?, ?, ?, ?, ?, 1)
		on conflict (user_id, country) where active = 1 do update set
			level = excluded.level,
			granted_by = excluded.granted_by,
			granted_at = excluded.granted_at`,
		uuid.NewString(), userID, country, level, nullable(grantedBy), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("upsert grant: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		select id, user_id, country, level, granted_by, granted_at, active
		from country_grants
		where user_id = ? and country = ? and active = 1`, userID, country)
	return scanGrant(row)
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
		where country = ?
		order by computed_at desc
		limit ?`, country, limit)
	if err != nil {
		return nil, fmt.Errorf("list indicators: %w", err)
	}
	defer rows.Close()

	var res []econ.Indicator
	for rows.Next() {
		var (
			ind        econ.Indicator
			computedAt string
		)
		if err := rows.Scan(&ind.ID, &ind.Country, &ind.Name, &ind.Period, &ind.Value, &computedAt); err != nil {
			return nil, err
		}
		ind.ComputedAt, err = time.Parse(time.RFC3339Nano, computedAt)
		if err != nil {
			return nil, fmt.Errorf("parse computed_at: %w", err)
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
		values (?, ?, ?, ?, ?, ?)`,
		ind.ID, ind.Country, ind.Name, ind.Period, ind.Value, ind.ComputedAt.Format(time.RFC3339Nano),
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

func (s *Store) queryUser(ctx context.Context, query string, args ...any) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, query, args...))
}

func scanUser(sc scanner) (*auth.User, error) {
	var (
		u                    auth.User
		homeCountry          sql.NullString
		active               int
		createdAt, lastLogin sql.NullString
		meta                 sql.NullString
	)
	err := sc.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Level, &u.Role,
		&homeCountry, &u.TenantID, &active, &createdAt, &lastLogin, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.HomeCountry = homeCountry.String
	u.Active = active == 1
	if createdAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, createdAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		u.CreatedAt = t
	}
	if lastLogin.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastLogin.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_login: %w", err)
		}
		u.LastLoginAt = &t
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &u.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &u, nil
}

func scanGrant(sc scanner) (*auth.CountryGrant, error) {
	var (
		g         auth.CountryGrant
		grantedBy sql.NullString
		grantedAt string
		active    int
	)
	err := sc.Scan(&g.ID, &g.UserID, &g.Country, &g.Level, &grantedBy, &grantedAt, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("scan grant: %w", err)
	}
	g.GrantedBy = grantedBy.String
	g.Active = active == 1
	t, err := time.Parse(time.RFC3339Nano, grantedAt)
	if err != nil {
		return nil, fmt.Errorf("parse granted_at: %w", err)
	}
	g.GrantedAt = t
	return &g, nil
}

func encodeMetadata(meta map[string]any) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
