package user

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/pkg/hash"
	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// SQLiteStore is the durable Store backend, following the same
// database/sql + mattn/go-sqlite3 access pattern as
// Pyr33x-goqtt/internal/auth/auth.go.
type SQLiteStore struct {
	db       *sql.DB
	hashCost int
}

func NewSQLiteStore(db *sql.DB, hashCost int) (*SQLiteStore, error) {
	if hashCost <= 0 {
		hashCost = hash.DefaultCost
	}
	s := &SQLiteStore{db: db, hashCost: hashCost}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	enabled INTEGER NOT NULL,
	is_admin INTEGER NOT NULL,
	global_subscribe INTEGER NOT NULL,
	global_publish INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS acl_rules (
	username TEXT NOT NULL,
	filter_pattern TEXT NOT NULL,
	allow_subscribe INTEGER NOT NULL,
	allow_publish INTEGER NOT NULL,
	priority INTEGER NOT NULL,
	PRIMARY KEY (username, filter_pattern)
);`)
	return err
}

func (s *SQLiteStore) FindUser(ctx context.Context, username string) (*model.User, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT username, password_hash, enabled, is_admin,
		global_subscribe, global_publish FROM users WHERE username = ?`, username)

	var u model.User
	err := row.Scan(&u.Username, &u.PasswordHash, &u.Enabled, &u.IsAdmin,
		&u.GlobalSubscribe, &u.GlobalPublish)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mqtterr.Wrap(mqtterr.KindStorageTransient, "user.FindUser", 0, err)
	}
	return &u, true, nil
}

func (s *SQLiteStore) ValidatePassword(ctx context.Context, username, password string) (bool, error) {
	u, ok, err := s.FindUser(ctx, username)
	if err != nil {
		return false, err
	}
	if !ok || !u.Enabled {
		return false, nil
	}
	return hash.VerifyPassword(u.PasswordHash, password), nil
}

func (s *SQLiteStore) SaveUser(ctx context.Context, u *model.User, plaintextPassword string) error {
	passwordHash := u.PasswordHash
	if plaintextPassword != "" {
		h, err := hash.HashPassword(plaintextPassword, s.hashCost)
		if err != nil {
			return err
		}
		passwordHash = h
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (username, password_hash, enabled, is_admin, global_subscribe, global_publish)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(username) DO UPDATE SET
	password_hash=excluded.password_hash,
	enabled=excluded.enabled,
	is_admin=excluded.is_admin,
	global_subscribe=excluded.global_subscribe,
	global_publish=excluded.global_publish`,
		u.Username, passwordHash, u.Enabled, u.IsAdmin, u.GlobalSubscribe, u.GlobalPublish)
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "user.SaveUser", 0, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, username string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "user.DeleteUser", 0, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE username = ?", username); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "user.DeleteUser", 0, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM acl_rules WHERE username = ?", username); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "user.DeleteUser", 0, err)
	}
	if err := tx.Commit(); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "user.DeleteUser", 0, err)
	}
	return nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, password_hash, enabled, is_admin,
		global_subscribe, global_publish FROM users`)
	if err != nil {
		return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "user.ListUsers", 0, err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.Enabled, &u.IsAdmin,
			&u.GlobalSubscribe, &u.GlobalPublish); err != nil {
			return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "user.ListUsers", 0, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *SQLiteStore) ListAclRules(ctx context.Context, username string) ([]model.AclRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, filter_pattern, allow_subscribe,
		allow_publish, priority FROM acl_rules WHERE username = ?`, username)
	if err != nil {
		return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "user.ListAclRules", 0, err)
	}
	defer rows.Close()

	var out []model.AclRule
	for rows.Next() {
		var r model.AclRule
		if err := rows.Scan(&r.Username, &r.FilterPattern, &r.AllowSubscribe,
			&r.AllowPublish, &r.Priority); err != nil {
			return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "user.ListAclRules", 0, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLiteStore) SaveAclRule(ctx context.Context, rule model.AclRule) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO acl_rules (username, filter_pattern, allow_subscribe, allow_publish, priority)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(username, filter_pattern) DO UPDATE SET
	allow_subscribe=excluded.allow_subscribe,
	allow_publish=excluded.allow_publish,
	priority=excluded.priority`,
		rule.Username, rule.FilterPattern, rule.AllowSubscribe, rule.AllowPublish, rule.Priority)
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "user.SaveAclRule", 0, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAclRule(ctx context.Context, username, filterPattern string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM acl_rules WHERE username = ? AND filter_pattern = ?`,
		username, filterPattern)
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "user.DeleteAclRule", 0, err)
	}
	return nil
}
