// Package user defines the user-directory and ACL-rule store contract
// (spec.md §4.7) and its SQLite-backed implementation. Grounded on
// Pyr33x-goqtt/internal/auth/auth.go's single-query password-check
// shape, generalized from "authenticate one username" into the full
// CRUD + ACL-rule listing the evaluator needs.
package user

import (
	"context"

	"github.com/vogler75/monstermq/internal/model"
)

type Store interface {
	// FindUser returns the stored user record, or ok=false if absent.
	FindUser(ctx context.Context, username string) (*model.User, bool, error)
	// ValidatePassword reports whether password matches username's
	// stored bcrypt hash. Returns ok=false (never an error) for an
	// unknown username or a wrong password, so callers cannot
	// distinguish the two from the return shape alone.
	ValidatePassword(ctx context.Context, username, password string) (ok bool, err error)

	SaveUser(ctx context.Context, u *model.User, plaintextPassword string) error
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]model.User, error)

	// ListAclRules returns every rule for username, in no particular
	// order; the evaluator sorts by Priority itself.
	ListAclRules(ctx context.Context, username string) ([]model.AclRule, error)
	SaveAclRule(ctx context.Context, rule model.AclRule) error
	DeleteAclRule(ctx context.Context, username, filterPattern string) error
}
