package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"journalease/pkg/auth"
	"journalease/pkg/domain"
)

// ResolveUserID maps an authenticated principal to the canonical local user id.
//
// Local principals carry the id as their subject. External principals carry
// the identity provider's UUID and are joined to a local row by email; an
// email with no local row means the account was never linked. Resolution
// never writes.
func (a *App) ResolveUserID(ctx context.Context, p domain.Principal) (int64, error) {
	if !p.External() {
		id, err := strconv.ParseInt(strings.TrimSpace(p.Subject), 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidIdentity, p.Subject)
		}
		return id, nil
	}
	if _, err := uuid.Parse(strings.TrimSpace(p.Subject)); err != nil {
		return 0, fmt.Errorf("%w: external subject is not a uuid", ErrInvalidIdentity)
	}
	email := normalizeEmail(p.Email)
	if email == "" {
		return 0, fmt.Errorf("%w: external principal has no email", ErrInvalidIdentity)
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return 0, storageErr("resolve user", err)
	}
	if !ok {
		return 0, ErrUnlinkedExternalAccount
	}
	return user.ID, nil
}

// SyncExternalUser links an external principal to a local user, creating a
// shadow row on first contact. It is idempotent by email: an existing row is
// returned unchanged, whatever credential it holds.
func (a *App) SyncExternalUser(ctx context.Context, p domain.Principal, name string) (domain.User, bool, error) {
	if !p.External() {
		return domain.User{}, false, fmt.Errorf("%w: only external principals can be linked", ErrInvalidIdentity)
	}
	if _, err := uuid.Parse(strings.TrimSpace(p.Subject)); err != nil {
		return domain.User{}, false, fmt.Errorf("%w: external subject is not a uuid", ErrInvalidIdentity)
	}
	email := normalizeEmail(p.Email)
	if email == "" {
		return domain.User{}, false, fmt.Errorf("%w: external principal has no email", ErrInvalidIdentity)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	now := a.now().UTC()
	user, created, err := a.store.CreateUserIfAbsent(ctx, domain.User{
		Email:        email,
		Name:         name,
		PasswordHash: auth.ExternalAccountMarker,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return domain.User{}, false, storageErr("link external user", err)
	}
	if created {
		a.logger.Info("external account linked", "user_id", user.ID, "subject", p.Subject)
	}
	return user, created, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
