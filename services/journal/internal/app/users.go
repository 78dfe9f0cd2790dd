package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"journalease/pkg/auth"
	"journalease/pkg/domain"
	"journalease/pkg/storage"
	"journalease/pkg/store"
)

// Session is a signed-in user with a fresh session token.
type Session struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// UserPatch holds the optional fields of a profile update.
type UserPatch struct {
	Email *string
	Name  *string
}

// SignUp creates a local account and signs it in.
func (a *App) SignUp(ctx context.Context, email, password, name string) (Session, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || password == "" || name == "" {
		return Session{}, ErrEmailAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return Session{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	now := a.now().UTC()
	user, err := a.store.CreateUser(ctx, domain.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, store.ErrUserExists) {
		return Session{}, ErrEmailAlreadyExists
	}
	if err != nil {
		return Session{}, storageErr("create user", err)
	}
	return a.issue(user)
}

// Login checks local credentials. Unknown emails, wrong passwords and
// externally managed accounts all fail the same way.
func (a *App) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return Session{}, storageErr("get user", err)
	}
	// CheckPassword spends a bcrypt comparison even on an empty hash, so
	// unknown emails take as long as wrong passwords.
	if !auth.CheckPassword(password, user.PasswordHash) || !ok {
		return Session{}, ErrInvalidCredentials
	}
	return a.issue(user)
}

// ForgotPassword issues a reset token when the email belongs to an account.
// The returned token is empty otherwise; callers must answer identically in
// both cases.
func (a *App) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", storageErr("get user", err)
	}
	if !ok {
		return "", nil
	}
	token, err := a.resetTokens.NewToken(ctx, user.ID, a.resetTokenTTL)
	if err != nil {
		return "", storageErr("issue reset token", err)
	}
	a.logger.Info("password reset requested", "user_id", user.ID)
	return token, nil
}

// ResetPassword consumes a reset token and sets a new password.
func (a *App) ResetPassword(ctx context.Context, token, password string) error {
	token = strings.TrimSpace(token)
	if token == "" || password == "" {
		return ErrMissingParameter
	}
	if err := auth.ValidatePassword(password); err != nil {
		return err
	}
	userID, ok, err := a.resetTokens.ConsumeToken(ctx, token)
	if err != nil {
		return storageErr("consume reset token", err)
	}
	if !ok {
		return ErrInvalidResetToken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := a.store.SetPasswordHash(ctx, userID, hash); err != nil {
		return storageErr("set password", err)
	}
	a.logger.Info("password reset completed", "user_id", userID)
	return nil
}

// GetMe returns the caller's profile.
func (a *App) GetMe(ctx context.Context, userID int64) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, storageErr("get user", err)
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

// UpdateMe changes the caller's email or name.
func (a *App) UpdateMe(ctx context.Context, userID int64, patch UserPatch) (domain.User, error) {
	update := store.UserUpdate{UpdatedAt: a.now().UTC()}
	if patch.Email != nil {
		email := normalizeEmail(*patch.Email)
		if email == "" {
			return domain.User{}, ErrEmailRequired
		}
		current, err := a.GetMe(ctx, userID)
		if err != nil {
			return domain.User{}, err
		}
		// Shadow accounts are found by the provider's email claim.
		if email != current.Email && !auth.HasUsablePassword(current.PasswordHash) {
			return domain.User{}, ErrExternalEmail
		}
		update.Email = &email
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		update.Name = &name
	}
	if update.Email == nil && update.Name == nil {
		return domain.User{}, ErrNoFieldsProvided
	}
	user, ok, err := a.store.UpdateUser(ctx, userID, update)
	if errors.Is(err, store.ErrUserExists) {
		return domain.User{}, ErrEmailAlreadyExists
	}
	if err != nil {
		return domain.User{}, storageErr("update user", err)
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

// DeleteMe removes the caller's account and entries, then drops the stored
// audio of those entries. Audio removal is best effort.
func (a *App) DeleteMe(ctx context.Context, userID int64) error {
	entries, ok, err := a.store.DeleteUser(ctx, userID)
	if err != nil {
		return storageErr("delete user", err)
	}
	if !ok {
		return ErrNotFound
	}
	a.logger.Info("account deleted", "user_id", userID, "entries", len(entries))
	if a.audio == nil {
		return nil
	}
	for _, e := range entries {
		if e.LocalPath == nil || !storage.IsAudioKey(*e.LocalPath) {
			continue
		}
		if err := a.audio.Delete(context.WithoutCancel(ctx), *e.LocalPath); err != nil {
			a.logger.Warn("delete audio failed", "user_id", userID, "entry_id", e.ID, "local_path", *e.LocalPath, "err", err)
		}
	}
	return nil
}

func (a *App) issue(user domain.User) (Session, error) {
	token, err := a.signer.Sign(user.ID, user.Email)
	if err != nil {
		return Session{}, fmt.Errorf("sign session: %w", err)
	}
	return Session{Token: token, User: user}, nil
}
