package push

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"notifysync/internal/cache"
)

// TokenSource abstracts the device side of push registration: whether
// this is a physical device, whether the user granted notification
// permission, and the platform push token itself.
type TokenSource interface {
	IsPhysicalDevice() bool
	RequestPermission(ctx context.Context) (bool, error)
	Token(ctx context.Context) (token, platform string, err error)
}

// TokenStore is the backend side, satisfied by
// repository.DeviceTokenRepository.
type TokenStore interface {
	Exists(ctx context.Context, userID, token string) (bool, error)
	Insert(ctx context.Context, userID, token, platform string) error
}

// Registrar obtains a platform push token and registers it with the
// backend. Registration is best-effort end to end: a failure must never
// block app usage, so errors are logged and an empty token is returned.
type Registrar struct {
	source TokenSource
	store  TokenStore
	flags  cache.Store
	logger *zap.Logger
}

func NewRegistrar(source TokenSource, store TokenStore, flags cache.Store, logger *zap.Logger) *Registrar {
	return &Registrar{
		source: source,
		store:  store,
		flags:  flags,
		logger: logger,
	}
}

// Register requests permission and resolves the platform token.
// Returns an empty token, without error, on simulators and on
// permission denial; the caller decides whether to prompt again.
func (r *Registrar) Register(ctx context.Context) (string, string, error) {
	if !r.source.IsPhysicalDevice() {
		r.logger.Debug("Push registration skipped on non-physical device")
		return "", "", nil
	}

	granted, err := r.source.RequestPermission(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to request push permission: %w", err)
	}
	if !granted {
		r.logger.Info("Push permission denied")
		return "", "", nil
	}

	token, platform, err := r.source.Token(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve push token: %w", err)
	}

	return token, platform, nil
}

// SendToken upserts the (user, token) pair: an existing pair is a
// no-op, otherwise a new row is created. Errors are logged and
// swallowed.
func (r *Registrar) SendToken(ctx context.Context, userID, token, platform string) {
	if token == "" || userID == "" {
		return
	}

	exists, err := r.store.Exists(ctx, userID, token)
	if err != nil {
		r.logger.Warn("Device token existence check failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}
	if exists {
		r.logger.Debug("Device token already registered", zap.String("user_id", userID))
		return
	}

	if err := r.store.Insert(ctx, userID, token, platform); err != nil {
		r.logger.Warn("Device token registration failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func registeredFlagKey(userID string) string {
	return fmt.Sprintf("notifications:push_registered:%s", userID)
}

// AlreadyRegistered reports whether this user completed registration on
// this device before.
func (r *Registrar) AlreadyRegistered(ctx context.Context, userID string) bool {
	_, found, err := r.flags.Get(ctx, registeredFlagKey(userID))
	if err != nil {
		r.logger.Warn("Failed to read push registration flag", zap.Error(err))
		return false
	}
	return found
}

// MarkRegistered records the per-user registration flag.
func (r *Registrar) MarkRegistered(ctx context.Context, userID string) {
	if err := r.flags.Set(ctx, registeredFlagKey(userID), "1"); err != nil {
		r.logger.Warn("Failed to persist push registration flag", zap.Error(err))
	}
}
