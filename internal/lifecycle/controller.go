package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"notifysync/internal/model"
	"notifysync/internal/syncer"
)

const DefaultStaleAfter = 2 * time.Minute

// RealtimeManager is the slice of realtime.Manager the controller drives.
type RealtimeManager interface {
	Connect(ctx context.Context, userID string) error
	Disconnect()
	Connected() bool
}

// PushRegistrar is the slice of push.Registrar the controller drives.
type PushRegistrar interface {
	Register(ctx context.Context) (token, platform string, err error)
	SendToken(ctx context.Context, userID, token, platform string)
	AlreadyRegistered(ctx context.Context, userID string) bool
	MarkRegistered(ctx context.Context, userID string)
}

// Controller reacts to app foreground/background transitions and to
// login/logout. It is the only component that drives reconnection of
// the realtime channel; the channel itself never retries.
type Controller struct {
	sync       *syncer.Syncer
	realtime   RealtimeManager
	registrar  PushRegistrar
	logger     *zap.Logger
	staleAfter time.Duration
	now        func() time.Time

	mu        sync.Mutex
	lastState model.AppState
}

func NewController(s *syncer.Syncer, rt RealtimeManager, reg PushRegistrar, logger *zap.Logger) *Controller {
	return &Controller{
		sync:       s,
		realtime:   rt,
		registrar:  reg,
		logger:     logger,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		lastState:  model.AppStateInactive,
	}
}

// SetStaleAfter overrides the staleness gate for foreground refreshes.
func (c *Controller) SetStaleAfter(d time.Duration) {
	if d > 0 {
		c.staleAfter = d
	}
}

// OnAppStateChange handles a foreground state transition reported by
// the host application.
func (c *Controller) OnAppStateChange(ctx context.Context, state model.AppState) {
	c.mu.Lock()
	prev := c.lastState
	c.lastState = state
	c.mu.Unlock()

	switch state {
	case model.AppStateActive:
		c.sync.SetForegrounded(true)
		if prev == model.AppStateBackground || prev == model.AppStateInactive {
			c.onForeground(ctx)
		}
	case model.AppStateBackground, model.AppStateInactive:
		// Suppresses the push mirror while the OS channel takes over.
		c.sync.SetForegrounded(false)
	}
}

func (c *Controller) onForeground(ctx context.Context) {
	userID := c.sync.UserID()
	if userID == "" {
		return
	}

	if !c.realtime.Connected() {
		c.logger.Info("Foreground transition, reconnecting realtime channel",
			zap.String("user_id", userID),
		)
		if err := c.realtime.Connect(ctx, userID); err != nil {
			c.logger.Warn("Realtime reconnect failed", zap.Error(err))
		}
	}

	lastUpdated := c.sync.LastUpdated()
	if lastUpdated.IsZero() || c.now().Sub(lastUpdated) > c.staleAfter {
		c.logger.Debug("Notification list stale, refreshing silently")
		if err := c.sync.Refresh(ctx, true); err != nil {
			// Silent refresh never surfaces errors.
			c.logger.Warn("Silent refresh failed", zap.Error(err))
		}
	}
}

// OnLogin wires up all per-user state: cache warm-up, realtime channel,
// conditional push registration, and an initial non-silent refresh
// whose error is surfaced to the caller.
func (c *Controller) OnLogin(ctx context.Context, userID string) error {
	c.sync.SetUser(userID)
	c.sync.LoadCache(ctx)

	if err := c.realtime.Connect(ctx, userID); err != nil {
		c.logger.Warn("Realtime connect on login failed", zap.Error(err))
	}

	if !c.registrar.AlreadyRegistered(ctx, userID) {
		token, platform, err := c.registrar.Register(ctx)
		if err != nil {
			c.logger.Warn("Push registration failed", zap.Error(err))
		} else if token != "" {
			c.registrar.SendToken(ctx, userID, token, platform)
			c.registrar.MarkRegistered(ctx, userID)
		}
	}

	return c.sync.Refresh(ctx, false)
}

// OnLogout tears down the realtime channel and clears all local
// notification state.
func (c *Controller) OnLogout(ctx context.Context) {
	c.realtime.Disconnect()
	c.sync.ClearAll(ctx)
	c.sync.SetUser("")
}
