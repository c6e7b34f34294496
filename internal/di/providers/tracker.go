package providers

import (
	"context"
	"errors"
	"time"

	"github.com/samber/do/v2"

	"github.com/invitewarden/invitewarden-server/internal/config"
	"github.com/invitewarden/invitewarden-server/internal/directory"
	"github.com/invitewarden/invitewarden-server/internal/ledger"
	"github.com/invitewarden/invitewarden-server/internal/logger"
	"github.com/invitewarden/invitewarden-server/internal/reconcile"
	"github.com/invitewarden/invitewarden-server/internal/rules"
	"github.com/invitewarden/invitewarden-server/internal/tracker"
)

// eventSourceBuffer sizes the gateway event channel.
const eventSourceBuffer = 256

// ProvideReconciler provides the reward role reconciler.
func ProvideReconciler(i do.Injector) (*reconcile.Reconciler, error) {
	dir := do.MustInvoke[directory.Directory](i)
	led := do.MustInvoke[*ledger.Ledger](i)
	engine := do.MustInvoke[*rules.Engine](i)
	ruleSource := do.MustInvoke[*RuleSourceHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return reconcile.New(dir, led, engine, ruleSource.Source, log.Logger), nil
}

// ProvideEventSource provides the channel the gateway adapter publishes into.
func ProvideEventSource(i do.Injector) (*tracker.ChannelSource, error) {
	return tracker.NewChannelSource(eventSourceBuffer), nil
}

// TrackerHandle wraps the tracker with its run loop lifecycle.
type TrackerHandle struct {
	*tracker.Tracker
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable.
func (h *TrackerHandle) Shutdown() error {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(shutdownTimeout):
	}
	return nil
}

// ProvideTracker provides the event tracker and starts its run loop.
func ProvideTracker(i do.Injector) (*TrackerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	led := do.MustInvoke[*ledger.Ledger](i)
	dir := do.MustInvoke[directory.Directory](i)
	rec := do.MustInvoke[*reconcile.Reconciler](i)
	source := do.MustInvoke[*tracker.ChannelSource](i)
	ruleSource := do.MustInvoke[*RuleSourceHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	trk := tracker.New(tracker.Config{
		Store:        storeHandle.Store,
		Ledger:       led,
		Directory:    dir,
		Reconciler:   rec,
		Source:       source,
		Logger:       log.Logger,
		PollInterval: cfg.Tracker.PollInterval,
		GuildIDs:     cfg.Tracker.GuildIDs,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := trk.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Tracker stopped", "error", err)
		}
	}()

	log.Info("Tracker started",
		"guilds", len(cfg.Tracker.GuildIDs),
		"poll_interval", cfg.Tracker.PollInterval,
	)

	// Rule file edits re-derive everyone's reward state.
	ruleSource.OnReload(func() {
		go func() {
			for _, guildID := range cfg.Tracker.GuildIDs {
				if err := rec.Retroactive(ctx, guildID); err != nil {
					log.Error("Post-reload retroactive pass failed", "guild_id", guildID, "error", err)
				}
			}
		}()
	})

	if cfg.Tracker.RetroactiveOnStart {
		go func() {
			for _, guildID := range cfg.Tracker.GuildIDs {
				if err := rec.Retroactive(ctx, guildID); err != nil {
					log.Error("Startup retroactive pass failed", "guild_id", guildID, "error", err)
				}
			}
		}()
	}

	return &TrackerHandle{Tracker: trk, cancel: cancel, done: done}, nil
}
