package providers

import (
	"context"
	"errors"

	"github.com/samber/do/v2"

	"github.com/invitewarden/invitewarden-server/internal/config"
	"github.com/invitewarden/invitewarden-server/internal/logger"
	"github.com/invitewarden/invitewarden-server/internal/rules"
)

// RuleSourceHandle wraps the rule source with its watcher lifecycle.
type RuleSourceHandle struct {
	*rules.Source
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *RuleSourceHandle) Shutdown() error {
	if h.cancel != nil {
		h.cancel()
	}
	return nil
}

// ProvideRuleSource provides the reward rule source, loaded from disk and
// optionally hot-reloading on file changes.
func ProvideRuleSource(i do.Injector) (*RuleSourceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	source := rules.NewSource(cfg.Rules.Path, log.Logger)
	if err := source.Load(); err != nil {
		return nil, err
	}

	handle := &RuleSourceHandle{Source: source}

	if cfg.Rules.WatchFile {
		ctx, cancel := context.WithCancel(context.Background())
		handle.cancel = cancel

		go func() {
			if err := source.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Rules watcher stopped", "error", err)
			}
		}()

		log.Info("Rules hot reload enabled", "path", cfg.Rules.Path)
	}

	return handle, nil
}

// ProvideRuleEngine provides the rule evaluation engine.
func ProvideRuleEngine(i do.Injector) (*rules.Engine, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return rules.NewEngine(log.Logger), nil
}
