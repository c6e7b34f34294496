// Package di provides dependency injection configuration for the Invite Warden server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/invitewarden/invitewarden-server/internal/config"
	"github.com/invitewarden/invitewarden-server/internal/di/providers"
	"github.com/invitewarden/invitewarden-server/internal/ledger"
	"github.com/invitewarden/invitewarden-server/internal/logger"
	"github.com/invitewarden/invitewarden-server/internal/reconcile"
	"github.com/invitewarden/invitewarden-server/internal/rules"
	"github.com/invitewarden/invitewarden-server/internal/tracker"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideLedger)

	// Rules layer
	do.Provide(injector, providers.ProvideRuleSource)
	do.Provide(injector, providers.ProvideRuleEngine)

	// Directory layer
	do.Provide(injector, providers.ProvideDirectory)

	// Pipeline
	do.Provide(injector, providers.ProvideReconciler)
	do.Provide(injector, providers.ProvideEventSource)
	do.Provide(injector, providers.ProvideTracker)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns handles for lifecycle management.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*ledger.Ledger](injector)
	_ = do.MustInvoke[*providers.RuleSourceHandle](injector)
	_ = do.MustInvoke[*rules.Engine](injector)
	_ = do.MustInvoke[*reconcile.Reconciler](injector)
	_ = do.MustInvoke[*tracker.ChannelSource](injector)
	_ = do.MustInvoke[*providers.TrackerHandle](injector)
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	return nil
}
