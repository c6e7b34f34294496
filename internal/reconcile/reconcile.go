// Package reconcile compares the reward roles an inviter should hold with
// the roles they actually hold, and applies the minimal set of role
// mutations to close the gap.
package reconcile

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/invitewarden/invitewarden-server/internal/directory"
	"github.com/invitewarden/invitewarden-server/internal/domain"
	"github.com/invitewarden/invitewarden-server/internal/errors"
	"github.com/invitewarden/invitewarden-server/internal/id"
	"github.com/invitewarden/invitewarden-server/internal/ledger"
	"github.com/invitewarden/invitewarden-server/internal/rules"
)

// retroactiveConcurrency bounds how many inviters a retroactive pass
// evaluates at once. Per-inviter locks still serialize against incremental
// events, so the pass never blocks the whole guild.
const retroactiveConcurrency = 4

// RuleProvider supplies the currently configured rules.
type RuleProvider interface {
	Rules() []rules.Rule
}

// Reconciler drives rule evaluation and role application for inviters.
type Reconciler struct {
	directory directory.Directory
	ledger    *ledger.Ledger
	engine    *rules.Engine
	provider  RuleProvider
	logger    *slog.Logger
	locks     *lockTable
}

// New creates a reconciler.
func New(dir directory.Directory, led *ledger.Ledger, engine *rules.Engine, provider RuleProvider, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		directory: dir,
		ledger:    led,
		engine:    engine,
		provider:  provider,
		logger:    logger,
		locks:     newLockTable(),
	}
}

// ReconcileInviter runs an incremental pass for one inviter: load the
// invitee set, evaluate every rule against the invitees still present in
// the guild, and apply the resulting role changes.
//
// The per-inviter critical section spans the whole load→evaluate→apply
// sequence so a concurrent join and leave for the same inviter cannot
// interleave.
func (r *Reconciler) ReconcileInviter(ctx context.Context, guildID, inviterID string) error {
	unlock := r.locks.acquire(guildID + ":" + inviterID)
	defer unlock()

	inviteeIDs, err := r.ledger.InviteesOf(ctx, guildID, inviterID)
	if err != nil {
		return err
	}

	invitees := make([]*domain.Member, 0, len(inviteeIDs))
	for _, id := range inviteeIDs {
		member, err := r.directory.FetchMember(ctx, guildID, id)
		if err != nil {
			// Left the guild, or a transient fetch failure: either way
			// the invitee does not count toward any rule this pass.
			if !errors.Is(err, errors.ErrNotFound) && r.logger != nil {
				r.logger.Warn("Invitee fetch failed, excluding from evaluation",
					"guild_id", guildID,
					"invitee_id", id,
					"error", err,
				)
			}
			continue
		}
		invitees = append(invitees, member)
	}

	resolved, err := r.resolveRules(ctx, guildID)
	if err != nil {
		return err
	}

	return r.apply(ctx, guildID, inviterID, resolved, invitees)
}

// Retroactive recomputes reward state for every inviter with at least one
// recorded invitee, generating a fresh pass id for the pass's log lines.
func (r *Reconciler) Retroactive(ctx context.Context, guildID string) error {
	return r.RetroactivePass(ctx, guildID, id.MustGenerate("pass"))
}

// RetroactivePass is Retroactive with a caller-supplied pass id, so the
// admin surface can hand the id back to the operator for log correlation.
//
// Guild membership and roles are fetched once and shared across all
// inviters, so the pass costs O(inviters) directory reads instead of
// O(rules × invitees), and every rule for a given inviter sees the same
// membership snapshot. A failure for one inviter is logged and skipped, not
// propagated, so one flaky directory call cannot abort reward recomputation
// for the rest of the guild.
func (r *Reconciler) RetroactivePass(ctx context.Context, guildID, passID string) error {
	inviters, err := r.ledger.AllInviters(ctx, guildID)
	if err != nil {
		return err
	}
	if len(inviters) == 0 {
		return nil
	}

	members, err := r.directory.ListMembers(ctx, guildID)
	if err != nil {
		return err
	}
	membersByID := make(map[string]*domain.Member, len(members))
	for _, m := range members {
		membersByID[m.ID] = m
	}

	resolved, err := r.resolveRules(ctx, guildID)
	if err != nil {
		return err
	}

	if r.logger != nil {
		r.logger.Info("Retroactive reconciliation pass starting",
			"pass_id", passID,
			"guild_id", guildID,
			"inviters", len(inviters),
			"members", len(members),
			"rules", len(resolved),
		)
	}

	var g errgroup.Group
	g.SetLimit(retroactiveConcurrency)

	var failed atomic.Int64
	for _, inviterID := range inviters {
		g.Go(func() error {
			unlock := r.locks.acquire(guildID + ":" + inviterID)
			defer unlock()

			inviteeIDs, err := r.ledger.InviteesOf(ctx, guildID, inviterID)
			if err == nil {
				invitees := make([]*domain.Member, 0, len(inviteeIDs))
				for _, id := range inviteeIDs {
					if m, ok := membersByID[id]; ok {
						invitees = append(invitees, m)
					}
				}
				err = r.apply(ctx, guildID, inviterID, resolved, invitees)
			}
			if err != nil {
				// Skipped, never propagated: the rest of the pass still
				// runs, and the next pass re-derives this inviter's state.
				failed.Add(1)
				if r.logger != nil {
					r.logger.Warn("Retroactive reconciliation failed for inviter, skipping",
						"pass_id", passID,
						"guild_id", guildID,
						"inviter_id", inviterID,
						"error", err,
					)
				}
			}
			return nil
		})
	}

	_ = g.Wait()

	if r.logger != nil {
		r.logger.Info("Retroactive reconciliation pass finished",
			"pass_id", passID,
			"guild_id", guildID,
			"failed_inviters", failed.Load(),
		)
	}
	return nil
}

// resolveRules loads the configured rules and resolves their role selectors
// against the guild's live role list.
func (r *Reconciler) resolveRules(ctx context.Context, guildID string) ([]rules.ResolvedRule, error) {
	configured := r.provider.Rules()
	if len(configured) == 0 {
		return nil, nil
	}

	guildRoles, err := r.directory.ListRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}

	return r.engine.Resolve(guildID, guildRoles, configured), nil
}

// apply evaluates the resolved rules and issues role mutations rule by
// rule. Each rule's decision is applied independently, so when two rules
// target the same reward role the last one processed wins. Mutation
// failures are logged and skipped, never retried within the pass; the next
// triggering event or retroactive run re-derives the same desired state.
func (r *Reconciler) apply(ctx context.Context, guildID, inviterID string, resolved []rules.ResolvedRule, invitees []*domain.Member) error {
	if len(resolved) == 0 {
		return nil
	}

	inviter, err := r.directory.FetchMember(ctx, guildID, inviterID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			// Inviter left the guild; nothing to reconcile.
			return nil
		}
		return err
	}

	held := make(map[string]bool, len(inviter.RoleIDs))
	for _, id := range inviter.RoleIDs {
		held[id] = true
	}

	decisions := r.engine.Evaluate(resolved, invitees)
	for _, d := range decisions {
		switch {
		case d.Desired && !held[d.RewardRoleID]:
			if err := r.directory.AddRole(ctx, guildID, inviterID, d.RewardRoleID); err != nil {
				if r.logger != nil {
					r.logger.Warn("Reward role add failed",
						"guild_id", guildID,
						"inviter_id", inviterID,
						"role_id", d.RewardRoleID,
						"error", err,
					)
				}
				continue
			}
			held[d.RewardRoleID] = true
			if r.logger != nil {
				r.logger.Info("Reward role granted",
					"guild_id", guildID,
					"inviter_id", inviterID,
					"role_id", d.RewardRoleID,
				)
			}

		case !d.Desired && held[d.RewardRoleID]:
			if err := r.directory.RemoveRole(ctx, guildID, inviterID, d.RewardRoleID); err != nil {
				if r.logger != nil {
					r.logger.Warn("Reward role remove failed",
						"guild_id", guildID,
						"inviter_id", inviterID,
						"role_id", d.RewardRoleID,
						"error", err,
					)
				}
				continue
			}
			delete(held, d.RewardRoleID)
			if r.logger != nil {
				r.logger.Info("Reward role revoked",
					"guild_id", guildID,
					"inviter_id", inviterID,
					"role_id", d.RewardRoleID,
				)
			}
		}
	}

	return nil
}
