package rules

import (
	"log/slog"

	"github.com/invitewarden/invitewarden-server/internal/domain"
)

// Decision is one rule's verdict for an inviter: whether the reward role
// should be held right now.
type Decision struct {
	RewardRoleID string
	Desired      bool
}

// Engine evaluates reward rules against an inviter's current invitee set.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a rule engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Resolve maps each rule's role selectors onto the guild's live roles.
// Rules with an unresolvable reward role or with no resolvable required role
// are skipped with a warning; the rest still evaluate.
func (e *Engine) Resolve(guildID string, guildRoles []domain.GuildRole, configured []Rule) []ResolvedRule {
	resolved := make([]ResolvedRule, 0, len(configured))

	for i, rule := range configured {
		reward, ok := rule.RewardRole.Resolve(guildRoles)
		if !ok {
			if e.logger != nil {
				e.logger.Warn("Skipping rule with unresolvable reward role",
					"guild_id", guildID,
					"rule_index", i,
					"reward_role_id", rule.RewardRole.ID,
					"reward_role_name", rule.RewardRole.Name,
				)
			}
			continue
		}

		required := make([]string, 0, len(rule.RequiredRoles))
		for _, sel := range rule.RequiredRoles {
			r, ok := sel.Resolve(guildRoles)
			if !ok {
				if e.logger != nil {
					e.logger.Warn("Ignoring unresolvable required role",
						"guild_id", guildID,
						"rule_index", i,
						"role_id", sel.ID,
						"role_name", sel.Name,
					)
				}
				continue
			}
			required = append(required, r.ID)
		}
		if len(required) == 0 {
			if e.logger != nil {
				e.logger.Warn("Skipping rule with no resolvable required roles",
					"guild_id", guildID,
					"rule_index", i,
				)
			}
			continue
		}

		resolved = append(resolved, ResolvedRule{
			Kind:            rule.Kind,
			RewardRoleID:    reward.ID,
			RequiredRoleIDs: required,
			Threshold:       rule.Threshold,
		})
	}

	return resolved
}

// Evaluate computes each rule's decision for an inviter whose current,
// still-present invitees are given. Invitees that left the guild or could
// not be fetched are excluded by the caller and simply do not count.
func (e *Engine) Evaluate(resolved []ResolvedRule, invitees []*domain.Member) []Decision {
	decisions := make([]Decision, 0, len(resolved))

	for _, rule := range resolved {
		qualifying := 0
		for _, invitee := range invitees {
			if invitee.HasAnyRole(rule.RequiredRoleIDs) {
				qualifying++
			}
		}

		var desired bool
		switch rule.Kind {
		case KindPerInvitee:
			desired = qualifying >= 1
		case KindThreshold:
			desired = qualifying >= rule.Threshold
		}

		decisions = append(decisions, Decision{
			RewardRoleID: rule.RewardRoleID,
			Desired:      desired,
		})
	}

	return decisions
}
