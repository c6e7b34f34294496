// Package attribution determines which invite link a newly joined member
// used, by diffing the previous invite snapshot against a fresh one.
package attribution

import (
	"sort"

	"github.com/invitewarden/invitewarden-server/internal/domain"
)

// Result identifies the invite a join was attributed to.
type Result struct {
	InviterID string
	Code      string
}

// Attribute compares two invite snapshots and returns the invite whose use
// count increased, attributing the join to its creator.
//
// Codes are scanned in lexicographic order so the result is deterministic; a
// code qualifies when it is new to the snapshot with at least one use, or
// when its use count strictly increased. The first qualifying code wins and
// scanning stops.
//
// Known limitation: when two invites are both incremented between polls
// (simultaneous joins in one diff window), a single diff cannot tell which
// member used which link. The first code in sort order takes the
// attribution; the other join goes unattributed until an admin corrects it.
//
// Returns ok == false when no code qualifies. That is a defined outcome, not an
// error (vanity URL join, or the use happened while we were offline).
func Attribute(old, current domain.InviteSnapshot) (Result, bool) {
	codes := make([]string, 0, len(current))
	for code := range current {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		info := current[code]
		prev, existed := old[code]

		if !existed && info.Uses >= 1 {
			return Result{InviterID: info.InviterID, Code: code}, info.InviterID != ""
		}
		if existed && info.Uses > prev.Uses {
			return Result{InviterID: info.InviterID, Code: code}, info.InviterID != ""
		}
	}

	return Result{}, false
}
