// Package auth gates commands on the actor's role names.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stellarlinkco/stashbot/internal/command"
)

var ErrForbidden = errors.New("forbidden")

// Policy holds one allow-list per ledger surface. Role names match exactly
// after trimming surrounding space.
type Policy struct {
	Stash   []string // deposit and withdraw
	Workers []string // work reports
	Leaders []string // stats, reset, top, members
}

type Guard struct {
	policy Policy
}

func NewGuard(p Policy) *Guard {
	return &Guard{policy: p}
}

// AllowList returns the allow-list that applies to kind, and false when the
// command is unrestricted.
func (g *Guard) AllowList(kind command.Kind) ([]string, bool) {
	switch kind {
	case command.Deposit, command.Withdraw:
		return g.policy.Stash, true
	case command.Report:
		return g.policy.Workers, true
	case command.Stats, command.Reset, command.Top, command.Members:
		return g.policy.Leaders, true
	}
	return nil, false
}

// RequiresRoles reports whether Check needs the actor's roles for kind.
func (g *Guard) RequiresRoles(kind command.Kind) bool {
	_, restricted := g.AllowList(kind)
	return restricted
}

// Check passes when kind is unrestricted or roles intersect its allow-list.
func (g *Guard) Check(kind command.Kind, actor string, roles []string) error {
	allow, restricted := g.AllowList(kind)
	if !restricted {
		return nil
	}
	if Intersects(roles, allow) {
		return nil
	}
	return fmt.Errorf("%s may not %s: %w", actor, kind, ErrForbidden)
}

// Intersects reports whether any role is in allow.
func Intersects(roles, allow []string) bool {
	if len(roles) == 0 || len(allow) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(allow))
	for _, a := range allow {
		set[strings.TrimSpace(a)] = struct{}{}
	}
	for _, r := range roles {
		if _, ok := set[strings.TrimSpace(r)]; ok {
			return true
		}
	}
	return false
}
