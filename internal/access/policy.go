package access

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"RewardPool/internal/model"
)

var (
	ErrNotAdmin          = errors.New("caller does not hold ADMIN")
	ErrUnknownCapability = errors.New("unknown capability")
	ErrLastAdmin         = errors.New("cannot revoke the last admin")
	ErrEmptyPrincipal    = errors.New("principal is required")
)

// Policy holds role membership. Admins may grant and revoke any capability,
// including ADMIN itself.
type Policy struct {
	mu      sync.RWMutex
	members map[model.Capability]map[string]bool
}

// NewPolicy seeds the policy with the configured admins and reward depositors.
func NewPolicy(admins, rewardDepositors []string) (*Policy, error) {
	p := &Policy{members: map[model.Capability]map[string]bool{
		model.CapAdmin:           {},
		model.CapRewardDepositor: {},
	}}
	for i, a := range admins {
		if a == "" {
			return nil, fmt.Errorf("admins[%d] is empty", i)
		}
		p.members[model.CapAdmin][a] = true
	}
	for i, d := range rewardDepositors {
		if d == "" {
			return nil, fmt.Errorf("reward_depositors[%d] is empty", i)
		}
		p.members[model.CapRewardDepositor][d] = true
	}
	if len(p.members[model.CapAdmin]) == 0 {
		return nil, errors.New("at least one admin is required")
	}
	return p, nil
}

func (p *Policy) HasCapability(principal string, c model.Capability) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.members[c][principal]
}

// Grant gives principal capability c. Granting a held capability is a no-op.
func (p *Policy) Grant(caller, principal string, c model.Capability) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCapability, c)
	}
	if principal == "" {
		return ErrEmptyPrincipal
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.members[model.CapAdmin][caller] {
		return ErrNotAdmin
	}
	p.members[c][principal] = true
	return nil
}

// Revoke removes capability c from principal. The last admin cannot be removed.
func (p *Policy) Revoke(caller, principal string, c model.Capability) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCapability, c)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.members[model.CapAdmin][caller] {
		return ErrNotAdmin
	}
	if c == model.CapAdmin && p.members[c][principal] && len(p.members[c]) == 1 {
		return ErrLastAdmin
	}
	delete(p.members[c], principal)
	return nil
}

// Members returns the sorted holders of c.
func (p *Policy) Members(c model.Capability) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.members[c]))
	for m := range p.members[c] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
