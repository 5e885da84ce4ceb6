// Package permission implements the per-peer permission ledger: named item
// counters guarded by allow/deny policies with optional item and rate limits.
package permission

import (
	"time"

	"github.com/zeusync/authority/internal/core/errors"
)

// Policy is the configured rule for one permission key. Zero limits are
// unlimited.
type Policy struct {
	Allowed              bool          `yaml:"allowed" json:"allowed" toml:"allowed"`
	MaxItems             uint32        `yaml:"max_items,omitempty" json:"max_items,omitempty" toml:"max_items,omitempty"`
	MaxItemsPerTimeframe uint32        `yaml:"max_items_per_timeframe,omitempty" json:"max_items_per_timeframe,omitempty" toml:"max_items_per_timeframe,omitempty"`
	Timeframe            time.Duration `yaml:"timeframe,omitempty" json:"timeframe,omitempty" toml:"timeframe,omitempty"`
}

// Allow is a shorthand for an unlimited allowing policy.
func Allow() Policy { return Policy{Allowed: true} }

// Deny is a shorthand for a denying policy.
func Deny() Policy { return Policy{} }

// Limit allows up to max concurrent items.
func Limit(max uint32) Policy { return Policy{Allowed: true, MaxItems: max} }

// Result of a single check.
type Result uint8

const (
	Allowed Result = iota
	Denied
	TooManyItems
	TooManyItemsPerTimeframe
)

func (r Result) String() string {
	switch r {
	case Allowed:
		return "allowed"
	case Denied:
		return "permission denied"
	case TooManyItems:
		return "permission denied, too many items"
	case TooManyItemsPerTimeframe:
		return "permission denied, too many actions in timeframe"
	default:
		return "permission denied"
	}
}

// Permission is a live counter for one (peer, key) pair.
type Permission struct {
	key    string
	policy Policy
	now    func() time.Time

	items            uint32
	itemsInTimeframe uint32
	windowStart      time.Time
}

func newPermission(key string, policy Policy, now func() time.Time) *Permission {
	return &Permission{key: key, policy: policy, now: now, windowStart: now()}
}

func (p *Permission) Key() string { return p.key }

func (p *Permission) Policy() Policy { return p.policy }

// SetPolicy replaces the policy and keeps the counters.
func (p *Permission) SetPolicy(policy Policy) { p.policy = policy }

func (p *Permission) Items() uint32 { return p.items }

func (p *Permission) ItemsInTimeframe() uint32 {
	p.rollWindow()
	return p.itemsInTimeframe
}

// Evaluate returns the outcome of a check without touching the item counters.
func (p *Permission) Evaluate() Result {
	if !p.policy.Allowed {
		return Denied
	}
	if p.policy.MaxItems > 0 && p.items >= p.policy.MaxItems {
		return TooManyItems
	}
	p.rollWindow()
	if p.policy.MaxItemsPerTimeframe > 0 && p.itemsInTimeframe >= p.policy.MaxItemsPerTimeframe {
		return TooManyItemsPerTimeframe
	}
	return Allowed
}

// Check returns PermissionDenied unless the policy admits one more item.
func (p *Permission) Check(context string) error {
	if r := p.Evaluate(); r != Allowed {
		return errors.PermissionDenied(context, "%s: %s", p.key, r).
			WithContext("key", p.key).
			WithContext("items", p.items)
	}
	return nil
}

func (p *Permission) Allowed() bool { return p.Evaluate() == Allowed }

// AddItem counts one item. Callers check first.
func (p *Permission) AddItem() {
	p.rollWindow()
	p.items++
	p.itemsInTimeframe++
}

// RemoveItem releases one item. A provisional removal also gives back the
// timeframe slot, so a simulated transfer can be undone exactly.
func (p *Permission) RemoveItem(provisional bool) {
	p.rollWindow()
	if p.items > 0 {
		p.items--
	}
	if provisional && p.itemsInTimeframe > 0 {
		p.itemsInTimeframe--
	}
}

// Snapshot holds the counters of one permission so that a provisional
// change can be rolled back onto the same timeframe window.
type Snapshot struct {
	perm             *Permission
	items            uint32
	itemsInTimeframe uint32
	windowStart      time.Time
}

func (p *Permission) Snapshot() Snapshot {
	return Snapshot{perm: p, items: p.items, itemsInTimeframe: p.itemsInTimeframe, windowStart: p.windowStart}
}

// Restore puts the counters back to the state they had when s was taken.
func (s Snapshot) Restore() {
	if s.perm == nil {
		return
	}
	s.perm.items = s.items
	s.perm.itemsInTimeframe = s.itemsInTimeframe
	s.perm.windowStart = s.windowStart
}

// Reset zeroes both counters.
func (p *Permission) Reset() {
	p.items = 0
	p.itemsInTimeframe = 0
	p.windowStart = p.now()
}

func (p *Permission) rollWindow() {
	if p.policy.Timeframe <= 0 {
		return
	}
	if now := p.now(); now.Sub(p.windowStart) >= p.policy.Timeframe {
		p.itemsInTimeframe = 0
		p.windowStart = now
	}
}
