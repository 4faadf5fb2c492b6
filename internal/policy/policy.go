// Package policy decides whether an event originator may use a tenant's worker.
package policy

import (
	"fmt"

	"github.com/Josh-XT/AGiXT-sub003/internal/model"
)

// Decision is the result of evaluating a policy
type Decision int

const (
	Deny Decision = iota
	Allow
	// AllowAsOwner allows the event and runs it with the tenant owner's identity
	AllowAsOwner
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case AllowAsOwner:
		return "allow_as_owner"
	default:
		return "deny"
	}
}

// Allowed reports whether the decision admits the event
func (d Decision) Allowed() bool {
	return d == Allow || d == AllowAsOwner
}

// Policy is the closed set of permission variants
type Policy interface {
	Evaluate(originator model.Originator) Decision
	Mode() model.PermissionMode
	sealed()
}

// OwnerOnly admits only the tenant owner
type OwnerOnly struct {
	OwnerID string
}

// Allowlist admits listed originators or members of listed parents. Empty lists deny everyone.
type Allowlist struct {
	Originators map[string]struct{}
	Parents     map[string]struct{}
}

// Anyone admits everyone; unlinked originators fall back to the owner when enabled
type Anyone struct {
	OwnerFallback bool
}

// Open admits everyone not blocklisted while the allowlist is empty
type Open struct {
	Allowed map[string]struct{}
	Blocked map[string]struct{}
}

func (OwnerOnly) sealed() {}
func (Allowlist) sealed() {}
func (Anyone) sealed()    {}
func (Open) sealed()      {}

func (OwnerOnly) Mode() model.PermissionMode { return model.PermissionOwnerOnly }
func (Allowlist) Mode() model.PermissionMode { return model.PermissionAllowlist }
func (Anyone) Mode() model.PermissionMode    { return model.PermissionAnyone }
func (Open) Mode() model.PermissionMode      { return model.PermissionOpen }

// Evaluate implements Policy
func (p OwnerOnly) Evaluate(o model.Originator) Decision {
	if p.OwnerID != "" && o.ID == p.OwnerID {
		return Allow
	}
	return Deny
}

// Evaluate implements Policy
func (p Allowlist) Evaluate(o model.Originator) Decision {
	if _, ok := p.Originators[o.ID]; ok && o.ID != "" {
		return Allow
	}
	for _, parent := range o.ParentIDs {
		if _, ok := p.Parents[parent]; ok {
			return Allow
		}
	}
	return Deny
}

// Evaluate implements Policy
func (p Anyone) Evaluate(o model.Originator) Decision {
	if !o.Linked && p.OwnerFallback {
		return AllowAsOwner
	}
	return Allow
}

// Evaluate implements Policy
func (p Open) Evaluate(o model.Originator) Decision {
	if _, blocked := p.Blocked[o.ID]; blocked {
		return Deny
	}
	if len(p.Allowed) == 0 {
		return Allow
	}
	if _, ok := p.Allowed[o.ID]; ok {
		return Allow
	}
	return Deny
}

// FromScope builds the policy variant selected by scope.Mode
func FromScope(scope model.Scope) (Policy, error) {
	switch scope.Mode {
	case model.PermissionOwnerOnly:
		if scope.OwnerID == "" {
			return nil, fmt.Errorf("owner_only mode requires owner_id")
		}
		return OwnerOnly{OwnerID: scope.OwnerID}, nil
	case model.PermissionAllowlist:
		return Allowlist{
			Originators: toSet(scope.Allowlist),
			Parents:     toSet(scope.AllowedParents),
		}, nil
	case model.PermissionAnyone:
		return Anyone{OwnerFallback: scope.OwnerFallback}, nil
	case model.PermissionOpen:
		return Open{
			Allowed: toSet(scope.Allowlist),
			Blocked: toSet(scope.Blocklist),
		}, nil
	default:
		return nil, fmt.Errorf("unknown permission mode %q", scope.Mode)
	}
}

// Check evaluates both the deployment scope and the permission policy for one event
func Check(p Policy, scope model.Scope, event model.Event) (Decision, string) {
	if !scope.CoversTarget(event.Target) {
		return Deny, fmt.Sprintf("target %s outside deployment scope", event.Target.ID)
	}

	decision := p.Evaluate(event.Originator)
	if !decision.Allowed() {
		return Deny, fmt.Sprintf("originator %s not permitted in %s mode", event.Originator.ID, p.Mode())
	}
	return decision, ""
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
