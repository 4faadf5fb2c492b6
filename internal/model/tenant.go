package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ServerTenantID is the sentinel tenant for the shared, server-wide instance
const ServerTenantID = "server"

// PermissionMode selects how originators are authorized
type PermissionMode string

const (
	PermissionOwnerOnly PermissionMode = "owner_only"
	PermissionAllowlist PermissionMode = "allowlist"
	PermissionAnyone    PermissionMode = "anyone"
	// PermissionOpen allows everyone not blocklisted while the allowlist is empty
	PermissionOpen PermissionMode = "open"
)

// DeploymentScope selects which targets (repositories, channels, accounts) a worker acts on
type DeploymentScope string

const (
	DeploySingleTarget DeploymentScope = "single_target"
	DeployMultiTarget  DeploymentScope = "multi_target"
	DeployOrgWide      DeploymentScope = "org_wide"
	DeployAccountWide  DeploymentScope = "account_wide"
)

// Scope is the permission policy plus the target set of one tenant
type Scope struct {
	Mode           PermissionMode  `json:"mode" yaml:"mode"`
	OwnerID        string          `json:"owner_id,omitempty" yaml:"owner_id"`
	Allowlist      []string        `json:"allowlist,omitempty" yaml:"allowlist"`
	AllowedParents []string        `json:"allowed_parents,omitempty" yaml:"allowed_parents"`
	Blocklist      []string        `json:"blocklist,omitempty" yaml:"blocklist"`
	OwnerFallback  bool            `json:"owner_fallback,omitempty" yaml:"owner_fallback"`
	Deployment     DeploymentScope `json:"deployment" yaml:"deployment"`
	TargetIDs      []string        `json:"target_ids,omitempty" yaml:"target_ids"`
}

// TenantConfig is the desired-state record for one tenant on one platform
type TenantConfig struct {
	TenantID     string     `json:"tenant_id" yaml:"tenant_id"`
	Platform     string     `json:"platform" yaml:"platform"`
	Enabled      bool       `json:"enabled" yaml:"enabled"`
	Credential   Credential `json:"credential" yaml:"credential"`
	Scope        Scope      `json:"scope" yaml:"scope"`
	AgentBinding string     `json:"agent_binding,omitempty" yaml:"agent_binding"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"updated_at"`
}

// IsServer reports whether the config belongs to the shared server-wide instance
func (c *TenantConfig) IsServer() bool {
	return c.TenantID == ServerTenantID
}

// Runnable reports whether the config can back a worker
func (c *TenantConfig) Runnable() bool {
	return c.Enabled && c.TenantID != "" && !c.Credential.IsZero()
}

// Digest summarizes the non-secret parts of the config that require a restart when changed.
// Every field is length-prefixed so no value can be mistaken for a separator.
func (c *TenantConfig) Digest() string {
	var b strings.Builder
	writeField(&b, string(c.Scope.Mode))
	writeField(&b, c.Scope.OwnerID)
	writeSorted(&b, c.Scope.Allowlist)
	writeSorted(&b, c.Scope.AllowedParents)
	writeSorted(&b, c.Scope.Blocklist)
	writeField(&b, strconv.FormatBool(c.Scope.OwnerFallback))
	writeField(&b, string(c.Scope.Deployment))
	writeSorted(&b, c.Scope.TargetIDs)
	writeField(&b, c.AgentBinding)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

func writeField(b *strings.Builder, value string) {
	b.WriteString(strconv.Itoa(len(value)))
	b.WriteByte(':')
	b.WriteString(value)
}

func writeSorted(b *strings.Builder, values []string) {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	b.WriteString(strconv.Itoa(len(sorted)))
	b.WriteByte('#')
	for _, v := range sorted {
		writeField(b, v)
	}
}

// CoversTarget reports whether the deployment scope includes the given target.
// An event without a target is always covered.
func (s *Scope) CoversTarget(target Target) bool {
	if target.ID == "" {
		return true
	}

	switch s.Deployment {
	case DeployAccountWide, "":
		return true
	case DeploySingleTarget, DeployMultiTarget:
		return contains(s.TargetIDs, target.ID)
	case DeployOrgWide:
		return contains(s.TargetIDs, target.ID) ||
			(target.ParentID != "" && contains(s.TargetIDs, target.ParentID))
	default:
		return false
	}
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
