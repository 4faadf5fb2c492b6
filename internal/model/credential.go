package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

// Credential is an opaque secret (bearer token, API key or key pair).
// Its formatting and JSON forms are redacted so it cannot leak into logs or API responses.
type Credential struct {
	secret string
}

// NewCredential wraps a plaintext secret
func NewCredential(secret string) Credential {
	return Credential{secret: secret}
}

// Reveal returns the plaintext secret for adapters that need it
func (c Credential) Reveal() string {
	return c.secret
}

// IsZero reports whether no secret is set
func (c Credential) IsZero() bool {
	return c.secret == ""
}

// Fingerprint identifies the secret without exposing it
func (c Credential) Fingerprint() string {
	if c.secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(c.secret))
	return hex.EncodeToString(sum[:8])
}

// String implements fmt.Stringer
func (c Credential) String() string {
	if c.secret == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v redacted as well
func (c Credential) GoString() string {
	return c.String()
}

// MarshalJSON never emits the secret
func (c Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts a plaintext secret
func (c *Credential) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.secret = s
	return nil
}

// UnmarshalYAML accepts a plaintext secret from configuration files
func (c *Credential) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	c.secret = s
	return nil
}

// MarshalYAML never emits the secret
func (c Credential) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}
