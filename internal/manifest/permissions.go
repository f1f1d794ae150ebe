package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Capability names used by tool-access policies.
const (
	CapabilityNetwork    = "network"
	CapabilityFilesystem = "filesystem"
)

// ToolPolicy is an agent's tool-access policy reduced to capability classes.
type ToolPolicy struct {
	Capabilities []string `json:"capabilities"`
}

func (tp ToolPolicy) allows(capability string) bool {
	for _, c := range tp.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Normalize converts arbitrary decoded JSON into a structured permission
// manifest. Nil input yields an all-empty manifest; a legacy flat shape is
// migrated; anything else must decode strictly into the structured shape or
// the call fails closed.
func Normalize(raw any) (Permissions, error) {
	if raw == nil {
		return Permissions{}, nil
	}
	switch v := raw.(type) {
	case Permissions:
		return v, nil
	case *Permissions:
		if v == nil {
			return Permissions{}, nil
		}
		return *v, nil
	case map[string]any:
		if IsLegacy(v) {
			return MigrateLegacy(v), nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return Permissions{}, fmt.Errorf("encode permissions: %w", err)
		}
		return decodeStrict(data)
	case json.RawMessage:
		return decodeStrict(v)
	case []byte:
		return decodeStrict(v)
	default:
		return Permissions{}, fmt.Errorf("unsupported permission shape %T", raw)
	}
}

func decodeStrict(data []byte) (Permissions, error) {
	var probe map[string]any
	if err := json.Unmarshal(data, &probe); err != nil {
		return Permissions{}, fmt.Errorf("decode permissions: %w", err)
	}
	if IsLegacy(probe) {
		return MigrateLegacy(probe), nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var p Permissions
	if err := dec.Decode(&p); err != nil {
		return Permissions{}, fmt.Errorf("decode permissions: %w", err)
	}
	return p, nil
}

// IsLegacy reports whether a decoded permission document uses the legacy
// flat shape {network: [], files: [], env: []}.
func IsLegacy(raw map[string]any) bool {
	if raw == nil {
		return false
	}
	for _, key := range []string{"network", "files", "env"} {
		if v, ok := raw[key]; ok {
			if _, isList := v.([]any); isList {
				return true
			}
		}
	}
	return false
}

// MigrateLegacy converts a legacy flat permission document additively.
// Legacy file entries cannot express write-vs-read intent, so they are all
// treated as read paths; legacy env entries all become required.
func MigrateLegacy(raw map[string]any) Permissions {
	var p Permissions
	p.Network.AllowedDomains = stringList(raw["network"])
	p.Files.ReadPaths = stringList(raw["files"])
	p.Env.Required = stringList(raw["env"])
	return p
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Diff describes how one permission manifest changed relative to another,
// per leaf array.
type Diff struct {
	Added     map[string][]string `json:"added"`
	Removed   map[string][]string `json:"removed"`
	Unchanged map[string][]string `json:"unchanged"`
}

// Leaf array names used as Diff map keys.
const (
	LeafAllowedDomains = "allowed_domains"
	LeafReadPaths      = "read_paths"
	LeafWritePaths     = "write_paths"
	LeafRequiredEnv    = "required_env"
	LeafOptionalEnv    = "optional_env"
)

// ComputeDiff compares two permission manifests leaf by leaf using set
// difference. Used by admin review tooling to show exactly what changed
// between versions.
func ComputeDiff(existing, incoming Permissions) Diff {
	d := Diff{
		Added:     make(map[string][]string),
		Removed:   make(map[string][]string),
		Unchanged: make(map[string][]string),
	}
	leaves := []struct {
		name     string
		old, new []string
	}{
		{LeafAllowedDomains, existing.Network.AllowedDomains, incoming.Network.AllowedDomains},
		{LeafReadPaths, existing.Files.ReadPaths, incoming.Files.ReadPaths},
		{LeafWritePaths, existing.Files.WritePaths, incoming.Files.WritePaths},
		{LeafRequiredEnv, existing.Env.Required, incoming.Env.Required},
		{LeafOptionalEnv, existing.Env.Optional, incoming.Env.Optional},
	}
	for _, leaf := range leaves {
		added, removed, unchanged := setDiff(leaf.old, leaf.new)
		if len(added) > 0 {
			d.Added[leaf.name] = added
		}
		if len(removed) > 0 {
			d.Removed[leaf.name] = removed
		}
		if len(unchanged) > 0 {
			d.Unchanged[leaf.name] = unchanged
		}
	}
	return d
}

func setDiff(old, new []string) (added, removed, unchanged []string) {
	oldSet := make(map[string]struct{}, len(old))
	for _, v := range old {
		oldSet[v] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(new))
	for _, v := range new {
		newSet[v] = struct{}{}
	}
	for v := range newSet {
		if _, ok := oldSet[v]; ok {
			unchanged = append(unchanged, v)
		} else {
			added = append(added, v)
		}
	}
	for v := range oldSet {
		if _, ok := newSet[v]; !ok {
			removed = append(removed, v)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(unchanged)
	return added, removed, unchanged
}

// CompatResult reports whether a manifest's permission classes are allowed
// by a tool policy.
type CompatResult struct {
	Compatible bool     `json:"compatible"`
	Violations []string `json:"violations,omitempty"`
}

// CheckCompatibility is a conservative, capability-level check: it only
// asks whether each requested class of access is permitted at all, never
// what the contents are.
func CheckCompatibility(p Permissions, policy ToolPolicy) CompatResult {
	var violations []string
	if p.RequestsNetwork() && !policy.allows(CapabilityNetwork) {
		violations = append(violations, "manifest requires network access but the tool policy does not grant the network capability")
	}
	if p.RequestsFilesystem() && !policy.allows(CapabilityFilesystem) {
		violations = append(violations, "manifest requires filesystem access but the tool policy does not grant the filesystem capability")
	}
	return CompatResult{Compatible: len(violations) == 0, Violations: violations}
}
