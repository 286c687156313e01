// Package pathpolicy evaluates filesystem tool calls against a session's
// set of path rules. Rules are stored exactly as entered (no
// canonicalization) and matched after stripping an extended-length prefix
// from the target path, mirroring the teacher's workspace-relative
// Resolver but generalized from single-root containment to an arbitrary
// rule set with per-rule access levels and recursion.
package pathpolicy

import (
	"strings"

	"github.com/batchismo/core/internal/model"
)

// extendedPrefix is the Windows "\\?\" long-path prefix; spec §3/§8 call
// for stripping it before matching even on platforms where it is never
// produced, so policy text is portable across snapshots.
const extendedPrefix = `\\?\`

// StripExtendedPrefix removes a leading extended-length prefix from p, if
// present, without otherwise normalizing the path.
func StripExtendedPrefix(p string) string {
	return strings.TrimPrefix(p, extendedPrefix)
}

// Policy is an immutable snapshot of a session's rule set. Snapshots are
// copied at Init time and never mutated for the remainder of a turn;
// concurrent edits via the command surface affect only subsequent turns.
type Policy struct {
	rules []model.PolicyRule
}

// NewPolicy copies rules into an immutable snapshot.
func NewPolicy(rules []model.PolicyRule) *Policy {
	cp := make([]model.PolicyRule, len(rules))
	copy(cp, rules)
	return &Policy{rules: cp}
}

// Rules returns the snapshot's rule set; callers must not mutate it.
func (p *Policy) Rules() []model.PolicyRule {
	return p.rules
}

// matches reports whether rule applies to target: target equals rule.Path
// (top-level) or is a descendant of it when rule.Recursive is set. Rules
// are stored as entered, so comparison is purely lexical after stripping
// the extended prefix from both sides.
func matches(rule model.PolicyRule, target string) bool {
	rulePath := StripExtendedPrefix(rule.Path)
	if target == rulePath {
		return true
	}
	if !rule.Recursive {
		return false
	}
	prefix := strings.TrimRight(rulePath, "/\\")
	if prefix == "" {
		return false
	}
	if strings.HasPrefix(target, prefix+"/") || strings.HasPrefix(target, prefix+`\`) {
		return true
	}
	return false
}

// AllowRead reports whether any rule in the snapshot permits reading path.
func (p *Policy) AllowRead(path string) bool {
	target := StripExtendedPrefix(path)
	for _, r := range p.rules {
		if r.Access.AllowsRead() && matches(r, target) {
			return true
		}
	}
	return false
}

// AllowWrite reports whether any rule in the snapshot permits writing path.
func (p *Policy) AllowWrite(path string) bool {
	target := StripExtendedPrefix(path)
	for _, r := range p.rules {
		if r.Access.AllowsWrite() && matches(r, target) {
			return true
		}
	}
	return false
}

// Narrow returns the subset of p's rules also present, byte-for-byte, in
// allowed. Workers may only be given a subset of their parent's policy;
// this never widens — any rule not already granted by the parent is
// dropped rather than merged in.
func (p *Policy) Narrow(allowed []model.PolicyRule) *Policy {
	allow := make(map[model.PolicyRule]bool, len(allowed))
	for _, r := range allowed {
		allow[r] = true
	}
	var out []model.PolicyRule
	for _, r := range p.rules {
		if allow[r] {
			out = append(out, r)
		}
	}
	return NewPolicy(out)
}
