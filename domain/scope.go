package domain

import (
	"sort"
	"strings"
)

// Scopes understood by the resource endpoints.
const (
	ScopeReadPasswords  = "read-passwords"
	ScopeWritePasswords = "write-passwords"
	ScopeReadUserInfo   = "read-userinfo"
)

// ScopeInfo pairs a scope name with the text shown on the consent screen.
type ScopeInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var knownScopes = [...]ScopeInfo{
	{Name: ScopeReadPasswords, Description: "Access your passwords"},
	{Name: ScopeWritePasswords, Description: "Modify your passwords"},
	{Name: ScopeReadUserInfo, Description: "Access your user information"},
}

// KnownScopes returns a copy of the scope table.
func KnownScopes() []ScopeInfo {
	out := make([]ScopeInfo, len(knownScopes))
	copy(out, knownScopes[:])
	return out
}

// LookupScope returns the table entry for name.
func LookupScope(name string) (ScopeInfo, bool) {
	for _, s := range knownScopes {
		if s.Name == name {
			return s, true
		}
	}
	return ScopeInfo{}, false
}

// DescribeScopes maps scope names to their table entries, keeping the
// requested order. Unknown names are returned with an empty description.
func DescribeScopes(scopes []string) []ScopeInfo {
	out := make([]ScopeInfo, 0, len(scopes))
	for _, name := range scopes {
		info, ok := LookupScope(name)
		if !ok {
			info = ScopeInfo{Name: name}
		}
		out = append(out, info)
	}
	return out
}

// ParseScopes splits a space separated scope parameter.
func ParseScopes(scope string) []string {
	return strings.Fields(scope)
}

// JoinScopes is the inverse of ParseScopes.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ContainsScopes reports whether have is a superset of want.
func ContainsScopes(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	for _, s := range want {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// SameScopes compares two scope lists as sets.
func SameScopes(a, b []string) bool {
	return ContainsScopes(a, b) && ContainsScopes(b, a)
}

// NormalizeScopes returns the distinct scopes of in, sorted.
func NormalizeScopes(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
