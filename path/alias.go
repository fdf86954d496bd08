package path

import "sync"

// Alias rewrites a user-facing scheme into a canonical (protocol, prefix)
// pair before dispatch, per spec.md §3/§4.1. The alias table is loaded once
// at startup (legacy INI file, then the structured loader overriding on
// conflict — see mscconfig) and treated as immutable thereafter (spec.md
// §5 "Configuration (alias table) is loaded once and treated as immutable").
type Alias struct {
	Protocol string
	Prefix   string
}

var (
	aliasMu    sync.RWMutex
	aliasTable = map[string]Alias{}
)

// RegisterAlias installs or replaces the alias named name. Safe to call
// concurrently; intended to be called during configuration load, before any
// Path is parsed against it.
func RegisterAlias(name string, a Alias) {
	aliasMu.Lock()
	defer aliasMu.Unlock()
	aliasTable[name] = a
}

// ClearAliases removes every registered alias. Primarily for tests.
func ClearAliases() {
	aliasMu.Lock()
	defer aliasMu.Unlock()
	aliasTable = map[string]Alias{}
}

// LookupAlias returns the alias registered under name, if any.
func LookupAlias(name string) (Alias, bool) {
	aliasMu.RLock()
	defer aliasMu.RUnlock()
	a, ok := aliasTable[name]
	return a, ok
}

// ResolveAlias rewrites (protocol, remainder) through the alias table,
// exactly once: if protocol matches a registered alias name, it becomes
// alias.Protocol with alias.Prefix prepended to remainder. Aliases are not
// chained (an alias's Protocol is never itself looked up again), matching
// megfile's one-shot rewrite semantics.
func ResolveAlias(protocol, remainder string) (string, string) {
	a, ok := LookupAlias(protocol)
	if !ok {
		return protocol, remainder
	}
	return a.Protocol, a.Prefix + remainder
}
