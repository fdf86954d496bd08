// Package path implements the URI dispatch layer (scheme parsing, alias
// resolution, and the registry mapping a scheme to a backend) plus the
// Path value type every backend operation is expressed in terms of.
package path

import (
	"strings"

	"github.com/NVIDIA/mscfile/mscerr"
)

// LocalScheme is used for paths with no explicit "scheme://" prefix.
const LocalScheme = "file"

// Path is an immutable (scheme, remainder) pair. Remainder's interpretation
// is entirely up to the backend registered for scheme; the path package
// never inspects it beyond the operations below.
type Path struct {
	protocol  string // resolved scheme, after alias rewriting
	remainder string // everything after "<protocol>://"; backend-specific
}

// New parses raw into a Path, applying alias resolution. A raw string with
// no "://" is treated as a local filesystem path (spec.md §4.1): either a
// bare integer (file descriptor) or an absolute/relative path, both handled
// by the local-fs backend's own remainder parsing.
func New(raw string) Path {
	protocol, remainder := splitProtocol(raw)
	protocol, remainder = ResolveAlias(protocol, remainder)
	return Path{protocol: protocol, remainder: remainder}
}

// FromParts builds a Path directly from an already-resolved (protocol,
// remainder) pair, skipping parsing and alias resolution. Backends use this
// to construct derived paths (Parent, children during a walk, ...).
func FromParts(protocol, remainder string) Path {
	return Path{protocol: protocol, remainder: remainder}
}

func splitProtocol(raw string) (protocol, remainder string) {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return LocalScheme, raw
	}
	return raw[:idx], raw[idx+3:]
}

// Protocol returns the resolved scheme (post-alias).
func (p Path) Protocol() string { return p.protocol }

// Remainder returns the backend-specific remainder (post-alias).
func (p Path) Remainder() string { return p.remainder }

// PathWithProtocol reconstitutes the canonical "<scheme>://<remainder>"
// form. For the local scheme it degrades to a bare path (no "file://"
// prefix), matching megfile's fs paths.
func (p Path) PathWithProtocol() string {
	if p.protocol == LocalScheme {
		return p.remainder
	}
	return p.protocol + "://" + p.remainder
}

// PathWithoutProtocol returns the remainder alone.
func (p Path) PathWithoutProtocol() string { return p.remainder }

// Parts splits the remainder into (authority, segment, segment, ...). The
// authority is the first path component (bucket name, host[:port], drive,
// ...); trailing empty segments from a trailing "/" are preserved so that
// Parts round-trips through Join.
func (p Path) Parts() []string {
	trimmed := strings.TrimPrefix(p.remainder, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Name returns the last path segment (empty string if the path ends in a
// separator or has no segments).
func (p Path) Name() string {
	parts := p.Parts()
	if len(parts) == 0 {
		return ""
	}
	if p.remainder != "" && strings.HasSuffix(p.remainder, "/") {
		return ""
	}
	return parts[len(parts)-1]
}

// Parent returns the Path one directory level up. Trailing slashes are
// preserved per spec.md §3 ("foo/" != "foo"): Parent of "a/b/" is "a/", and
// Parent of "a/b" is "a/".
func (p Path) Parent() Path {
	r := p.remainder
	hadTrailingSlash := strings.HasSuffix(r, "/")
	trimmed := strings.TrimSuffix(r, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		if hadTrailingSlash {
			return Path{protocol: p.protocol, remainder: ""}
		}
		return Path{protocol: p.protocol, remainder: ""}
	}
	return Path{protocol: p.protocol, remainder: trimmed[:idx+1]}
}

// Suffix returns the final "." extension of Name, including the leading
// dot, or "" if there is none.
func (p Path) Suffix() string {
	name := p.Name()
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return ""
	}
	return name[idx:]
}

// Stem returns Name with Suffix removed.
func (p Path) Stem() string {
	name := p.Name()
	suffix := p.Suffix()
	return strings.TrimSuffix(name, suffix)
}

// Equal implements path equality as string equality on PathWithProtocol
// (after canonicalization), per spec.md §3.
func (p Path) Equal(other Path) bool {
	return p.PathWithProtocol() == other.PathWithProtocol()
}

// Join appends elems to the path's remainder with "/" separators, returning
// a new Path on the same protocol.
func (p Path) Join(elems ...string) Path {
	r := p.remainder
	for _, e := range elems {
		if r != "" && !strings.HasSuffix(r, "/") {
			r += "/"
		}
		r += e
	}
	return Path{protocol: p.protocol, remainder: r}
}

// MustBackendScheme validates that scheme is non-empty, returning a
// ProtocolNotFound error otherwise. Used by the registry before lookup.
func MustBackendScheme(scheme string) error {
	if scheme == "" {
		return mscerr.New(mscerr.ProtocolNotFound, "dispatch", "", nil)
	}
	return nil
}
