// Package glob implements the pattern matcher of spec.md §4.13: shell
// wildcards, POSIX character classes, brace expansion, and recursive "**",
// executed against an arbitrary backend through the small VFS interface
// below so one pattern can walk multiple distinct roots (e.g. buckets).
// The algorithm itself is megfile's lib/glob.py ported structurally —
// _iglob/_glob0/_glob1/_glob2/_rlistdir become iglobInternal/glob0/glob1/
// glob2/rlistdir below.
package glob

import (
	"strings"

	"github.com/NVIDIA/mscfile/mscerr"
)

// Entry is one directory entry as seen by the glob engine.
type Entry struct {
	Name  string
	IsDir bool
}

// VFS is the minimal surface the glob engine needs from a backend. Scandir
// must return entries in ascending name order (spec.md §4.2 contract every
// backend's Listdir/Scandir already satisfies).
type VFS interface {
	Exists(path string) bool
	IsDir(path string) bool
	Scandir(dir string) ([]Entry, error)
}

// Glob returns every path matching pattern, expanding any brace groups
// first (spec.md §4.13 step 1) and dispatching each brace-free expansion
// independently. missingOK=false and a given expansion yielding zero
// results raises immediately (Open Question in spec.md §9, decided: match
// megfile's "raise on first non-existent expansion", not partial success —
// see DESIGN.md).
func Glob(pattern string, vfs VFS, recursive, missingOK bool) ([]string, error) {
	expansions := ExpandBraces(pattern)

	var all []string
	for _, exp := range expansions {
		matches := Iglob(exp, vfs, recursive)
		if !missingOK && len(matches) == 0 {
			return nil, mscerr.New(mscerr.NotFound, "glob", exp, nil)
		}
		all = append(all, matches...)
	}
	return all, nil
}

// Iglob globs a single, already brace-free pattern.
func Iglob(pattern string, vfs VFS, recursive bool) []string {
	results := iglobInternal(pattern, recursive, false, vfs)
	if recursive && isRecursivePattern(pattern) && len(results) > 0 && results[0] == "" {
		results = results[1:]
	}
	return results
}

func iglobInternal(pattern string, recursive, dironly bool, vfs VFS) []string {
	dirname, basename := splitPath(pattern)

	if !HasMagic(pattern) {
		if basename != "" {
			if vfs.Exists(pattern) {
				return []string{pattern}
			}
			return nil
		}
		// Pattern ends in "/": matches only directories.
		if vfs.IsDir(dirname) {
			return []string{pattern}
		}
		return nil
	}

	if dirname == "" {
		if recursive && isRecursivePattern(basename) {
			return glob2("", basename, dironly, vfs)
		}
		return glob1("", basename, dironly, vfs)
	}

	var dirs []string
	if dirname != pattern && HasMagic(dirname) {
		dirs = iglobInternal(dirname, recursive, true, vfs)
	} else if vfs.Exists(dirname) {
		dirs = []string{dirname}
	}

	globInDir := glob0
	if HasMagic(basename) {
		if recursive && isRecursivePattern(basename) {
			globInDir = glob2
		} else {
			globInDir = glob1
		}
	}

	var result []string
	for _, d := range dirs {
		for _, name := range globInDir(d, basename, dironly, vfs) {
			result = append(result, joinPath(d, name))
		}
	}
	return result
}

// glob0 checks a single literal basename for existence (no magic).
func glob0(dirname, basename string, dironly bool, vfs VFS) []string {
	if basename == "" {
		if vfs.IsDir(dirname) {
			return []string{basename}
		}
		return nil
	}
	if vfs.Exists(joinPath(dirname, basename)) {
		return []string{basename}
	}
	return nil
}

// glob1 matches a single-segment magic pattern against one directory's
// listing (hidden rule applied per spec.md §4.13 step 4).
func glob1(dirname, pattern string, dironly bool, vfs VFS) []string {
	names := iterdir(dirname, dironly, vfs)
	if !isHidden(pattern) {
		filtered := names[:0]
		for _, n := range names {
			if !isHidden(n) {
				filtered = append(filtered, n)
			}
		}
		names = filtered
	}
	return Filter(names, pattern)
}

// glob2 implements the recursive "**" component: yields the empty string
// (the starting directory itself) followed by every descendant, depth
// first.
func glob2(dirname, pattern string, dironly bool, vfs VFS) []string {
	out := []string{""}
	out = append(out, rlistdir(dirname, dironly, vfs)...)
	return out
}

func iterdir(dirname string, dironly bool, vfs VFS) []string {
	d := dirname
	if d == "" {
		d = "."
	}
	entries, err := vfs.Scandir(d)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !dironly || e.IsDir {
			names = append(names, e.Name)
		}
	}
	return names
}

func rlistdir(dirname string, dironly bool, vfs VFS) []string {
	var out []string
	for _, name := range iterdir(dirname, dironly, vfs) {
		if isHidden(name) {
			continue
		}
		out = append(out, name)
		for _, sub := range rlistdir(joinPath(dirname, name), dironly, vfs) {
			out = append(out, joinPath(name, sub))
		}
	}
	return out
}

func splitPath(p string) (dirname, basename string) {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "", p
	}
	if idx == 0 {
		return "/", p[1:]
	}
	return p[:idx], p[idx+1:]
}

func joinPath(dir, name string) string {
	if name == "" {
		return dir
	}
	if dir == "" {
		return name
	}
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}
