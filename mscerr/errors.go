// Package mscerr defines the error taxonomy every backend reports through.
// A backend never hands back a raw transport error; it classifies it into
// one of the Kind values here so callers (and the retry layer) can branch
// on meaning instead of on a concrete type per backend.
package mscerr

import (
	"errors"
	"fmt"
)

// Kind is the classification of a failure, independent of which backend
// produced it.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	AlreadyExists
	NotADirectory
	IsADirectory
	PermissionDenied
	Unsupported
	SameFile
	ProtocolNotFound
	ProtocolAlreadyExists
	Transport
	Integrity
	Config
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case AlreadyExists:
		return "already exists"
	case NotADirectory:
		return "not a directory"
	case IsADirectory:
		return "is a directory"
	case PermissionDenied:
		return "permission denied"
	case Unsupported:
		return "unsupported"
	case SameFile:
		return "same file"
	case ProtocolNotFound:
		return "protocol not found"
	case ProtocolAlreadyExists:
		return "protocol already exists"
	case Transport:
		return "transport error"
	case Integrity:
		return "integrity error"
	case Config:
		return "configuration error"
	default:
		return "unknown error"
	}
}

// Error is the concrete error type returned by every exported operation in
// this module. Path is quoted single-style in Error() to match megfile's
// user-visible message convention.
type Error struct {
	Kind Kind
	Op   string // e.g. "stat", "open", "listdir"
	Path string // PathWithProtocol of the operand, if any
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Path == "" {
		if e.Err == nil {
			return fmt.Sprintf("%s: %s", e.Op, e.Kind)
		}
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: '%s'", e.Op, e.Kind, e.Path)
	}
	return fmt.Sprintf("%s: %s: '%s': %v", e.Op, e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an *Error. cause may be nil.
func New(kind Kind, op, path string, cause error) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: cause}
}

// Is reports whether err (or anything it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind carried by err, or Unknown if err is not (or does
// not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// NoSuchFile formats the "No such file: '<path>'" message megfile-style
// callers expect, wrapped as a NotFound Error.
func NoSuchFile(op, path string) error {
	return New(NotFound, op, path, errors.New("no such file"))
}
