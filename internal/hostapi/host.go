// Package hostapi defines the interfaces the core consumes from the
// enclosing managed-language runtime. Keeping them in a dedicated package
// (rather than on the root Engine type) avoids circular imports between
// the root package and the internal collaborators that need to call back
// into the host — tlbmanager for memory, the root package for upstream
// dispatch.
package hostapi

import "fmt"

// ClassRef, LoaderRef and MethodRef are opaque identities for runtime
// metadata objects. The host assigns and owns the real representation (a
// native pointer on the runtime side); the core only ever compares them
// for equality and hands them back to the host for string extraction.
type ClassRef uint64
type LoaderRef uint64
type MethodRef uint64

// ArgKind tags the union type carried by UpstreamArg.
type ArgKind int

const (
	ArgString ArgKind = iota
	ArgBytes
	ArgInt
)

// UpstreamArg is one argument to an upstream method invocation. The host
// API only needs to marshal strings, byte arrays and integers (spec.md
// §6), so this stays a closed tagged union rather than `any`.
type UpstreamArg struct {
	Kind  ArgKind
	Str   string
	Bytes []byte
	Int   int64
}

func StringArg(s string) UpstreamArg  { return UpstreamArg{Kind: ArgString, Str: s} }
func BytesArg(b []byte) UpstreamArg   { return UpstreamArg{Kind: ArgBytes, Bytes: b} }
func IntArg(i int64) UpstreamArg      { return UpstreamArg{Kind: ArgInt, Int: i} }

func (a UpstreamArg) String() string {
	switch a.Kind {
	case ArgString:
		return a.Str
	case ArgBytes:
		return fmt.Sprintf("%d bytes", len(a.Bytes))
	case ArgInt:
		return fmt.Sprintf("%d", a.Int)
	default:
		return "<unknown arg>"
	}
}

// Host is the set of operations the core needs from the runtime it is
// embedded in: safepoint coordination, virtual-memory reserve/commit/
// uncommit, and upstream method invocation. Production embedders implement
// this over real host callbacks (cgo or a runtime-provided shim); tests use
// the root package's MockHost.
type Host interface {
	// RunAtSafepoint executes op with all mutator threads paused at a
	// safepoint. The core's eviction protocol and forced buffer release
	// require this precondition; op must not block indefinitely.
	RunAtSafepoint(op func())

	// InSafepoint reports whether the calling goroutine is currently
	// executing inside a RunAtSafepoint callback. Used defensively by
	// operations that assert a safepoint precondition.
	InSafepoint() bool

	// PageSize returns the host's physical page granularity. The buffer
	// manager sizes buffers as a multiple of this value.
	PageSize() int

	// ReserveRegion reserves size bytes of address space with no physical
	// backing (PROT_NONE). The returned slice has len == size but touching
	// it before CommitPages is undefined.
	ReserveRegion(size int) ([]byte, error)

	// CommitPages backs region[offset:offset+length] with physical pages,
	// readable and writable once this returns nil.
	CommitPages(region []byte, offset, length int) error

	// UncommitPages releases the physical backing for
	// region[offset:offset+length] without releasing the address-space
	// reservation; a later CommitPages call may re-back the same range.
	UncommitPages(region []byte, offset, length int) error

	// InvokeUpstream calls the upstream agent's method by symbolic name
	// and signature. A non-nil error means the call itself could not be
	// issued (e.g. the method was never resolved); a pending exception
	// raised by a successfully issued call is retrieved separately via
	// TakePendingException.
	InvokeUpstream(method, signature string, args []UpstreamArg) error

	// TakePendingException returns and clears any exception left pending
	// by the most recent InvokeUpstream call on the calling thread, or nil
	// if none is pending.
	TakePendingException() error

	// ClassName, MethodName and MethodSignature extract the human-readable
	// symbol for a piece of runtime metadata. Called only while blowing a
	// record, before the metadata referenced by ref is freed.
	ClassName(ref ClassRef) string
	MethodName(ref MethodRef) string
	MethodSignature(ref MethodRef) string
}
