// Package crs provides the native core of Connected Runtime Services: an
// in-process telemetry capture subsystem that records class-load and
// first-call events from mutator threads into lock-free per-thread
// buffers, reclaims metadata references at safepoints before the host
// runtime's metaspace can free them, and delivers the resulting
// notifications to an upstream agent through a latch-guarded event
// queue.
package crs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crsruntime/crs-core/internal/arena"
	"github.com/crsruntime/crs-core/internal/config"
	"github.com/crsruntime/crs-core/internal/eventqueue"
	"github.com/crsruntime/crs-core/internal/hostapi"
	"github.com/crsruntime/crs-core/internal/logging"
	"github.com/crsruntime/crs-core/internal/record"
	"github.com/crsruntime/crs-core/internal/tlb"
	"github.com/crsruntime/crs-core/internal/tlbmanager"
)

// State represents the current lifecycle state of an Engine.
type State string

const (
	StateCreated State = "created"
	StateEngaged State = "engaged"
	StateDisabled State = "disabled"
)

// Options configures Engine construction.
type Options struct {
	// Context governs the background event-delivery worker's lifetime.
	// If nil, context.Background() is used.
	Context context.Context

	// Logger receives structured log output. If nil, logging.VM() is
	// used.
	Logger *logging.Logger

	// Observer receives metrics callbacks. If nil, a MetricsObserver
	// wrapping the Engine's own Metrics is used.
	Observer Observer

	// Config carries the parsed useCRS/log-level option string; see
	// internal/config. New, Init and Engage do not read it: the engine
	// runs the same whether or not Config.Enabled() reports true, and the
	// log levels it carries are not applied to Logger.
	Config config.Options
}

// Engine is the root object wiring together the buffer pool (C3), the
// arena allocator (C4), the wire codec (C5), and the event latch (C6)
// into the application-facing API described by the host integration.
type Engine struct {
	host   hostapi.Host
	logger *logging.Logger

	mgr    *tlbmanager.Manager
	arena  *arena.Arena
	events *eventqueue.Queue

	metrics  *Metrics
	observer Observer

	engaged  atomic.Bool
	disabled atomic.Bool

	traceCounter atomic.Uint32

	threadsMu sync.Mutex
	threads   map[*tlb.ThreadHandle]struct{}
	nextID    atomic.Uint64

	// system is a dedicated thread handle used to attribute arena
	// allocations made while blowing records at a safepoint, since that
	// work isn't attributable to any specific mutator thread.
	system *tlb.ThreadHandle

	// anonMu guards the trace-id/anonymous-class stamps, keyed by the
	// host's opaque ClassRef handles. The host API has no native
	// "attach metadata" call, so the engine keeps this side table
	// itself rather than asking hostapi.Host to grow one.
	anonMu     sync.Mutex
	traceIDs   map[hostapi.ClassRef]uint32
	anonymous  map[hostapi.ClassRef]bool

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates an Engine bound to host. The engine does not allocate any
// backing memory until Init is called.
func New(host hostapi.Host, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.VM()
	}
	metrics := NewMetrics()
	observer := opts.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	e := &Engine{
		host:      host,
		logger:    logger,
		metrics:   metrics,
		observer:  observer,
		threads:   make(map[*tlb.ThreadHandle]struct{}),
		traceIDs:  make(map[hostapi.ClassRef]uint32),
		anonymous: make(map[hostapi.ClassRef]bool),
		baseCtx:   baseCtx,
	}
	e.system = tlb.NewThreadHandle(0, "crs-system")
	return e
}

// Init reserves and seeds the buffer pool over an area of the given
// size and constructs the arena and event queue on top of it. It must
// be called once, before Engage.
func (e *Engine) Init(areaSize int) error {
	e.mgr = tlbmanager.New(e.host, e.logger.WithComponent("tlbmanager"))
	if err := e.mgr.Init(areaSize); err != nil {
		return &Error{Op: "Init", Code: ErrCodeStartup, Msg: err.Error(), Inner: err}
	}
	e.arena = arena.New(e.mgr)
	e.events = eventqueue.New()
	return nil
}

// Engage starts the background event-delivery worker and marks the
// engine ready to accept Notify* calls. ctx (from Options) governs the
// worker's lifetime; dispatch is called for every event drained from
// the queue.
func (e *Engine) Engage(dispatch func(*eventqueue.Event)) error {
	if e.mgr == nil {
		return NewError("Engage", ErrCodeStartup, "Init must be called before Engage")
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.cancel = cancel
	e.engaged.Store(true)
	go e.events.Run(ctx, func(ev *eventqueue.Event) {
		err := e.dispatchToUpstream(ev)
		e.observer.ObserveEventDelivery(err == nil)
		if dispatch != nil {
			dispatch(ev)
		}
	})
	e.logger.Info("engine engaged")
	return nil
}

// Disable permanently stops the engine: further Notify* calls are
// refused, and the event queue worker exits without delivering the
// events still queued.
func (e *Engine) Disable(reason string) {
	if e.disabled.Swap(true) {
		return
	}
	e.mgr.Disable()
	e.events.Disable()
	if e.cancel != nil {
		e.cancel()
	}
	e.logger.Warn("engine disabled", "reason", reason)
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() State {
	if e.disabled.Load() {
		return StateDisabled
	}
	if e.engaged.Load() {
		return StateEngaged
	}
	return StateCreated
}

// Metrics returns the engine's metrics instance.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// AttachThread registers a new mutator thread and returns its handle.
// The handle must be passed to every subsequent Notify* call made by
// that thread and to NotifyThreadExit when the thread terminates.
func (e *Engine) AttachThread(name string) *tlb.ThreadHandle {
	id := e.nextID.Add(1)
	th := tlb.NewThreadHandle(id, name)
	e.threadsMu.Lock()
	e.threads[th] = struct{}{}
	e.threadsMu.Unlock()
	return th
}

// NotifyThreadExit releases th's buffer back to the pool and forgets
// the thread. Safe to call even if th never allocated.
func (e *Engine) NotifyThreadExit(th *tlb.ThreadHandle) {
	e.arena.ReleaseThread(th)
	e.threadsMu.Lock()
	delete(e.threads, th)
	e.threadsMu.Unlock()
}

// AssignTraceID stamps class with a fresh trace identifier, unique
// within this Engine, and returns it. Idempotent: a class that already
// has a trace id keeps it (0 for a class marked anonymous).
func (e *Engine) AssignTraceID(class hostapi.ClassRef) uint32 {
	e.anonMu.Lock()
	defer e.anonMu.Unlock()
	if id, ok := e.traceIDs[class]; ok {
		return id
	}
	id := e.traceCounter.Add(1)
	e.traceIDs[class] = id
	return id
}

// MarkAnonymous records that class is an anonymous (e.g. lambda-form or
// dynamically-generated) class and clears its trace id to 0, the value
// AssignTraceID never hands out; AssignTraceID keeps returning 0 for it.
func (e *Engine) MarkAnonymous(class hostapi.ClassRef) {
	e.anonMu.Lock()
	defer e.anonMu.Unlock()
	e.anonymous[class] = true
	e.traceIDs[class] = 0
}

// IsAnonymous reports whether MarkAnonymous has been called for class.
func (e *Engine) IsAnonymous(class hostapi.ClassRef) bool {
	e.anonMu.Lock()
	defer e.anonMu.Unlock()
	return e.anonymous[class]
}

// NotifyClassLoad posts a CLASS_LOAD record for the given class,
// loaded by loaderID, with an optional content hash and source
// location string. sameAsAnchor tells the arena whether source is
// byte-identical to the buffer's current back-reference anchor for the
// CLASS_LOAD category; the arena may still force a full record if the
// buffer has just rotated (spec.md §4.4).
func (e *Engine) NotifyClassLoad(th *tlb.ThreadHandle, loaderID, classID uint64, hash [32]byte, hasHash bool, source string, sameAsAnchor bool) error {
	if e.disabled.Load() {
		return NewError("NotifyClassLoad", ErrCodeInvariant, "engine disabled")
	}

	hasSource := source != ""
	sizeFull := record.ClassLoadSize(hasHash, hasSource, len(source))
	sizeShort := record.ClassLoadSize(hasHash, false, 0)

	buf, offset, isNewReference, ok := e.arena.AllocReference(th, classLoadRefCategory, !sameAsAnchor, sizeShort, sizeFull)
	if !ok {
		e.observer.ObserveOverflow()
		return NewError("NotifyClassLoad", ErrCodeOverflow, "arena allocation failed")
	}

	rec := record.ClassLoad{
		LoaderID:      loaderID,
		ClassID:       classID,
		HasHash:       hasHash,
		Hash:          hash,
		HasSource:     hasSource,
		HasSameSource: hasSource && !isNewReference,
	}
	if rec.HasSameSource {
		rec.Source = ""
	} else {
		rec.Source = source
	}
	record.EncodeClassLoad(buf.Base(), offset, rec)
	e.observer.ObserveClassLoad(false)
	return nil
}

// NotifyFirstCall posts a FIRST_CALL record for the given method,
// identified by a raw metadata pointer and its holder class.
func (e *Engine) NotifyFirstCall(th *tlb.ThreadHandle, methodPtr, holderClassID uint64) error {
	if e.disabled.Load() {
		return NewError("NotifyFirstCall", ErrCodeInvariant, "engine disabled")
	}

	buf, offset, ok := e.arena.Alloc(th, record.FirstCallSize())
	if !ok {
		e.observer.ObserveOverflow()
		return NewError("NotifyFirstCall", ErrCodeOverflow, "arena allocation failed")
	}
	record.EncodeFirstCall(buf.Base(), offset, record.FirstCall{MethodPtr: methodPtr, HolderClassID: holderClassID})
	e.observer.ObserveFirstCall(false)
	return nil
}

// classLoadRefCategory is the single back-reference category used for
// CLASS_LOAD records (spec.md open question O2: kept as a compile-time
// constant rather than a runtime-configurable count).
const classLoadRefCategory = 0

// FlushBuffers drives a full flush pass over the buffer pool: each
// processed buffer's records are walked in address order and
// materialized into eventqueue.Event notifications. If andRelease is
// true, every attached thread's current buffer is force-released at a
// safepoint first, together with the engine's own buffer that holds
// blown records written at eviction time, so the flush can reclaim
// buffers that would otherwise stay pinned by an idle thread.
func (e *Engine) FlushBuffers(andRelease bool) error {
	if e.disabled.Load() {
		return NewError("FlushBuffers", ErrCodeInvariant, "engine disabled")
	}

	if andRelease {
		e.host.RunAtSafepoint(func() {
			e.threadsMu.Lock()
			defer e.threadsMu.Unlock()
			for th := range e.threads {
				e.arena.ReleaseThread(th)
			}
			e.arena.ReleaseThread(e.system)
		})
	}

	start := time.Now()
	reclaimed := e.arena.Flush(e.processBuffer)
	e.observer.ObserveFlush(uint64(time.Since(start).Nanoseconds()), reclaimed)
	e.metrics.SetBufferGauges(int32(e.mgr.NumCommitted()), int64(e.mgr.BytesUsed()))
	return nil
}

// processBuffer walks buf's records in address order, resolving each
// has_same_source CLASS_LOAD against a running anchor and scheduling an
// eventqueue.Event per live record. Tombstoned records are skipped.
func (e *Engine) processBuffer(buf *tlb.Buffer) {
	base := buf.Base()
	var offset uint32
	limit := buf.Pos()

	var anchorSource string
	var haveAnchor bool

	for offset < limit {
		tag, size := record.PeekHeader(base, offset)
		switch tag {
		case record.TagClassLoad:
			cl := record.DecodeClassLoad(base, offset)
			if !cl.HasSameSource {
				anchorSource = cl.Source
				haveAnchor = true
			}
			src := cl.Source
			if cl.HasSameSource && haveAnchor {
				src = anchorSource
			}
			e.scheduleClassLoad(cl.LoaderID, cl.ClassID, cl.HasHash, cl.Hash, src, false, "")
		case record.TagClassLoadBlown:
			cb := record.DecodeClassLoadBlown(base, offset)
			e.scheduleClassLoad(cb.LoaderID, cb.ClassID, cb.HasHash, cb.Hash, cb.Source, true, cb.ClassName)
		case record.TagFirstCall:
			fc := record.DecodeFirstCall(base, offset)
			e.scheduleFirstCall(fc.HolderClassID, fc.MethodPtr, false, "", "")
		case record.TagFirstCallBlown:
			fb := record.DecodeFirstCallBlown(base, offset)
			e.scheduleFirstCall(fb.HolderClassID, 0, true, fb.MethodName, fb.Signature)
		case record.TagTombstone:
			// already reclaimed at eviction time; nothing to deliver.
		}
		if size == 0 {
			// An internal invariant was violated (spec.md §7): every
			// record has a positive, word-aligned footprint, so a zero
			// length can never legitimately occur. Stop rather than
			// spin forever re-reading the same offset.
			e.logger.Error("processBuffer: zero-length record, aborting walk", "offset", offset, "tag", tag)
			break
		}
		offset += uint32(size)
	}
}

func (e *Engine) scheduleClassLoad(loaderID, classID uint64, hasHash bool, hash [32]byte, source string, blown bool, className string) {
	ev := eventqueue.NewClassLoadEvent(eventqueue.ClassLoadPayload{
		LoaderID:  loaderID,
		ClassID:   classID,
		HasHash:   hasHash,
		Hash:      hash,
		Source:    source,
		ClassName: className,
	})
	e.events.Schedule(ev)
	if blown {
		e.observer.ObserveClassLoad(true)
	}
	e.observer.ObserveEventScheduled()
}

func (e *Engine) scheduleFirstCall(holderClassID, methodPtr uint64, blown bool, methodName, signature string) {
	ev := eventqueue.NewFirstCallEvent(eventqueue.FirstCallPayload{
		HolderClassID: holderClassID,
		MethodPtr:     methodPtr,
		MethodName:    methodName,
		Signature:     signature,
	})
	e.events.Schedule(ev)
	if blown {
		e.observer.ObserveFirstCall(true)
	}
	e.observer.ObserveEventScheduled()
}

// NotifyMetaspaceEvictionClass must be called before the host frees a
// Class's metadata; if the caller is not already at a safepoint it runs
// the walk through host.RunAtSafepoint. It rewrites every leased
// buffer's CLASS_LOAD records for classID, and their same-source
// dependents, into self-describing CLASS_LOAD_BLOWN records; where the
// blown form does not fit in the original slot it is written to the
// engine's own buffer and the original is tombstoned. FIRST_CALL records
// whose holder is classID are not rewritten.
func (e *Engine) NotifyMetaspaceEvictionClass(class hostapi.ClassRef, classID uint64) {
	if !e.host.InSafepoint() {
		e.host.RunAtSafepoint(func() { e.blowClass(class, classID) })
		return
	}
	e.blowClass(class, classID)
}

func (e *Engine) blowClass(class hostapi.ClassRef, classID uint64) {
	className := e.host.ClassName(class)
	e.mgr.LeasedBuffersDo(func(buf *tlb.Buffer) {
		e.blowBufferForClass(buf, classID, className)
	})
}

// blowBufferForClass performs the single forward scan over buf
// described by spec.md open question O1's resolution: each CLASS_LOAD
// without has_same_source becomes the anchor for following
// has_same_source records; when the evicted class matches either the
// anchor itself or one of its has_same_source dependents, that record
// is rewritten to CLASS_LOAD_BLOWN using the anchor's original source
// text, and any dependent chained off a just-blown anchor is eagerly
// blown too rather than left pointing at a tombstone.
func (e *Engine) blowBufferForClass(buf *tlb.Buffer, classID uint64, className string) {
	base := buf.Base()
	var offset uint32
	limit := buf.Pos()

	var anchorSource string
	var anchorBlownThisPass bool
	var haveAnchor bool

	for offset < limit {
		tag, size := record.PeekHeader(base, offset)
		if tag == record.TagClassLoad {
			cl := record.DecodeClassLoad(base, offset)
			if !cl.HasSameSource {
				anchorSource = cl.Source
				haveAnchor = true
				anchorBlownThisPass = cl.ClassID == classID
				if anchorBlownThisPass {
					e.rewriteClassLoadBlown(buf, offset, cl, className)
				}
			} else {
				evictThis := cl.ClassID == classID
				if evictThis || (haveAnchor && anchorBlownThisPass) {
					blownClassName := className
					if !evictThis {
						// This dependent isn't itself the class being
						// evicted — it's being blown eagerly because its
						// anchor was. It still needs its own name, not
						// the anchor's.
						blownClassName = e.host.ClassName(hostapi.ClassRef(cl.ClassID))
					}
					rec := cl
					rec.Source = anchorSource
					e.rewriteClassLoadBlown(buf, offset, rec, blownClassName)
				}
			}
		}
		if size == 0 {
			e.logger.Error("blowBufferForClass: zero-length record, aborting walk", "offset", offset, "tag", tag)
			break
		}
		offset += uint32(size)
	}
}

func (e *Engine) rewriteClassLoadBlown(buf *tlb.Buffer, offset uint32, cl record.ClassLoad, className string) {
	newSize := record.ClassLoadBlownSize(cl.HasHash, len(cl.Source), len(className))
	_, oldSize := record.PeekHeader(buf.Base(), offset)
	if newSize > oldSize {
		// The blown form must never be larger than the footprint it
		// replaces; emit it into the system thread's buffer instead and
		// tombstone the original, preserving I2.
		e.emitClassLoadBlownElsewhere(cl, className)
		record.SetTombstone(buf.Base(), offset)
		e.metrics.RecordTombstone()
		return
	}
	record.EncodeClassLoadBlown(buf.Base(), offset, record.ClassLoadBlown{
		LoaderID:  cl.LoaderID,
		ClassID:   cl.ClassID,
		HasHash:   cl.HasHash,
		Hash:      cl.Hash,
		Source:    cl.Source,
		ClassName: className,
	})
}

func (e *Engine) emitClassLoadBlownElsewhere(cl record.ClassLoad, className string) {
	size := record.ClassLoadBlownSize(cl.HasHash, len(cl.Source), len(className))
	buf, offset, ok := e.arena.Alloc(e.system, size)
	if !ok {
		e.observer.ObserveOverflow()
		return
	}
	record.EncodeClassLoadBlown(buf.Base(), offset, record.ClassLoadBlown{
		LoaderID:  cl.LoaderID,
		ClassID:   cl.ClassID,
		HasHash:   cl.HasHash,
		Hash:      cl.Hash,
		Source:    cl.Source,
		ClassName: className,
	})
}

// NotifyMetaspaceEvictionMethod must be called at a safepoint before
// the host frees a Method's metadata. It rewrites every leased
// buffer's FIRST_CALL records pointing at method into self-describing
// FIRST_CALL_BLOWN records.
func (e *Engine) NotifyMetaspaceEvictionMethod(method hostapi.MethodRef, methodPtr, holderClassID uint64) {
	blow := func() {
		name := e.host.MethodName(method)
		sig := e.host.MethodSignature(method)
		e.mgr.LeasedBuffersDo(func(buf *tlb.Buffer) {
			e.blowBufferForMethod(buf, methodPtr, holderClassID, name, sig)
		})
	}
	if !e.host.InSafepoint() {
		e.host.RunAtSafepoint(blow)
		return
	}
	blow()
}

func (e *Engine) blowBufferForMethod(buf *tlb.Buffer, methodPtr, holderClassID uint64, name, sig string) {
	base := buf.Base()
	var offset uint32
	limit := buf.Pos()

	for offset < limit {
		tag, size := record.PeekHeader(base, offset)
		if tag == record.TagFirstCall {
			fc := record.DecodeFirstCall(base, offset)
			if fc.MethodPtr == methodPtr {
				newSize := record.FirstCallBlownSize(len(name), len(sig))
				if newSize > size {
					e.emitFirstCallBlownElsewhere(holderClassID, name, sig)
					record.SetTombstone(base, offset)
					e.metrics.RecordTombstone()
				} else {
					record.EncodeFirstCallBlown(base, offset, record.FirstCallBlown{
						HolderClassID: holderClassID,
						MethodName:    name,
						Signature:     sig,
					})
				}
			}
		}
		if size == 0 {
			e.logger.Error("blowBufferForMethod: zero-length record, aborting walk", "offset", offset, "tag", tag)
			break
		}
		offset += uint32(size)
	}
}

func (e *Engine) emitFirstCallBlownElsewhere(holderClassID uint64, name, sig string) {
	size := record.FirstCallBlownSize(len(name), len(sig))
	buf, offset, ok := e.arena.Alloc(e.system, size)
	if !ok {
		e.observer.ObserveOverflow()
		return
	}
	record.EncodeFirstCallBlown(buf.Base(), offset, record.FirstCallBlown{
		HolderClassID: holderClassID,
		MethodName:    name,
		Signature:     sig,
	})
}

// dispatchToUpstream converts one processed event into a host upstream
// call and surfaces any pending exception the call raised (spec.md §7).
func (e *Engine) dispatchToUpstream(ev *eventqueue.Event) error {
	var args []hostapi.UpstreamArg
	var method, signature string

	switch ev.Kind {
	case eventqueue.KindClassLoad:
		p := ev.ClassLoad
		method = "notifyClassLoad"
		signature = "(JJLjava/lang/String;Ljava/lang/String;)V"
		args = []hostapi.UpstreamArg{
			hostapi.IntArg(int64(p.LoaderID)),
			hostapi.IntArg(int64(p.ClassID)),
			hostapi.StringArg(p.Source),
			hostapi.StringArg(p.ClassName),
		}
	case eventqueue.KindFirstCall:
		p := ev.FirstCall
		method = "notifyFirstCall"
		signature = "(JJLjava/lang/String;Ljava/lang/String;)V"
		args = []hostapi.UpstreamArg{
			hostapi.IntArg(int64(p.HolderClassID)),
			hostapi.IntArg(int64(p.MethodPtr)),
			hostapi.StringArg(p.MethodName),
			hostapi.StringArg(p.Signature),
		}
	}

	if err := e.host.InvokeUpstream(method, signature, args); err != nil {
		e.logger.WithError(err).Error("upstream call failed")
		return WrapError("dispatchToUpstream", err)
	}
	if err := e.host.TakePendingException(); err != nil {
		e.logger.WithError(err).Error("upstream call raised a pending exception")
		return NewComponentError("dispatchToUpstream", "hostapi", ErrCodeUpstreamCall, err.Error())
	}
	return nil
}

// ShouldNotifyJava is the cheap poll the host's service-thread main
// loop uses to decide whether to call NotifyJava explicitly, bypassing
// the background worker (e.g. right before a safepoint where the
// worker goroutine might not get scheduled promptly).
func (e *Engine) ShouldNotifyJava() bool {
	return e.events.ShouldNotify()
}

// NotifyJava synchronously drains and dispatches the event queue,
// bypassing the background worker started by Engage.
func (e *Engine) NotifyJava() {
	e.events.NotifyJava(func(ev *eventqueue.Event) {
		err := e.dispatchToUpstream(ev)
		e.observer.ObserveEventDelivery(err == nil)
	})
}
