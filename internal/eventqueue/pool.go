package eventqueue

import "sync"

// nodePool recycles Event structs, adapted from the teacher's bucketed
// sync.Pool allocator down to a single homogeneous shape since every
// Event is the same small fixed size.
var nodePool = sync.Pool{
	New: func() any { return &Event{} },
}

// getEvent returns a zeroed Event ready to populate and Schedule.
func getEvent() *Event {
	ev := nodePool.Get().(*Event)
	*ev = Event{}
	return ev
}

// putEvent returns ev to the pool. Callers must not touch ev afterward.
func putEvent(ev *Event) {
	nodePool.Put(ev)
}

// NewClassLoadEvent returns a pooled Event carrying a ClassLoad payload.
func NewClassLoadEvent(p ClassLoadPayload) *Event {
	ev := getEvent()
	ev.Kind = KindClassLoad
	ev.ClassLoad = p
	return ev
}

// NewFirstCallEvent returns a pooled Event carrying a FirstCall payload.
func NewFirstCallEvent(p FirstCallPayload) *Event {
	ev := getEvent()
	ev.Kind = KindFirstCall
	ev.FirstCall = p
	return ev
}
