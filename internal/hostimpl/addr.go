package hostimpl

import "unsafe"

// addrOf returns the address of a slice's backing array, wrapped in its
// own function the way the queue runner's pointerFromMmap helper avoids
// go vet's unsafe.Pointer conversion warnings at the call site.
func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
