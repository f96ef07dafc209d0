// Package record implements the message family and wire codec (C5): the
// tagged, length-prefixed records packed into a buffer, and the encode/
// decode pairs the posting and flush/eviction paths use to read and write
// them in place.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/crsruntime/crs-core/internal/constants"
)

// Tag identifies a record's variant. Every record begins with a one-byte
// tag followed by a two-byte length (spec.md §4.5's common header).
type Tag uint8

const (
	TagClassLoad Tag = iota + 1
	TagClassLoadBlown
	TagFirstCall
	TagFirstCallBlown
	TagTombstone
	// TagGCLog is reserved but never emitted (spec.md open question O3):
	// the tag space stays allocated so a future collector can use it
	// without renumbering the others.
	TagGCLog
)

func (t Tag) String() string {
	switch t {
	case TagClassLoad:
		return "CLASS_LOAD"
	case TagClassLoadBlown:
		return "CLASS_LOAD_BLOWN"
	case TagFirstCall:
		return "FIRST_CALL"
	case TagFirstCallBlown:
		return "FIRST_CALL_BLOWN"
	case TagTombstone:
		return "TOMBSTONE"
	case TagGCLog:
		return "GC_LOG"
	default:
		return fmt.Sprintf("TAG(%d)", uint8(t))
	}
}

const (
	flagHasHash uint8 = 1 << iota
	flagHasSource
	flagHasSameSource
)

// PeekHeader reads the tag and total length (including the header) of the
// record at offset, without interpreting its payload. Used by the flush
// and eviction walks to step between records.
func PeekHeader(buf []byte, offset uint32) (tag Tag, size uint16) {
	tag = Tag(buf[offset])
	size = binary.LittleEndian.Uint16(buf[offset+1:])
	return tag, size
}

// SetTombstone rewrites the record at offset to TOMBSTONE in place. The
// length field is left untouched so the record's byte footprint — and
// therefore every back-reference pointing at it — survives (spec.md I2).
func SetTombstone(buf []byte, offset uint32) {
	buf[offset] = byte(TagTombstone)
}

func putHeader(buf []byte, offset uint32, tag Tag, size uint16) {
	buf[offset] = byte(tag)
	binary.LittleEndian.PutUint16(buf[offset+1:], size)
}

// wordAlign rounds n up to the next multiple of constants.WordSize. Every
// Size* function below returns an aligned length: spec.md §3 requires
// records to start on a word boundary, and tlb.Buffer.Alloc bump-allocates
// in word-aligned strides, so the length stored in a record's own header
// must match the stride its neighbor actually starts at — otherwise a walk
// that steps by the header's declared size lands inside the padding gap
// before the next record instead of on it.
func wordAlign(n int) int {
	const w = int(constants.WordSize)
	return (n + w - 1) &^ (w - 1)
}

// ClassLoad is the decoded form of a CLASS_LOAD record: a pointer to
// runtime Class metadata, pinned until processed or blown.
type ClassLoad struct {
	LoaderID      uint64
	ClassID       uint64
	HasHash       bool
	Hash          [constants.HashSize]byte
	HasSource     bool
	HasSameSource bool
	// Source holds the inline source string when HasSource is true and
	// HasSameSource is false; empty otherwise, since a same-source record
	// carries no inline payload by definition.
	Source string
}

const classLoadFixedSize = constants.RecordHeaderSize + 1 /* flags */ + 8 /* loader */ + 8 /* class */

// ClassLoadSize returns the word-aligned wire size of a CLASS_LOAD record
// with the given hash/source presence and source length. hasSource
// implies the source is inline (size_full from spec.md §4.4); pass
// hasSource=false to compute size_short for a has_same_source record.
func ClassLoadSize(hasHash, hasSource bool, sourceLen int) uint16 {
	n := classLoadFixedSize
	if hasHash {
		n += constants.HashSize
	}
	if hasSource {
		n += sourceLen + 1 // NUL terminator, matching the C string source
	}
	return uint16(wordAlign(n))
}

// EncodeClassLoad writes r at offset and returns the number of bytes
// written (the record's total size).
func EncodeClassLoad(buf []byte, offset uint32, r ClassLoad) uint16 {
	inline := r.HasSource && !r.HasSameSource
	size := ClassLoadSize(r.HasHash, inline, len(r.Source))
	putHeader(buf, offset, TagClassLoad, size)

	p := offset + constants.RecordHeaderSize
	var flags uint8
	if r.HasHash {
		flags |= flagHasHash
	}
	if r.HasSource {
		flags |= flagHasSource
	}
	if r.HasSameSource {
		flags |= flagHasSameSource
	}
	buf[p] = flags
	p++
	binary.LittleEndian.PutUint64(buf[p:], r.LoaderID)
	p += 8
	binary.LittleEndian.PutUint64(buf[p:], r.ClassID)
	p += 8
	if r.HasHash {
		copy(buf[p:], r.Hash[:])
		p += constants.HashSize
	}
	if inline {
		copy(buf[p:], r.Source)
		buf[p+uint32(len(r.Source))] = 0
	}
	return size
}

// DecodeClassLoad reads the CLASS_LOAD record at offset.
func DecodeClassLoad(buf []byte, offset uint32) ClassLoad {
	p := offset + constants.RecordHeaderSize
	flags := buf[p]
	p++
	r := ClassLoad{
		HasHash:       flags&flagHasHash != 0,
		HasSource:     flags&flagHasSource != 0,
		HasSameSource: flags&flagHasSameSource != 0,
	}
	r.LoaderID = binary.LittleEndian.Uint64(buf[p:])
	p += 8
	r.ClassID = binary.LittleEndian.Uint64(buf[p:])
	p += 8
	if r.HasHash {
		copy(r.Hash[:], buf[p:p+constants.HashSize])
		p += constants.HashSize
	}
	if r.HasSource && !r.HasSameSource {
		r.Source = cString(buf[p:])
	}
	return r
}

// ClassLoadBlown is the decoded form of a CLASS_LOAD_BLOWN record: fully
// self-describing, safe to process after the referenced metadata is
// freed.
type ClassLoadBlown struct {
	LoaderID  uint64
	ClassID   uint64
	HasHash   bool
	Hash      [constants.HashSize]byte
	Source    string
	ClassName string
}

const classLoadBlownFixedSize = constants.RecordHeaderSize + 1 + 8 + 8

// ClassLoadBlownSize returns the word-aligned wire size of a
// CLASS_LOAD_BLOWN record.
func ClassLoadBlownSize(hasHash bool, sourceLen, classNameLen int) uint16 {
	n := classLoadBlownFixedSize
	if hasHash {
		n += constants.HashSize
	}
	n += sourceLen + 1
	n += classNameLen + 1
	return uint16(wordAlign(n))
}

// EncodeClassLoadBlown writes r at offset and returns its total size.
func EncodeClassLoadBlown(buf []byte, offset uint32, r ClassLoadBlown) uint16 {
	size := ClassLoadBlownSize(r.HasHash, len(r.Source), len(r.ClassName))
	putHeader(buf, offset, TagClassLoadBlown, size)

	p := offset + constants.RecordHeaderSize
	var flags uint8
	if r.HasHash {
		flags |= flagHasHash
	}
	flags |= flagHasSource
	buf[p] = flags
	p++
	binary.LittleEndian.PutUint64(buf[p:], r.LoaderID)
	p += 8
	binary.LittleEndian.PutUint64(buf[p:], r.ClassID)
	p += 8
	if r.HasHash {
		copy(buf[p:], r.Hash[:])
		p += constants.HashSize
	}
	copy(buf[p:], r.Source)
	buf[p+uint32(len(r.Source))] = 0
	p += uint32(len(r.Source)) + 1
	copy(buf[p:], r.ClassName)
	buf[p+uint32(len(r.ClassName))] = 0
	return size
}

// DecodeClassLoadBlown reads the CLASS_LOAD_BLOWN record at offset.
func DecodeClassLoadBlown(buf []byte, offset uint32) ClassLoadBlown {
	p := offset + constants.RecordHeaderSize
	flags := buf[p]
	p++
	r := ClassLoadBlown{HasHash: flags&flagHasHash != 0}
	r.LoaderID = binary.LittleEndian.Uint64(buf[p:])
	p += 8
	r.ClassID = binary.LittleEndian.Uint64(buf[p:])
	p += 8
	if r.HasHash {
		copy(r.Hash[:], buf[p:p+constants.HashSize])
		p += constants.HashSize
	}
	r.Source = cString(buf[p:])
	p += uint32(len(r.Source)) + 1
	r.ClassName = cString(buf[p:])
	return r
}

// FirstCall is the decoded form of a FIRST_CALL record: a pointer to
// runtime Method metadata, pinned until processed or blown.
type FirstCall struct {
	MethodPtr     uint64
	HolderClassID uint64
}

const firstCallSize = constants.RecordHeaderSize + 8 + 8

// FirstCallSize returns the word-aligned wire size of a FIRST_CALL
// record, which is otherwise fixed (no variable-length payload).
func FirstCallSize() uint16 { return uint16(wordAlign(firstCallSize)) }

// EncodeFirstCall writes r at offset and returns its total size.
func EncodeFirstCall(buf []byte, offset uint32, r FirstCall) uint16 {
	size := FirstCallSize()
	putHeader(buf, offset, TagFirstCall, size)
	p := offset + constants.RecordHeaderSize
	binary.LittleEndian.PutUint64(buf[p:], r.MethodPtr)
	p += 8
	binary.LittleEndian.PutUint64(buf[p:], r.HolderClassID)
	return size
}

// DecodeFirstCall reads the FIRST_CALL record at offset.
func DecodeFirstCall(buf []byte, offset uint32) FirstCall {
	p := offset + constants.RecordHeaderSize
	r := FirstCall{MethodPtr: binary.LittleEndian.Uint64(buf[p:])}
	p += 8
	r.HolderClassID = binary.LittleEndian.Uint64(buf[p:])
	return r
}

// FirstCallBlown is the decoded form of a FIRST_CALL_BLOWN record: fully
// self-describing.
type FirstCallBlown struct {
	HolderClassID uint64
	MethodName    string
	Signature     string
}

const firstCallBlownFixedSize = constants.RecordHeaderSize + 8

// FirstCallBlownSize returns the word-aligned wire size of a
// FIRST_CALL_BLOWN record.
func FirstCallBlownSize(methodNameLen, signatureLen int) uint16 {
	return uint16(wordAlign(firstCallBlownFixedSize + methodNameLen + 1 + signatureLen + 1))
}

// EncodeFirstCallBlown writes r at offset and returns its total size.
func EncodeFirstCallBlown(buf []byte, offset uint32, r FirstCallBlown) uint16 {
	size := FirstCallBlownSize(len(r.MethodName), len(r.Signature))
	putHeader(buf, offset, TagFirstCallBlown, size)
	p := offset + constants.RecordHeaderSize
	binary.LittleEndian.PutUint64(buf[p:], r.HolderClassID)
	p += 8
	copy(buf[p:], r.MethodName)
	buf[p+uint32(len(r.MethodName))] = 0
	p += uint32(len(r.MethodName)) + 1
	copy(buf[p:], r.Signature)
	buf[p+uint32(len(r.Signature))] = 0
	return size
}

// DecodeFirstCallBlown reads the FIRST_CALL_BLOWN record at offset.
func DecodeFirstCallBlown(buf []byte, offset uint32) FirstCallBlown {
	p := offset + constants.RecordHeaderSize
	r := FirstCallBlown{HolderClassID: binary.LittleEndian.Uint64(buf[p:])}
	p += 8
	r.MethodName = cString(buf[p:])
	p += uint32(len(r.MethodName)) + 1
	r.Signature = cString(buf[p:])
	return r
}

func cString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
