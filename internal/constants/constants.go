// Package constants collects the sizing and tuning values shared by the
// buffer manager, the arena and the record codec. Keeping them in one leaf
// package avoids import cycles between internal/tlbmanager, internal/arena
// and internal/record, all of which need to agree on buffer geometry.
package constants

const (
	// MaxBufferSize bounds buffer size: a record's length field is a 16-bit
	// word, so no buffer may exceed 65536 bytes or a record could need more
	// bits than the header has to describe its own length.
	MaxBufferSize = 65536

	// NominalBufferSize is the target buffer size before rounding to a page
	// multiple and clamping to MaxBufferSize. It aims for roughly 128
	// records per buffer at a typical class-load record size.
	NominalBufferSize = 8 * 1024

	// MinBuffers is the floor on how many buffers a reserved region is
	// sliced into, even if area_size/B would compute fewer.
	MinBuffers = 2

	// InitialCommitBytes is the amount of the reserved region committed to
	// physical pages at Init, before any usage-driven watermark adjustment
	// has a data point to work from.
	InitialCommitBytes = 640 * 1024

	// NumRefCategories is the number of back-reference slots each buffer
	// carries. The specification names one category today (class-load
	// source); kept as a constant rather than a dynamic count so the
	// per-buffer array stays inline and indirection-free (open question
	// O2: extending this is meant to stay a compile-time change).
	NumRefCategories = 1

	// CategoryClassLoadSource is the only back-reference category currently
	// in use.
	CategoryClassLoadSource = 0

	// RecordHeaderSize is the size in bytes of the common tag+length header
	// that prefixes every record: one byte tag, two bytes length.
	RecordHeaderSize = 3

	// HashSize is the width of the class-load hash field.
	HashSize = 32

	// WordSize is the alignment boundary records are allocated on.
	WordSize = 8
)
