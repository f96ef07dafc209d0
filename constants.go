package crs

import "github.com/crsruntime/crs-core/internal/constants"

// Re-export sizing/tuning constants for the public API.
const (
	MaxBufferSize       = constants.MaxBufferSize
	NominalBufferSize   = constants.NominalBufferSize
	MinBuffers          = constants.MinBuffers
	InitialCommitBytes  = constants.InitialCommitBytes
	NumRefCategories    = constants.NumRefCategories
	RecordHeaderSize    = constants.RecordHeaderSize
	HashSize            = constants.HashSize
)
