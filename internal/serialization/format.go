// Package serialization implements the .kiln checkpoint container format.
//
// Layout of a .kiln file:
//
//	bytes 0-3   magic "KILN"
//	bytes 4-7   format version (uint32, little-endian)
//	bytes 8-11  JSON header length in bytes (uint32, little-endian)
//	...         JSON header (Header)
//	...         zero padding up to the next 64-byte boundary
//	...         tensor payload: float32 little-endian, each tensor aligned
//	            to 64 bytes, at the offsets recorded in the header
//
// The header records a SHA-256 checksum of the whole payload section, so a
// truncated or corrupted checkpoint is detected at load time.
package serialization

import (
	"time"
)

// Format constants.
const (
	Magic         = "KILN"
	FormatVersion = 1
	Alignment     = 64 // tensor data alignment in bytes
)

// Header is the JSON header of a .kiln file.
type Header struct {
	FormatVersion int             `json:"format_version"`
	CreatedAt     time.Time       `json:"created_at"`
	Tensors       []TensorMeta    `json:"tensors"`
	PayloadSHA256 string          `json:"payload_sha256"`
	Checkpoint    *CheckpointMeta `json:"checkpoint,omitempty"`
}

// CheckpointMeta carries training-state information alongside the tensors.
type CheckpointMeta struct {
	Step  int64   `json:"step"`
	Epoch int     `json:"epoch"`
	Loss  float64 `json:"loss"`
}

// TensorMeta describes one tensor in the payload section.
type TensorMeta struct {
	Name   string `json:"name"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from the start of the payload section
	Size   int64  `json:"size"`   // bytes
}

// align rounds n up to the next multiple of Alignment.
func align(n int64) int64 {
	rem := n % Alignment
	if rem == 0 {
		return n
	}
	return n + Alignment - rem
}
