package serialization

import "errors"

// Sentinel errors returned by the reader.
var (
	ErrBadMagic           = errors.New("serialization: not a .kiln file (bad magic)")
	ErrUnsupportedVersion = errors.New("serialization: unsupported format version")
	ErrChecksumMismatch   = errors.New("serialization: payload checksum mismatch")
	ErrTruncated          = errors.New("serialization: file truncated")
	ErrMalformedHeader    = errors.New("serialization: malformed header")
)
