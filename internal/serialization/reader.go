package serialization

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Read loads a .kiln file and returns the state dict and header.
//
// The payload checksum is always verified; ErrChecksumMismatch is returned
// when the bytes do not match the header's recorded SHA-256.
func Read(path string) (map[string]*tensor.Tensor, *Header, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("serialization: read %s: %w", path, err)
	}

	if len(raw) < 12 {
		return nil, nil, ErrTruncated
	}
	if string(raw[:4]) != Magic {
		return nil, nil, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(raw[4:8]); v != FormatVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	headerLen := int64(binary.LittleEndian.Uint32(raw[8:12]))
	headerEnd := 12 + headerLen
	if int64(len(raw)) < headerEnd {
		return nil, nil, ErrTruncated
	}

	var header Header
	if err := json.Unmarshal(raw[12:headerEnd], &header); err != nil {
		return nil, nil, fmt.Errorf("serialization: parse header: %w", err)
	}

	payloadStart := align(headerEnd)
	if int64(len(raw)) < payloadStart {
		return nil, nil, ErrTruncated
	}
	payload := raw[payloadStart:]

	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != header.PayloadSHA256 {
		return nil, nil, ErrChecksumMismatch
	}

	state := make(map[string]*tensor.Tensor, len(header.Tensors))
	for _, meta := range header.Tensors {
		if err := validateMeta(meta, int64(len(payload))); err != nil {
			return nil, nil, err
		}
		data := make([]float32, meta.Size/4)
		for i := range data {
			bits := binary.LittleEndian.Uint32(payload[meta.Offset+int64(i)*4:])
			data[i] = math.Float32frombits(bits)
		}
		t, err := tensor.FromSlice(data, tensor.Shape(meta.Shape))
		if err != nil {
			return nil, nil, fmt.Errorf("serialization: tensor %q: %w", meta.Name, err)
		}
		state[meta.Name] = t
	}
	return state, &header, nil
}

// validateMeta rejects tensor entries a well-formed writer cannot produce
// before any of their fields are used to index the payload.
func validateMeta(meta TensorMeta, payloadLen int64) error {
	if meta.Offset < 0 || meta.Size < 0 || meta.Size%4 != 0 {
		return fmt.Errorf("%w: tensor %q offset=%d size=%d",
			ErrMalformedHeader, meta.Name, meta.Offset, meta.Size)
	}
	if meta.Offset > payloadLen || meta.Size > payloadLen-meta.Offset {
		return fmt.Errorf("%w: tensor %q past end of payload", ErrTruncated, meta.Name)
	}
	for _, d := range meta.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: tensor %q shape %v", ErrMalformedHeader, meta.Name, meta.Shape)
		}
	}
	return nil
}
