package serialization

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Write saves a state dict to path as a .kiln file.
//
// Tensors are laid out in sorted name order so two writes of the same state
// produce byte-identical files. meta may be nil for plain weight files
// (e.g. exported backbones); checkpoints set step/epoch/loss.
func Write(path string, state map[string]*tensor.Tensor, meta *CheckpointMeta) error {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	// Build the payload with per-tensor alignment.
	var payload []byte
	metas := make([]TensorMeta, 0, len(names))
	for _, name := range names {
		t := state[name]
		offset := align(int64(len(payload)))
		for int64(len(payload)) < offset {
			payload = append(payload, 0)
		}
		size := int64(t.Size()) * 4
		buf := make([]byte, size)
		for i, v := range t.Data() {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		payload = append(payload, buf...)
		metas = append(metas, TensorMeta{
			Name:   name,
			Shape:  append([]int(nil), t.Shape()...),
			Offset: offset,
			Size:   size,
		})
	}

	sum := sha256.Sum256(payload)
	header := Header{
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now().UTC(),
		Tensors:       metas,
		PayloadSHA256: hex.EncodeToString(sum[:]),
		Checkpoint:    meta,
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("serialization: marshal header: %w", err)
	}

	// Assemble the file: fixed prefix, header, padding, payload.
	prefix := make([]byte, 12)
	copy(prefix, Magic)
	binary.LittleEndian.PutUint32(prefix[4:], FormatVersion)
	binary.LittleEndian.PutUint32(prefix[8:], uint32(len(headerJSON)))

	headerEnd := int64(len(prefix) + len(headerJSON))
	padLen := align(headerEnd) - headerEnd

	out := make([]byte, 0, headerEnd+padLen+int64(len(payload)))
	out = append(out, prefix...)
	out = append(out, headerJSON...)
	out = append(out, make([]byte, padLen)...)
	out = append(out, payload...)

	// Write via a temp file and rename so a crash never leaves a partial
	// checkpoint at the final path.
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("serialization: create dir: %w", err)
	}
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("serialization: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("serialization: rename to %s: %w", path, err)
	}
	return nil
}
