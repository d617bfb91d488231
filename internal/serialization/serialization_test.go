package serialization

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ml/kiln/internal/tensor"
)

func sampleState(t *testing.T) map[string]*tensor.Tensor {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	return map[string]*tensor.Tensor{
		"layers.0.weight": tensor.Randn(tensor.Shape{3, 3, 1, 8}, rng),
		"layers.0.bias":   tensor.Zeros(tensor.Shape{8}),
		"layers.4.weight": tensor.Randn(tensor.Shape{32, 10}, rng),
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.kiln")
	state := sampleState(t)

	require.NoError(t, Write(path, state, &CheckpointMeta{Step: 120, Epoch: 3, Loss: 0.42}))

	loaded, header, err := Read(path)
	require.NoError(t, err)

	require.NotNil(t, header.Checkpoint)
	assert.Equal(t, int64(120), header.Checkpoint.Step)
	assert.Equal(t, 3, header.Checkpoint.Epoch)
	assert.InDelta(t, 0.42, header.Checkpoint.Loss, 1e-9)

	require.Len(t, loaded, len(state))
	for name, want := range state {
		got, ok := loaded[name]
		require.True(t, ok, "missing tensor %q", name)
		require.True(t, got.Shape().Equal(want.Shape()))
		assert.Equal(t, want.Data(), got.Data(), "tensor %q", name)
	}
}

func TestWrite_Deterministic(t *testing.T) {
	dir := t.TempDir()
	state := sampleState(t)
	meta := &CheckpointMeta{Step: 1}

	pathA := filepath.Join(dir, "a.kiln")
	pathB := filepath.Join(dir, "b.kiln")
	require.NoError(t, Write(pathA, state, meta))
	require.NoError(t, Write(pathB, state, meta))

	// Headers embed created_at, so compare the decoded payloads.
	loadedA, headerA, err := Read(pathA)
	require.NoError(t, err)
	loadedB, headerB, err := Read(pathB)
	require.NoError(t, err)

	assert.Equal(t, headerA.PayloadSHA256, headerB.PayloadSHA256)
	for name := range loadedA {
		assert.Equal(t, loadedA[name].Data(), loadedB[name].Data())
	}
}

func TestRead_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.kiln")
	require.NoError(t, os.WriteFile(path, []byte("NOTAKILNFILE"), 0o644))

	_, _, err := Read(path)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestRead_Truncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.kiln")
	require.NoError(t, Write(path, sampleState(t), nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-10], 0o644))

	_, _, err = Read(path)
	require.Error(t, err)
}

func TestRead_ChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.kiln")
	require.NoError(t, Write(path, sampleState(t), nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a bit in the last payload byte.
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, _, err = Read(path)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

// writeCrafted assembles a file whose checksum is valid but whose tensor
// metadata is attacker-controlled, bypassing Write's invariants.
func writeCrafted(t *testing.T, metas []TensorMeta, payload []byte) string {
	t.Helper()

	sum := sha256.Sum256(payload)
	header := Header{
		FormatVersion: FormatVersion,
		Tensors:       metas,
		PayloadSHA256: hex.EncodeToString(sum[:]),
	}
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)

	prefix := make([]byte, 12)
	copy(prefix, Magic)
	binary.LittleEndian.PutUint32(prefix[4:], FormatVersion)
	binary.LittleEndian.PutUint32(prefix[8:], uint32(len(headerJSON)))

	headerEnd := int64(len(prefix) + len(headerJSON))
	padLen := align(headerEnd) - headerEnd

	out := append(prefix, headerJSON...)
	out = append(out, make([]byte, padLen)...)
	out = append(out, payload...)

	path := filepath.Join(t.TempDir(), "crafted.kiln")
	require.NoError(t, os.WriteFile(path, out, 0o644))
	return path
}

func TestRead_RejectsMalformedTensorMeta(t *testing.T) {
	payload := make([]byte, 64)

	cases := []struct {
		name string
		meta TensorMeta
		want error
	}{
		{
			name: "negative offset",
			meta: TensorMeta{Name: "w", Shape: []int{4}, Offset: -64, Size: 16},
			want: ErrMalformedHeader,
		},
		{
			name: "negative size",
			meta: TensorMeta{Name: "w", Shape: []int{4}, Offset: 0, Size: -16},
			want: ErrMalformedHeader,
		},
		{
			name: "zero shape dim",
			meta: TensorMeta{Name: "w", Shape: []int{4, 0}, Offset: 0, Size: 16},
			want: ErrMalformedHeader,
		},
		{
			name: "negative shape dim",
			meta: TensorMeta{Name: "w", Shape: []int{-4}, Offset: 0, Size: 16},
			want: ErrMalformedHeader,
		},
		{
			name: "size not multiple of four",
			meta: TensorMeta{Name: "w", Shape: []int{4}, Offset: 0, Size: 15},
			want: ErrMalformedHeader,
		},
		{
			name: "offset past payload",
			meta: TensorMeta{Name: "w", Shape: []int{4}, Offset: 128, Size: 16},
			want: ErrTruncated,
		},
		{
			name: "size past payload",
			meta: TensorMeta{Name: "w", Shape: []int{64}, Offset: 32, Size: 256},
			want: ErrTruncated,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeCrafted(t, []TensorMeta{tc.meta}, payload)
			_, _, err := Read(path)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestWrite_NilMetaOmitsCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.kiln")
	require.NoError(t, Write(path, sampleState(t), nil))

	_, header, err := Read(path)
	require.NoError(t, err)
	assert.Nil(t, header.Checkpoint)
}
