package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorSerializationRoundTrip(t *testing.T) {
	original := []float32{0.5, -0.25, 0.0, 1.0, -1.0, 0.123456}

	blob := SerializeVector(original)
	require.Len(t, blob, len(original)*4)

	restored := DeserializeVector(blob)
	assert.Equal(t, original, restored)
}

func TestVectorSerializationEmpty(t *testing.T) {
	blob := SerializeVector(nil)
	assert.Empty(t, blob)
	assert.Empty(t, DeserializeVector(nil))
}

func TestCheckNormalized(t *testing.T) {
	tests := []struct {
		name    string
		vector  []float32
		wantErr bool
	}{
		{"unit axis", []float32{1, 0, 0, 0}, false},
		{"unit diagonal", []float32{0.5, 0.5, 0.5, 0.5}, false},
		{"within tolerance", []float32{1.0005, 0, 0, 0}, false},
		{"too long", []float32{1, 1, 0, 0}, true},
		{"too short", []float32{0.5, 0, 0, 0}, true},
		{"zero vector", []float32{0, 0, 0, 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkNormalized(tt.vector)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotNormalized)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckNormalizedComputedVector(t *testing.T) {
	v := unitVector(384, 7)
	assert.NoError(t, checkNormalized(v))

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}
