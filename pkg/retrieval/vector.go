package retrieval

import (
	"encoding/binary"
	"fmt"
	"math"
)

// deserializeFloat32 reverses sqlite_vec.SerializeFloat32 (little-endian f32).
func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
