package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
)

// hashEmbedder is a deterministic bag-of-words embedder for tests.
type hashEmbedder struct {
	dim   int
	calls atomic.Int32
	texts atomic.Int32
	fail  error
}

func (h *hashEmbedder) Dimension() int { return h.dim }

func (h *hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	h.calls.Add(1)
	if h.fail != nil {
		return nil, h.fail
	}
	h.texts.Add(int32(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, h.dim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			w = strings.Trim(w, ".,:;'?!()")
			if len(w) < 3 {
				continue
			}
			f := fnv.New32a()
			f.Write([]byte(w))
			vec[f.Sum32()%uint32(h.dim)] += 1
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		if norm == 0 {
			vec[0] = 1
			norm = 1
		}
		for j := range vec {
			vec[j] = float32(float64(vec[j]) / math.Sqrt(norm))
		}
		out[i] = vec
	}
	return out, nil
}

var errOffline = errors.New("dial tcp: connection refused")
