package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// newTestContext builds a small ring (N=4096) context with the given
// multiplicative depth, fast enough for unit tests.
func newTestContext(t *testing.T, levels int) (*Context, *rlwe.SecretKey) {
	t.Helper()
	c, sk, err := GenerateContext(1<<12, levels)
	require.NoError(t, err)
	return c, sk
}

// encryptBatch encrypts one vector per row under the context.
func encryptBatch(t *testing.T, c *Context, rows [][]float64, names ...string) []*EncryptedVector {
	t.Helper()
	out := make([]*EncryptedVector, len(rows))
	for i, row := range rows {
		v, err := Encrypt(c, row, names...)
		require.NoError(t, err)
		out[i] = v
	}
	return out
}

func intPtr(i int) *int { return &i }
