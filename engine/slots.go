package engine

import (
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// nextPow2 returns the smallest power of two >= n.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// innerSumSlots folds the first span slots of ct into slot 0 with
// log2(span) rotate-and-add steps. Slots past the logical width must be
// zero for the fold to be exact; span is rounded up to a power of two.
// Rotation keys for all powers of two are part of every context, so no
// extra key material is needed. No multiplicative level is consumed.
func innerSumSlots(eval *ckks.Evaluator, ct *rlwe.Ciphertext, span int) (*rlwe.Ciphertext, error) {
	res := ct.CopyNew()
	tmp := ct.CopyNew()

	for k := 1; k < nextPow2(span); k <<= 1 {
		if err := eval.Rotate(res, k, tmp); err != nil {
			return nil, err
		}
		if err := eval.Add(res, tmp, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// columnMask builds a slot mask holding fill at the selected column and
// zero elsewhere. With column < 0 the mask holds fill in every slot of
// the logical width, which applies the same factor to all columns at
// once. The mask stays in the plaintext domain but is only ever
// multiplied into ciphertexts, so the server never observes which
// column a masked ciphertext carries.
func columnMask(c *Context, width, column int, fill float64) []float64 {
	mask := slotBuffer(c.MaxSlots())
	if column >= 0 {
		mask[column] = fill
		return mask
	}
	for i := 0; i < width; i++ {
		mask[i] = fill
	}
	return mask
}
