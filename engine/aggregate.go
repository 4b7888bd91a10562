package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// Column selects which column of the batch an aggregate applies to.
// Index takes precedence over Name; a nil selector (or one with neither
// field set) aggregates every column independently.
type Column struct {
	Index *int
	Name  string
}

// AggregateResult is an encrypted statistic tagged with the operation
// and column selection that produced it. Count operations carry a plain
// integer instead of a ciphertext, since batch cardinality reveals
// nothing about the encrypted values.
type AggregateResult struct {
	Operation   string
	ColumnIndex int // -1 when the aggregate covers all columns
	ColumnName  string
	Vector      *EncryptedVector
	Count       int
}

// Sum homomorphically adds a batch of encrypted vectors. The batch is
// sharded across workers and reduced by ciphertext addition; the single
// multiplicative level goes to the column mask.
func Sum(ctx context.Context, c *Context, vectors []*EncryptedVector, col *Column) (*AggregateResult, error) {
	const op = "sum"
	width, err := validateBatch(op, c, vectors, LevelsSum)
	if err != nil {
		return nil, err
	}
	colIdx, colName, err := resolveColumn(op, vectors, col)
	if err != nil {
		return nil, err
	}

	total, err := addBatch(ctx, c, vectors)
	if err != nil {
		return nil, err
	}

	eval := c.eval.ShallowCopy()
	if err := applyMask(c, eval, total, width, colIdx, 1); err != nil {
		return nil, err
	}

	return &AggregateResult{
		Operation:   op,
		ColumnIndex: colIdx,
		ColumnName:  colName,
		Vector:      resultVector(total, vectors[0]),
	}, nil
}

// Average is the homomorphic sum scaled by the plaintext constant 1/n.
// The batch size is public, so the factor is folded into the column
// mask and no additional level is consumed.
func Average(ctx context.Context, c *Context, vectors []*EncryptedVector, col *Column) (*AggregateResult, error) {
	const op = "average"
	width, err := validateBatch(op, c, vectors, LevelsAverage)
	if err != nil {
		return nil, err
	}
	colIdx, colName, err := resolveColumn(op, vectors, col)
	if err != nil {
		return nil, err
	}

	total, err := addBatch(ctx, c, vectors)
	if err != nil {
		return nil, err
	}

	eval := c.eval.ShallowCopy()
	if err := applyMask(c, eval, total, width, colIdx, 1/float64(len(vectors))); err != nil {
		return nil, err
	}

	return &AggregateResult{
		Operation:   op,
		ColumnIndex: colIdx,
		ColumnName:  colName,
		Vector:      resultVector(total, vectors[0]),
	}, nil
}

// Variance computes the population variance E[x²] − E[x]² entirely in
// the ciphertext domain: each vector is squared under encryption for
// E[x²], the squared average yields E[x]², and both are masked with the
// 1/n factor. Two multiplicative levels are verified up front; a
// shallower context is refused rather than run at degraded precision.
func Variance(ctx context.Context, c *Context, vectors []*EncryptedVector, col *Column) (*AggregateResult, error) {
	const op = "variance"
	width, err := validateBatch(op, c, vectors, LevelsVariance)
	if err != nil {
		return nil, err
	}
	colIdx, colName, err := resolveColumn(op, vectors, col)
	if err != nil {
		return nil, err
	}

	invN := 1 / float64(len(vectors))

	// E[x²]: square every vector, add, scale by the masked 1/n.
	sumSq, err := addSquaredBatch(ctx, c, vectors)
	if err != nil {
		return nil, err
	}
	eval := c.eval.ShallowCopy()
	if err := applyMask(c, eval, sumSq, width, colIdx, invN); err != nil {
		return nil, err
	}

	// E[x]²: masked average, then squared.
	total, err := addBatch(ctx, c, vectors)
	if err != nil {
		return nil, err
	}
	if err := applyMask(c, eval, total, width, colIdx, invN); err != nil {
		return nil, err
	}
	meanSq, err := eval.MulRelinNew(total, total)
	if err != nil {
		return nil, fmt.Errorf("%s: squaring mean: %w", op, err)
	}
	if err := eval.Rescale(meanSq, meanSq); err != nil {
		return nil, fmt.Errorf("%s: rescaling squared mean: %w", op, err)
	}

	if err := eval.Sub(sumSq, meanSq, sumSq); err != nil {
		return nil, fmt.Errorf("%s: subtracting squared mean: %w", op, err)
	}

	return &AggregateResult{
		Operation:   op,
		ColumnIndex: colIdx,
		ColumnName:  colName,
		Vector:      resultVector(sumSq, vectors[0]),
	}, nil
}

// Count returns the plain cardinality of the batch. Cardinality reveals
// nothing about value content, so encrypting it would only add
// pointless decryption overhead for the caller.
func Count(vectors []*EncryptedVector) (int, error) {
	if len(vectors) == 0 {
		return 0, &EmptyBatchError{Operation: "count"}
	}
	return len(vectors), nil
}

// validateBatch checks batch shape and capability. All vectors must be
// encrypted under the request's scheme parameters, share the logical
// width and sit at the same level and scale; the shallowest ciphertext
// must still afford the operation's depth.
func validateBatch(op string, c *Context, vectors []*EncryptedVector, levels int) (width int, err error) {
	if len(vectors) == 0 {
		return 0, &EmptyBatchError{Operation: op}
	}

	first := vectors[0]
	minLevel := first.Level()
	for i, v := range vectors {
		if v == nil || v.Ciphertext == nil {
			return 0, &DimensionError{Operation: op, Sample: i, Detail: "nil vector"}
		}
		if err := matchContext(op, i, c, v); err != nil {
			return 0, err
		}
		if v.Length != first.Length {
			return 0, &DimensionError{Operation: op, Sample: i, Detail: fmt.Sprintf(
				"vector width %d differs from batch width %d", v.Length, first.Length)}
		}
		if v.Length > c.MaxSlots() {
			return 0, &DimensionError{Operation: op, Sample: i, Detail: fmt.Sprintf(
				"vector width %d exceeds the %d context slots", v.Length, c.MaxSlots())}
		}
		if v.Ciphertext.Scale.Cmp(first.Ciphertext.Scale) != 0 {
			return 0, &ContextError{Reason: fmt.Sprintf(
				"%s: sample %d is encrypted at a different scale than the batch", op, i)}
		}
		if v.Level() != first.Level() {
			return 0, &ContextError{Reason: fmt.Sprintf(
				"%s: sample %d sits at level %d, batch is at level %d", op, i, v.Level(), first.Level())}
		}
		if v.Level() < minLevel {
			minLevel = v.Level()
		}
	}

	available := minLevel
	if c.MaxLevel() < available {
		available = c.MaxLevel()
	}
	if available < levels {
		return 0, &InsufficientDepthError{Operation: op, Required: levels, Available: available}
	}
	return first.Length, nil
}

// resolveColumn applies the selector precedence rules. It returns -1
// for the all-columns case.
func resolveColumn(op string, vectors []*EncryptedVector, col *Column) (int, string, error) {
	if col == nil || (col.Index == nil && col.Name == "") {
		return -1, "", nil
	}
	width := vectors[0].Length
	if col.Index != nil {
		idx := *col.Index
		if idx < 0 || idx >= width {
			return 0, "", &DimensionError{Operation: op, Sample: -1, Detail: fmt.Sprintf(
				"column index %d out of range for width %d", idx, width)}
		}
		name := ""
		if idx < len(vectors[0].Names) {
			name = vectors[0].Names[idx]
		}
		return idx, name, nil
	}
	idx, ok := vectors[0].columnIndex(col.Name)
	if !ok {
		return 0, "", &DimensionError{Operation: op, Sample: -1, Detail: fmt.Sprintf(
			"column %q not found", col.Name)}
	}
	return idx, col.Name, nil
}

// addBatch reduces the batch by homomorphic addition, sharded across
// workers. The caller's context is checked between shard units so a
// cancelled request stops burning CPU.
func addBatch(ctx context.Context, c *Context, vectors []*EncryptedVector) (*rlwe.Ciphertext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workers := numAggregateWorkers
	if len(vectors) < workers {
		workers = len(vectors)
	}
	chunk := (len(vectors) + workers - 1) / workers

	partials := make([]*rlwe.Ciphertext, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(vectors) {
			hi = len(vectors)
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			eval := c.eval.ShallowCopy()
			acc := vectors[lo].Ciphertext.CopyNew()
			for i := lo + 1; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					errs[w] = err
					return
				}
				if err := eval.Add(acc, vectors[i].Ciphertext, acc); err != nil {
					errs[w] = fmt.Errorf("adding sample %d: %w", i, err)
					return
				}
			}
			partials[w] = acc
		}(w, lo, hi)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return reducePartials(ctx, c.eval.ShallowCopy(), partials)
}

// addSquaredBatch reduces the batch of self-multiplied vectors,
// consuming one level for the squaring.
func addSquaredBatch(ctx context.Context, c *Context, vectors []*EncryptedVector) (*rlwe.Ciphertext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workers := numAggregateWorkers
	if len(vectors) < workers {
		workers = len(vectors)
	}
	chunk := (len(vectors) + workers - 1) / workers

	partials := make([]*rlwe.Ciphertext, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(vectors) {
			hi = len(vectors)
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			eval := c.eval.ShallowCopy()
			var acc *rlwe.Ciphertext
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					errs[w] = err
					return
				}
				sq, err := eval.MulRelinNew(vectors[i].Ciphertext, vectors[i].Ciphertext)
				if err != nil {
					errs[w] = fmt.Errorf("squaring sample %d: %w", i, err)
					return
				}
				if err := eval.Rescale(sq, sq); err != nil {
					errs[w] = fmt.Errorf("rescaling squared sample %d: %w", i, err)
					return
				}
				if acc == nil {
					acc = sq
					continue
				}
				if err := eval.Add(acc, sq, acc); err != nil {
					errs[w] = fmt.Errorf("adding squared sample %d: %w", i, err)
					return
				}
			}
			partials[w] = acc
		}(w, lo, hi)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return reducePartials(ctx, c.eval.ShallowCopy(), partials)
}

func reducePartials(ctx context.Context, eval *ckks.Evaluator, partials []*rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	var total *rlwe.Ciphertext
	for _, p := range partials {
		if p == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if total == nil {
			total = p
			continue
		}
		if err := eval.Add(total, p, total); err != nil {
			return nil, fmt.Errorf("reducing shard partials: %w", err)
		}
	}
	return total, nil
}

// applyMask multiplies ct by the column mask and rescales, consuming
// one level. The mask zeroes every other column in the ciphertext
// domain, so the server cannot learn the requested column by inspecting
// a plaintext result.
func applyMask(c *Context, eval *ckks.Evaluator, ct *rlwe.Ciphertext, width, column int, fill float64) error {
	mask := columnMask(c, width, column, fill)
	defer releaseSlotBuffer(mask)

	if err := eval.Mul(ct, mask, ct); err != nil {
		return fmt.Errorf("applying column mask: %w", err)
	}
	if err := eval.Rescale(ct, ct); err != nil {
		return fmt.Errorf("rescaling masked ciphertext: %w", err)
	}
	return nil
}

func resultVector(ct *rlwe.Ciphertext, like *EncryptedVector) *EncryptedVector {
	return &EncryptedVector{
		Ciphertext: ct,
		Length:     like.Length,
		Names:      like.Names,
	}
}
