package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v6/circuits/ckks/polynomial"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
	"github.com/tuneinsight/lattigo/v6/utils/bignum"
)

// Model holds plaintext regression parameters. Only client data is
// sensitive; models are static per-deployment configuration held by the
// server operator and never encrypted. A model may carry one more
// weight than the feature width, in which case the extra weight
// multiplies an implicit constant-1 bias column.
type Model struct {
	Weights      []float64 `json:"weights"`
	Intercept    float64   `json:"intercept"`
	FeatureNames []string  `json:"feature_names,omitempty"`
}

// PredictionResult is one encrypted score per input sample,
// index-aligned with the request batch. Slot 0 of each vector carries
// the score.
type PredictionResult []*EncryptedVector

// PredictLinear scores every sample with an encrypted dot product
// against the plaintext weights plus the plaintext intercept, consuming
// one multiplicative level per sample. The batch commits atomically:
// one malformed sample fails the whole call and no partial list is
// returned.
func PredictLinear(ctx context.Context, c *Context, features []*EncryptedVector, m Model) (PredictionResult, error) {
	const op = "linear_regression"
	if err := validateFeatureBatch(op, c, features, m, LevelsLinear); err != nil {
		return nil, err
	}
	return predictBatch(ctx, c, features, func(eval *ckks.Evaluator, f *EncryptedVector) (*rlwe.Ciphertext, error) {
		return dotProduct(c, eval, f, m)
	})
}

// PredictLogistic scores every sample with the linear dot product
// followed by an encrypted evaluation of the configured sigmoid
// approximation polynomial. The context must afford the dot product
// plus the polynomial depth; anything shallower is refused.
func PredictLogistic(ctx context.Context, c *Context, features []*EncryptedVector, m Model, cfg ApproximationConfig) (PredictionResult, error) {
	const op = "logistic_regression"

	poly, err := cfg.build()
	if err != nil {
		return nil, err
	}
	if err := validateFeatureBatch(op, c, features, m, LevelsLinear+cfg.depth()); err != nil {
		return nil, err
	}

	return predictBatch(ctx, c, features, func(eval *ckks.Evaluator, f *EncryptedVector) (*rlwe.Ciphertext, error) {
		ct, err := dotProduct(c, eval, f, m)
		if err != nil {
			return nil, err
		}
		return evalSigmoidPoly(c, eval, ct, poly, cfg.chebyshev())
	})
}

// validateFeatureBatch checks every sample before any ciphertext work
// starts, naming the offending index on failure.
func validateFeatureBatch(op string, c *Context, features []*EncryptedVector, m Model, levels int) error {
	if len(features) == 0 {
		return &EmptyBatchError{Operation: op}
	}
	if len(m.Weights) == 0 {
		return &DimensionError{Operation: op, Sample: -1, Detail: "model has no weights"}
	}

	first := features[0]
	for i, f := range features {
		if f == nil || f.Ciphertext == nil {
			return &DimensionError{Operation: op, Sample: i, Detail: "nil feature vector"}
		}
		if err := matchContext(op, i, c, f); err != nil {
			return err
		}
		if f.Length != len(m.Weights) && f.Length != len(m.Weights)-1 {
			return &DimensionError{Operation: op, Sample: i, Detail: fmt.Sprintf(
				"feature width %d incompatible with %d model weights", f.Length, len(m.Weights))}
		}
		if f.Length != first.Length {
			return &DimensionError{Operation: op, Sample: i, Detail: fmt.Sprintf(
				"feature width %d differs from batch width %d", f.Length, first.Length)}
		}
		if f.Ciphertext.Scale.Cmp(first.Ciphertext.Scale) != 0 {
			return &ContextError{Reason: fmt.Sprintf(
				"%s: sample %d is encrypted at a different scale than the batch", op, i)}
		}
		if f.Level() != first.Level() {
			return &ContextError{Reason: fmt.Sprintf(
				"%s: sample %d sits at level %d, batch is at level %d", op, i, f.Level(), first.Level())}
		}
	}

	available := first.Level()
	if c.MaxLevel() < available {
		available = c.MaxLevel()
	}
	if available < levels {
		return &InsufficientDepthError{Operation: op, Required: levels, Available: available}
	}
	return nil
}

// predictBatch runs score over every sample, sharded across workers,
// checking the caller's context between samples. Any failure aborts the
// whole batch.
func predictBatch(ctx context.Context, c *Context, features []*EncryptedVector,
	score func(*ckks.Evaluator, *EncryptedVector) (*rlwe.Ciphertext, error)) (PredictionResult, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workers := numAggregateWorkers
	if len(features) < workers {
		workers = len(features)
	}
	chunk := (len(features) + workers - 1) / workers

	out := make(PredictionResult, len(features))
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(features) {
			hi = len(features)
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			eval := c.eval.ShallowCopy()
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					errs[w] = err
					return
				}
				ct, err := score(eval, features[i])
				if err != nil {
					errs[w] = fmt.Errorf("sample %d: %w", i, err)
					return
				}
				out[i] = &EncryptedVector{Ciphertext: ct, Length: 1}
			}
		}(w, lo, hi)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// dotProduct multiplies the sample slots by the plaintext weights,
// folds the products into slot 0 with rotations, and adds the plaintext
// constant (intercept plus any bias weight). One level is consumed by
// the weight multiplication; rotations are free.
func dotProduct(c *Context, eval *ckks.Evaluator, f *EncryptedVector, m Model) (*rlwe.Ciphertext, error) {
	weights := slotBuffer(c.MaxSlots())
	defer releaseSlotBuffer(weights)
	copy(weights, m.Weights[:f.Length])

	constant := m.Intercept
	if len(m.Weights) == f.Length+1 {
		constant += m.Weights[f.Length]
	}

	ct := f.Ciphertext.CopyNew()
	if err := eval.Mul(ct, weights, ct); err != nil {
		return nil, fmt.Errorf("weight multiplication: %w", err)
	}
	if err := eval.Rescale(ct, ct); err != nil {
		return nil, fmt.Errorf("rescaling weighted features: %w", err)
	}

	ct, err := innerSumSlots(eval, ct, f.Length)
	if err != nil {
		return nil, fmt.Errorf("slot inner sum: %w", err)
	}

	if err := eval.Add(ct, constant, ct); err != nil {
		return nil, fmt.Errorf("adding intercept: %w", err)
	}
	return ct, nil
}

// evalSigmoidPoly evaluates the approximation polynomial on the score
// ciphertext. Chebyshev interpolants first map the domain onto [-1, 1],
// costing one level.
func evalSigmoidPoly(c *Context, eval *ckks.Evaluator, ct *rlwe.Ciphertext, poly bignum.Polynomial, chebyshev bool) (*rlwe.Ciphertext, error) {
	if chebyshev {
		scalar, constant := poly.ChangeOfBasis()
		if err := eval.Mul(ct, scalar, ct); err != nil {
			return nil, fmt.Errorf("change of basis scaling: %w", err)
		}
		if err := eval.Add(ct, constant, ct); err != nil {
			return nil, fmt.Errorf("change of basis offset: %w", err)
		}
		if err := eval.Rescale(ct, ct); err != nil {
			return nil, fmt.Errorf("rescaling change of basis: %w", err)
		}
	}

	res, err := polynomial.NewEvaluator(c.params, eval).Evaluate(ct, poly, c.params.DefaultScale())
	if err != nil {
		return nil, fmt.Errorf("polynomial evaluation: %w", err)
	}
	return res, nil
}
