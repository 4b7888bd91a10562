package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinearPrediction(t *testing.T) {
	c, sk := newTestContext(t, 2)

	// Three features plus a bias column weight, intercept folded in.
	model := Model{
		Weights:      []float64{0.5, 0.3, 0.2, 10.0},
		FeatureNames: []string{"age", "blood_pressure", "cholesterol", "bias"},
	}
	features := encryptBatch(t, c, [][]float64{{65, 150, 220}})

	preds, err := PredictLinear(context.Background(), c, features, model)
	require.NoError(t, err)
	require.Len(t, preds, 1)

	got, err := Decrypt(c, preds[0], sk)
	require.NoError(t, err)
	// 0.5*65 + 0.3*150 + 0.2*220 + 10
	require.InDelta(t, 131.5, got[0], 0.1)
}

func TestLinearPredictionBatchOrder(t *testing.T) {
	c, sk := newTestContext(t, 2)

	model := Model{Weights: []float64{2, 1}}
	features := encryptBatch(t, c, [][]float64{
		{1, 1},
		{2, 2},
		{3, 3},
	})

	preds, err := PredictLinear(context.Background(), c, features, model)
	require.NoError(t, err)
	require.Len(t, preds, 3)

	// Results stay index-aligned with the input batch.
	for i, want := range []float64{3, 6, 9} {
		got, err := Decrypt(c, preds[i], sk)
		require.NoError(t, err)
		require.InDelta(t, want, got[0], 0.05, "sample %d", i)
	}
}

func TestLogisticPredictionDefaultPoly(t *testing.T) {
	c, sk := newTestContext(t, 4)

	model := Model{Weights: []float64{0.3, 0.2, 0.1, 0.05}, Intercept: -0.5}
	features := encryptBatch(t, c, [][]float64{{1, 1, 1}})
	cfg := DefaultSigmoidApproximation()

	preds, err := PredictLogistic(context.Background(), c, features, model, cfg)
	require.NoError(t, err)
	require.Len(t, preds, 1)

	got, err := Decrypt(c, preds[0], sk)
	require.NoError(t, err)
	// z = 0.15, well inside the configured domain.
	require.InDelta(t, Sigmoid(0.15), got[0], cfg.MaxError+0.01)
}

// The deployed-model scenario: the score lands deep in the saturated
// tail, so a wide-domain interpolant is configured.
func TestLogisticPredictionScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("deep context keygen is slow")
	}

	cfg := ApproximationConfig{
		Degree:   63,
		Domain:   [2]float64{-64, 64},
		MaxError: 0.05,
	}

	c, sk, err := GenerateContext(1<<13, LevelsLinear+cfg.depth()+1)
	require.NoError(t, err)

	model := Model{
		Weights:      []float64{0.2, -0.1, 0.3, 0.15},
		Intercept:    -2.5,
		FeatureNames: []string{"age", "blood_pressure", "cholesterol", "bias"},
	}
	features, err := Encrypt(c, []float64{65, 150, 220})
	require.NoError(t, err)

	preds, err := PredictLogistic(context.Background(), c, []*EncryptedVector{features}, model, cfg)
	require.NoError(t, err)

	got, err := Decrypt(c, preds[0], sk)
	require.NoError(t, err)
	// z = 61.65, sigmoid(z) is 1 up to negligible mass.
	require.InDelta(t, Sigmoid(61.65), got[0], cfg.MaxError)
}

func TestLogisticDepthGuard(t *testing.T) {
	c, _ := newTestContext(t, 1)

	model := Model{Weights: []float64{1, 1}}
	features := encryptBatch(t, c, [][]float64{{1, 2}})

	res, err := PredictLogistic(context.Background(), c, features, model, DefaultSigmoidApproximation())
	var depthErr *InsufficientDepthError
	require.ErrorAs(t, err, &depthErr)
	require.Nil(t, res)
}

func TestPredictionBatchAtomicity(t *testing.T) {
	c, _ := newTestContext(t, 2)

	model := Model{Weights: []float64{0.5, 0.3, 0.2, 10.0}}
	good, err := Encrypt(c, []float64{65, 150, 220})
	require.NoError(t, err)
	bad, err := Encrypt(c, []float64{65, 150})
	require.NoError(t, err)

	res, err := PredictLinear(context.Background(), c, []*EncryptedVector{good, bad}, model)
	var dimErr *DimensionError
	require.ErrorAs(t, err, &dimErr)
	require.Equal(t, 1, dimErr.Sample)
	// No partial prediction list, ever.
	require.Nil(t, res)
}

func TestPredictForeignContextRejected(t *testing.T) {
	deep, _ := newTestContext(t, 4)
	shallow, _ := newTestContext(t, 2)

	model := Model{Weights: []float64{1, 1}}
	features := encryptBatch(t, deep, [][]float64{{1, 2}})

	res, err := PredictLinear(context.Background(), shallow, features, model)
	var ctxErr *ContextError
	require.ErrorAs(t, err, &ctxErr)
	require.Nil(t, res)
}

func TestPredictEmptyBatch(t *testing.T) {
	c, _ := newTestContext(t, 2)

	_, err := PredictLinear(context.Background(), c, nil, Model{Weights: []float64{1}})
	var emptyErr *EmptyBatchError
	require.ErrorAs(t, err, &emptyErr)
}

func TestPredictCancellation(t *testing.T) {
	c, _ := newTestContext(t, 2)

	model := Model{Weights: []float64{1, 1}}
	features := encryptBatch(t, c, [][]float64{{1, 2}, {3, 4}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := PredictLinear(ctx, c, features, model)
	require.ErrorIs(t, err, context.Canceled)
}

func TestApproximationConfigValidate(t *testing.T) {
	valid := DefaultSigmoidApproximation()
	require.NoError(t, valid.Validate())

	cases := map[string]ApproximationConfig{
		"nan coefficient": {
			Coefficients: []float64{0.5, math.NaN()},
			Domain:       [2]float64{-8, 8},
			MaxError:     0.1,
		},
		"constant polynomial": {
			Coefficients: []float64{0.5},
			Domain:       [2]float64{-8, 8},
			MaxError:     0.1,
		},
		"inverted domain": {
			Degree:   3,
			Domain:   [2]float64{8, -8},
			MaxError: 0.1,
		},
		"zero max error": {
			Degree:   3,
			Domain:   [2]float64{-8, 8},
			MaxError: 0,
		},
		"degree out of range": {
			Degree:   0,
			Domain:   [2]float64{-8, 8},
			MaxError: 0.1,
		},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			err := cfg.Validate()
			var cfgErr *ApproximationConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}
