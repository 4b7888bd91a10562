package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/Snitch-1302/PrivAnalytica/engine"
)

// testClient plays the data owner: it keeps the secret key and only
// ever sends ciphertexts and the evaluation context over the wire.
type testClient struct {
	c   *engine.Context
	sk  *rlwe.SecretKey
	pub string
}

func newTestClient(t *testing.T, levels int) *testClient {
	t.Helper()
	c, sk, err := engine.GenerateContext(1<<12, levels)
	require.NoError(t, err)
	raw, err := c.Serialize()
	require.NoError(t, err)
	return &testClient{c: c, sk: sk, pub: base64.StdEncoding.EncodeToString(raw)}
}

func (tc *testClient) encrypt(t *testing.T, rows [][]float64, names ...string) []string {
	t.Helper()
	out := make([]string, len(rows))
	for i, row := range rows {
		v, err := engine.Encrypt(tc.c, row, names...)
		require.NoError(t, err)
		raw, err := v.Serialize()
		require.NoError(t, err)
		out[i] = base64.StdEncoding.EncodeToString(raw)
	}
	return out
}

func (tc *testClient) decrypt(t *testing.T, b64 string) []float64 {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	v, err := engine.DeserializeVector(raw)
	require.NoError(t, err)
	values, err := engine.Decrypt(tc.c, v, tc.sk)
	require.NoError(t, err)
	return values
}

func newTestServer(t *testing.T, cfg *DeploymentConfig) *httptest.Server {
	t.Helper()
	srv, err := New(cfg, nil, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body interface{}, out interface{}) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestComputeSumEndToEnd(t *testing.T) {
	tc := newTestClient(t, 2)
	ts := newTestServer(t, nil)

	req := ComputeRequest{
		EncryptedVectors: tc.encrypt(t, [][]float64{{10}, {20}, {30}}, "age"),
		PublicKey:        tc.pub,
	}

	var resp ComputeResponse
	code := postJSON(t, ts.URL+"/compute/sum", req, &resp)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "sum", resp.Operation)
	require.Equal(t, engine.StatusSuccess, resp.Status)
	require.NotEmpty(t, resp.EncryptedResult)
	require.Nil(t, resp.Count)

	got := tc.decrypt(t, resp.EncryptedResult)
	require.InDelta(t, 60, got[0], 1e-2)
}

func TestComputeCountStaysPlain(t *testing.T) {
	tc := newTestClient(t, 1)
	ts := newTestServer(t, nil)

	req := ComputeRequest{
		EncryptedVectors: tc.encrypt(t, [][]float64{{1}, {2}, {3}}),
		PublicKey:        tc.pub,
	}

	var resp ComputeResponse
	code := postJSON(t, ts.URL+"/compute/count", req, &resp)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.EncryptedResult)
	require.NotNil(t, resp.Count)
	require.Equal(t, 3, *resp.Count)
}

func TestComputeColumnSelection(t *testing.T) {
	tc := newTestClient(t, 2)
	ts := newTestServer(t, nil)

	req := ComputeRequest{
		EncryptedVectors: tc.encrypt(t, [][]float64{
			{10, 100},
			{20, 200},
		}, "age", "cholesterol"),
		PublicKey:  tc.pub,
		ColumnName: "cholesterol",
	}

	var resp ComputeResponse
	code := postJSON(t, ts.URL+"/compute/average", req, &resp)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, resp.Metadata["column_index"])
	require.Equal(t, "cholesterol", resp.Metadata["column_name"])

	got := tc.decrypt(t, resp.EncryptedResult)
	require.InDelta(t, 150, got[1], 1e-2)
	require.InDelta(t, 0, got[0], 1e-2)
}

func TestBadPublicKeyFailsClosed(t *testing.T) {
	tc := newTestClient(t, 1)
	ts := newTestServer(t, nil)
	vectors := tc.encrypt(t, [][]float64{{1}})

	for name, key := range map[string]string{
		"not base64":     "%%%definitely-not-base64%%%",
		"garbage bundle": base64.StdEncoding.EncodeToString([]byte("not a context")),
	} {
		t.Run(name, func(t *testing.T) {
			req := ComputeRequest{EncryptedVectors: vectors, PublicKey: key}
			var resp errorResponse
			code := postJSON(t, ts.URL+"/compute/sum", req, &resp)
			require.Equal(t, http.StatusBadRequest, code)
			require.Equal(t, "error", resp.Status)
			require.NotEmpty(t, resp.Error)
		})
	}
}

func TestComputeDepthGuard(t *testing.T) {
	tc := newTestClient(t, 1)
	ts := newTestServer(t, nil)

	req := ComputeRequest{
		EncryptedVectors: tc.encrypt(t, [][]float64{{1}, {2}}),
		PublicKey:        tc.pub,
	}

	var resp errorResponse
	code := postJSON(t, ts.URL+"/compute/variance", req, &resp)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "error", resp.Status)
	require.Contains(t, resp.Error, "levels")
}

func TestPredictLinearEndToEnd(t *testing.T) {
	tc := newTestClient(t, 2)
	ts := newTestServer(t, nil)

	req := PredictRequest{
		EncryptedFeatures: tc.encrypt(t, [][]float64{{65, 150, 220}}),
		PublicKey:         tc.pub,
		ModelType:         ModelLinearRegression,
	}

	var resp PredictResponse
	code := postJSON(t, ts.URL+"/model/predict/linear_regression", req, &resp)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, ModelLinearRegression, resp.ModelType)
	require.Len(t, resp.EncryptedPredictions, 1)

	got := tc.decrypt(t, resp.EncryptedPredictions[0])
	// 0.5*65 + 0.3*150 + 0.2*220 + 10
	require.InDelta(t, 131.5, got[0], 0.1)
}

func TestPredictLogisticEndToEnd(t *testing.T) {
	cfg := DefaultDeployment()
	cfg.Models[ModelLogisticRegression] = engine.Model{
		Weights:   []float64{0.3, 0.2, 0.1, 0.05},
		Intercept: -0.5,
	}

	tc := newTestClient(t, 4)
	ts := newTestServer(t, cfg)

	req := PredictRequest{
		EncryptedFeatures: tc.encrypt(t, [][]float64{{1, 1, 1}}),
		PublicKey:         tc.pub,
	}

	var resp PredictResponse
	code := postJSON(t, ts.URL+"/model/predict/logistic_regression", req, &resp)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.EncryptedPredictions, 1)

	got := tc.decrypt(t, resp.EncryptedPredictions[0])
	require.InDelta(t, engine.Sigmoid(0.15), got[0], cfg.Sigmoid.MaxError+0.02)
}

func TestPredictBatchAtomicity(t *testing.T) {
	tc := newTestClient(t, 2)
	ts := newTestServer(t, nil)

	features := tc.encrypt(t, [][]float64{{65, 150, 220}})
	features = append(features, tc.encrypt(t, [][]float64{{65, 150}})...)

	req := PredictRequest{EncryptedFeatures: features, PublicKey: tc.pub}
	var resp errorResponse
	code := postJSON(t, ts.URL+"/model/predict/linear_regression", req, &resp)
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, resp.Error, "sample 1")
}

func TestUnknownModelType(t *testing.T) {
	tc := newTestClient(t, 1)
	ts := newTestServer(t, nil)

	req := PredictRequest{
		EncryptedFeatures: tc.encrypt(t, [][]float64{{1, 2, 3}}),
		PublicKey:         tc.pub,
	}
	code := postJSON(t, ts.URL+"/model/predict/random_forest", req, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestModelTypeBodyRouteMismatch(t *testing.T) {
	tc := newTestClient(t, 1)
	ts := newTestServer(t, nil)

	req := PredictRequest{
		EncryptedFeatures: tc.encrypt(t, [][]float64{{1, 2, 3}}),
		PublicKey:         tc.pub,
		ModelType:         ModelLogisticRegression,
	}
	code := postJSON(t, ts.URL+"/model/predict/linear_regression", req, nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestInfoEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ops struct {
		Operations []string `json:"operations"`
	}
	resp, err = http.Get(ts.URL + "/compute/operations")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ops))
	resp.Body.Close()
	require.Contains(t, ops.Operations, "variance")

	var info struct {
		Models map[string]interface{} `json:"models"`
	}
	resp, err = http.Get(ts.URL + "/model/info")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	require.Contains(t, info.Models, ModelLinearRegression)
	require.Contains(t, info.Models, ModelLogisticRegression)
}

func TestDeploymentConfigValidation(t *testing.T) {
	cfg := DefaultDeployment()
	cfg.Sigmoid.MaxError = 0
	_, err := New(cfg, nil, nil)
	require.Error(t, err)

	cfg = &DeploymentConfig{Sigmoid: engine.DefaultSigmoidApproximation()}
	_, err = New(cfg, nil, nil)
	require.Error(t, err)
}
