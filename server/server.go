package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Snitch-1302/PrivAnalytica/engine"
)

// EventSink receives the audit events the engine emits. The default
// sink writes them to the process log; deployments can plug in a
// persistent store instead.
type EventSink interface {
	Record(ev engine.Event)
}

// LogSink writes audit events to a standard logger.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Record(ev engine.Event) {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("audit operation=%s type=%s status=%s duration=%s",
		ev.Operation, ev.Type, ev.Status, ev.ExecutionTime)
}

// ComputeRequest is the wire form of an aggregate request. The public
// key field carries a full serialized evaluation context; the secret
// key never appears on the wire.
type ComputeRequest struct {
	EncryptedVectors []string               `json:"encrypted_vectors"`
	PublicKey        string                 `json:"public_key"`
	ColumnIndex      *int                   `json:"column_index,omitempty"`
	ColumnName       string                 `json:"column_name,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ComputeResponse carries the ciphertext result as base64, except for
// count, whose plain cardinality is returned directly.
type ComputeResponse struct {
	Operation       string                 `json:"operation"`
	EncryptedResult string                 `json:"encrypted_result,omitempty"`
	Count           *int                   `json:"count,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
	Status          string                 `json:"status"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// PredictRequest is the wire form of an inference request.
type PredictRequest struct {
	EncryptedFeatures []string               `json:"encrypted_features"`
	PublicKey         string                 `json:"public_key"`
	ModelType         string                 `json:"model_type,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// PredictResponse carries one base64 ciphertext per input sample,
// index-aligned with the request.
type PredictResponse struct {
	ModelType            string                 `json:"model_type"`
	EncryptedPredictions []string               `json:"encrypted_predictions"`
	Timestamp            time.Time              `json:"timestamp"`
	Status               string                 `json:"status"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

type errorResponse struct {
	Operation string    `json:"operation,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Server exposes the computation engine over HTTP. It holds no client
// key material: every request carries its own evaluation context.
type Server struct {
	cfg    *DeploymentConfig
	sink   EventSink
	logger *log.Logger
}

// New builds a Server from a validated deployment configuration.
func New(cfg *DeploymentConfig, sink EventSink, logger *log.Logger) (*Server, error) {
	if cfg == nil {
		cfg = DefaultDeployment()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	return &Server{cfg: cfg, sink: sink, logger: logger}, nil
}

// Router wires the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/compute/operations", s.handleOperations).Methods(http.MethodGet)
	r.HandleFunc("/compute/{operation:sum|average|variance|count}", s.handleCompute).Methods(http.MethodPost)
	r.HandleFunc("/model/info", s.handleModelInfo).Methods(http.MethodGet)
	r.HandleFunc("/model/predict/{model_type}", s.handlePredict).Methods(http.MethodPost)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations": []string{"sum", "average", "variance", "count"},
	})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	info := make(map[string]interface{}, len(s.cfg.Models))
	for name, m := range s.cfg.Models {
		info[name] = map[string]interface{}{
			"feature_names": m.FeatureNames,
			"num_weights":   len(m.Weights),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": info})
}

func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	operation := mux.Vars(r)["operation"]

	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, operation, http.StatusBadRequest, fmt.Errorf("decoding request body: %w", err))
		return
	}

	c, vectors, err := s.decodeBatch(req.PublicKey, req.EncryptedVectors)
	if err != nil {
		s.writeError(w, operation, http.StatusBadRequest, err)
		return
	}

	var col *engine.Column
	if req.ColumnIndex != nil || req.ColumnName != "" {
		col = &engine.Column{Index: req.ColumnIndex, Name: req.ColumnName}
	}

	ctx := r.Context()
	env, ev, err := engine.Observe(operation, engine.OpTypeComputation, func() (*engine.Envelope, error) {
		switch operation {
		case "sum":
			res, err := engine.Sum(ctx, c, vectors, col)
			if err != nil {
				return nil, err
			}
			return engine.Package(res, req.Metadata)
		case "average":
			res, err := engine.Average(ctx, c, vectors, col)
			if err != nil {
				return nil, err
			}
			return engine.Package(res, req.Metadata)
		case "variance":
			res, err := engine.Variance(ctx, c, vectors, col)
			if err != nil {
				return nil, err
			}
			return engine.Package(res, req.Metadata)
		case "count":
			n, err := engine.Count(vectors)
			if err != nil {
				return nil, err
			}
			return engine.PackageCount(n, req.Metadata)
		default:
			return nil, fmt.Errorf("unsupported operation %q", operation)
		}
	})
	s.sink.Record(ev)
	if err != nil {
		s.writeError(w, operation, statusFor(err), err)
		return
	}

	resp := ComputeResponse{
		Operation: env.Operation,
		Count:     env.Count,
		Timestamp: env.Timestamp,
		Status:    env.Status,
		Metadata:  env.Metadata,
	}
	if len(env.Payload) > 0 {
		resp.EncryptedResult = base64.StdEncoding.EncodeToString(env.Payload)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	modelType := mux.Vars(r)["model_type"]

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, modelType, http.StatusBadRequest, fmt.Errorf("decoding request body: %w", err))
		return
	}
	if req.ModelType != "" && req.ModelType != modelType {
		s.writeError(w, modelType, http.StatusBadRequest,
			fmt.Errorf("model_type %q does not match route %q", req.ModelType, modelType))
		return
	}

	model, ok := s.cfg.Models[modelType]
	if !ok {
		s.writeError(w, modelType, http.StatusNotFound, fmt.Errorf("unknown model type %q", modelType))
		return
	}

	c, features, err := s.decodeBatch(req.PublicKey, req.EncryptedFeatures)
	if err != nil {
		s.writeError(w, modelType, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	env, ev, err := engine.Observe(modelType, engine.OpTypeMLPrediction, func() (*engine.PredictionEnvelope, error) {
		var preds engine.PredictionResult
		var err error
		switch modelType {
		case ModelLinearRegression:
			preds, err = engine.PredictLinear(ctx, c, features, model)
		case ModelLogisticRegression:
			preds, err = engine.PredictLogistic(ctx, c, features, model, s.cfg.Sigmoid)
		default:
			err = fmt.Errorf("unsupported model type %q", modelType)
		}
		if err != nil {
			return nil, err
		}
		return engine.PackagePredictions(modelType, preds, req.Metadata)
	})
	s.sink.Record(ev)
	if err != nil {
		s.writeError(w, modelType, statusFor(err), err)
		return
	}

	resp := PredictResponse{
		ModelType: env.ModelType,
		Timestamp: env.Timestamp,
		Status:    env.Status,
		Metadata:  env.Metadata,
	}
	resp.EncryptedPredictions = make([]string, len(env.Payloads))
	for i, raw := range env.Payloads {
		resp.EncryptedPredictions[i] = base64.StdEncoding.EncodeToString(raw)
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeBatch reconstructs the evaluation context and ciphertext batch
// from their wire encodings. Any decode failure rejects the whole
// request; there is no fallback context.
func (s *Server) decodeBatch(publicKey string, payloads []string) (*engine.Context, []*engine.EncryptedVector, error) {
	raw, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, nil, &engine.ContextError{Reason: "public_key is not valid base64", Err: err}
	}
	c, err := engine.LoadContext(raw)
	if err != nil {
		return nil, nil, err
	}

	vectors := make([]*engine.EncryptedVector, len(payloads))
	for i, enc := range payloads {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, nil, fmt.Errorf("ciphertext %d is not valid base64: %w", i, err)
		}
		v, err := engine.DeserializeVector(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("ciphertext %d: %w", i, err)
		}
		vectors[i] = v
	}
	return c, vectors, nil
}

// statusFor maps engine failures to HTTP statuses. Validation and
// capability failures are the client's to fix; everything else is a
// server fault.
func statusFor(err error) int {
	var (
		ctxErr   *engine.ContextError
		depthErr *engine.InsufficientDepthError
		dimErr   *engine.DimensionError
		emptyErr *engine.EmptyBatchError
		cfgErr   *engine.ApproximationConfigError
	)
	switch {
	case errors.As(err, &ctxErr),
		errors.As(err, &depthErr),
		errors.As(err, &dimErr),
		errors.As(err, &emptyErr),
		errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, operation string, status int, err error) {
	s.logger.Printf("request failed operation=%s status=%d err=%v", operation, status, err)
	writeJSON(w, status, errorResponse{
		Operation: operation,
		Status:    "error",
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}
