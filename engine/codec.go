package engine

import (
	"fmt"
	"time"
)

// StatusSuccess is the only status the codec ever emits: failed
// operations surface as errors, never as envelopes.
const StatusSuccess = "success"

// Envelope packages one aggregate result for the serving layer. Payload
// carries ciphertext bytes for every operation except count, whose
// plain cardinality travels in Count. An envelope never embeds a
// decrypted statistic.
type Envelope struct {
	Operation string                 `json:"operation"`
	Payload   []byte                 `json:"payload,omitempty"`
	Count     *int                   `json:"count,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// PredictionEnvelope packages a prediction batch, one ciphertext per
// sample, index-aligned with the request.
type PredictionEnvelope struct {
	ModelType string                 `json:"model_type"`
	Payloads  [][]byte               `json:"payloads"`
	Timestamp time.Time              `json:"timestamp"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Package wraps an aggregate result with its column metadata and the
// caller's metadata for transport.
func Package(res *AggregateResult, callerMeta map[string]interface{}) (*Envelope, error) {
	if res == nil {
		return nil, fmt.Errorf("package: nil result")
	}

	meta := map[string]interface{}{}
	for k, v := range callerMeta {
		meta[k] = v
	}
	if res.ColumnIndex >= 0 {
		meta["column_index"] = res.ColumnIndex
	}
	if res.ColumnName != "" {
		meta["column_name"] = res.ColumnName
	}

	env := &Envelope{
		Operation: res.Operation,
		Timestamp: time.Now().UTC(),
		Status:    StatusSuccess,
		Metadata:  meta,
	}

	if res.Vector == nil {
		count := res.Count
		env.Count = &count
		return env, nil
	}

	payload, err := res.Vector.Serialize()
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", res.Operation, err)
	}
	env.Payload = payload
	return env, nil
}

// PackageCount wraps a plain cardinality result.
func PackageCount(count int, callerMeta map[string]interface{}) (*Envelope, error) {
	return Package(&AggregateResult{Operation: "count", ColumnIndex: -1, Count: count}, callerMeta)
}

// PackagePredictions wraps a prediction batch for transport.
func PackagePredictions(modelType string, preds PredictionResult, callerMeta map[string]interface{}) (*PredictionEnvelope, error) {
	payloads := make([][]byte, len(preds))
	for i, p := range preds {
		raw, err := p.Serialize()
		if err != nil {
			return nil, fmt.Errorf("package %s prediction %d: %w", modelType, i, err)
		}
		payloads[i] = raw
	}

	var meta map[string]interface{}
	if len(callerMeta) > 0 {
		meta = make(map[string]interface{}, len(callerMeta))
		for k, v := range callerMeta {
			meta[k] = v
		}
	}

	return &PredictionEnvelope{
		ModelType: modelType,
		Payloads:  payloads,
		Timestamp: time.Now().UTC(),
		Status:    StatusSuccess,
		Metadata:  meta,
	}, nil
}
