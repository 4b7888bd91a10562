package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Snitch-1302/PrivAnalytica/engine"
)

// Model type identifiers used in routes and request bodies.
const (
	ModelLinearRegression   = "linear_regression"
	ModelLogisticRegression = "logistic_regression"
)

// DeploymentConfig is the static per-deployment configuration: plaintext
// model parameters and the sigmoid approximation. Models are never
// derived from request data.
type DeploymentConfig struct {
	Models  map[string]engine.Model    `json:"models"`
	Sigmoid engine.ApproximationConfig `json:"sigmoid"`
}

// DefaultDeployment mirrors the shipped demo models: a disease-risk
// logistic regression and a continuous-score linear regression over
// age, blood pressure and cholesterol, each with a trailing bias
// column weight.
func DefaultDeployment() *DeploymentConfig {
	return &DeploymentConfig{
		Models: map[string]engine.Model{
			ModelLogisticRegression: {
				Weights:      []float64{0.2, -0.1, 0.3, 0.15},
				Intercept:    -2.5,
				FeatureNames: []string{"age", "blood_pressure", "cholesterol", "bias"},
			},
			ModelLinearRegression: {
				Weights:      []float64{0.5, 0.3, 0.2, 10.0},
				FeatureNames: []string{"age", "blood_pressure", "cholesterol", "bias"},
			},
		},
		Sigmoid: engine.DefaultSigmoidApproximation(),
	}
}

// LoadDeployment reads a deployment configuration from a JSON file.
func LoadDeployment(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deployment config: %w", err)
	}
	cfg := new(DeploymentConfig)
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing deployment config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine would refuse at request
// time, so a bad deployment fails at startup instead.
func (cfg *DeploymentConfig) Validate() error {
	if len(cfg.Models) == 0 {
		return fmt.Errorf("deployment config declares no models")
	}
	for name, m := range cfg.Models {
		if len(m.Weights) == 0 {
			return fmt.Errorf("model %q has no weights", name)
		}
	}
	if err := cfg.Sigmoid.Validate(); err != nil {
		return fmt.Errorf("deployment config: %w", err)
	}
	return nil
}
