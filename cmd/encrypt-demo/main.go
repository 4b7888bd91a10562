// Command encrypt-demo walks the client side of the analytics workflow
// against a running server: it generates a fresh CKKS context, encrypts
// a small batch of health records, requests encrypted statistics and a
// model prediction, and decrypts the responses locally. The secret key
// never leaves this process.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/Snitch-1302/PrivAnalytica/engine"
	"github.com/Snitch-1302/PrivAnalytica/server"
)

var featureNames = []string{"age", "blood_pressure", "cholesterol"}

func main() {
	baseURL := flag.String("server", "http://localhost:8000", "Analytics server base URL")
	logN := flag.Int("logn", 13, "Log2 of the CKKS polynomial modulus degree")
	levels := flag.Int("levels", 4, "Multiplicative levels to provision")
	flag.Parse()

	if err := run(*baseURL, 1 << *logN, *levels); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run(baseURL string, polyDegree, levels int) error {
	fmt.Printf("Generating CKKS context (N=%d, %d levels)...\n", polyDegree, levels)
	c, sk, err := engine.GenerateContext(polyDegree, levels)
	if err != nil {
		return err
	}
	ctxBytes, err := c.Serialize()
	if err != nil {
		return err
	}
	pub := base64.StdEncoding.EncodeToString(ctxBytes)

	records := [][]float64{
		{65, 150, 220},
		{48, 130, 195},
		{71, 160, 240},
	}
	fmt.Printf("Encrypting %d health records (%v)...\n", len(records), featureNames)
	encrypted := make([]string, len(records))
	for i, row := range records {
		v, err := engine.Encrypt(c, row, featureNames...)
		if err != nil {
			return err
		}
		raw, err := v.Serialize()
		if err != nil {
			return err
		}
		encrypted[i] = base64.StdEncoding.EncodeToString(raw)
	}

	for _, op := range []string{"sum", "average", "variance", "count"} {
		if err := compute(baseURL, op, pub, encrypted, c, sk); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return predict(baseURL, server.ModelLinearRegression, pub, encrypted, c, sk)
}

func compute(baseURL, op, pub string, encrypted []string, c *engine.Context, sk *rlwe.SecretKey) error {
	req := server.ComputeRequest{
		EncryptedVectors: encrypted,
		PublicKey:        pub,
		ColumnName:       "cholesterol",
	}
	if op == "count" {
		req.ColumnName = ""
	}

	var resp server.ComputeResponse
	if err := post(baseURL+"/compute/"+op, req, &resp); err != nil {
		return err
	}

	if resp.Count != nil {
		fmt.Printf("%-9s -> %d records\n", op, *resp.Count)
		return nil
	}
	values, err := decrypt(c, sk, resp.EncryptedResult)
	if err != nil {
		return err
	}
	fmt.Printf("%-9s (cholesterol) -> %.4f\n", op, values[2])
	return nil
}

func predict(baseURL, modelType, pub string, encrypted []string, c *engine.Context, sk *rlwe.SecretKey) error {
	req := server.PredictRequest{
		EncryptedFeatures: encrypted,
		PublicKey:         pub,
		ModelType:         modelType,
	}
	var resp server.PredictResponse
	if err := post(baseURL+"/model/predict/"+modelType, req, &resp); err != nil {
		return fmt.Errorf("%s: %w", modelType, err)
	}

	fmt.Printf("%s predictions:\n", modelType)
	for i, enc := range resp.EncryptedPredictions {
		values, err := decrypt(c, sk, enc)
		if err != nil {
			return err
		}
		fmt.Printf("  record %d -> %.4f\n", i, values[0])
	}
	return nil
}

func post(url string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var fail struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&fail); err == nil && fail.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, fail.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decrypt(c *engine.Context, sk *rlwe.SecretKey, enc string) ([]float64, error) {
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, err
	}
	v, err := engine.DeserializeVector(raw)
	if err != nil {
		return nil, err
	}
	return engine.Decrypt(c, v, sk)
}
