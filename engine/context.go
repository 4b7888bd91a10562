package engine

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/bits"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// Context bundles the CKKS scheme parameters and the public evaluation
// key material needed to compute on ciphertexts. It never contains
// secret key material and is immutable once constructed, so a single
// Context may be shared by concurrent requests; evaluator state is
// forked per goroutine with ShallowCopy.
type Context struct {
	params  ckks.Parameters
	pk      *rlwe.PublicKey
	rlk     *rlwe.RelinearizationKey
	gks     []*rlwe.GaloisKey
	encoder *ckks.Encoder
	eval    *ckks.Evaluator
}

// GenerateContext builds a context sized for levelsNeeded sequential
// homomorphic multiplications and generates the full key set. The
// returned Context is server-safe; the secret key is returned
// separately and must stay with the caller. Galois keys for all
// power-of-two rotations are included so slot inner sums work for any
// vector width.
func GenerateContext(polyModulusDegree, levelsNeeded int) (*Context, *rlwe.SecretKey, error) {
	if polyModulusDegree < MinPolyModulusDegree || polyModulusDegree > MaxPolyModulusDegree ||
		bits.OnesCount(uint(polyModulusDegree)) != 1 {
		return nil, nil, &ContextError{Reason: fmt.Sprintf(
			"poly modulus degree must be a power of two in [%d, %d], got %d",
			MinPolyModulusDegree, MaxPolyModulusDegree, polyModulusDegree)}
	}
	if levelsNeeded < 1 || levelsNeeded > MaxLevelsNeeded {
		return nil, nil, &ContextError{Reason: fmt.Sprintf(
			"levels needed must be in [1, %d], got %d", MaxLevelsNeeded, levelsNeeded)}
	}

	logQ := make([]int, 0, levelsNeeded+1)
	logQ = append(logQ, logQFirst)
	for i := 0; i < levelsNeeded; i++ {
		logQ = append(logQ, ScaleBits)
	}

	params, err := ckks.NewParametersFromLiteral(ckks.ParametersLiteral{
		LogN:            bits.Len(uint(polyModulusDegree)) - 1,
		LogQ:            logQ,
		LogP:            []int{logPSpecial},
		LogDefaultScale: ScaleBits,
	})
	if err != nil {
		return nil, nil, &ContextError{Reason: "building CKKS parameters", Err: err}
	}

	kgen := rlwe.NewKeyGenerator(params)
	sk := kgen.GenSecretKeyNew()
	pk := kgen.GenPublicKeyNew(sk)
	rlk := kgen.GenRelinearizationKeyNew(sk)

	// Rotation keys for powers of two up to half the slot count, enough
	// to fold any slot range with log2 rotations.
	var gks []*rlwe.GaloisKey
	for k := 1; k < params.MaxSlots(); k <<= 1 {
		gks = append(gks, kgen.GenGaloisKeyNew(params.GaloisElement(k), sk))
	}

	return newContext(params, pk, rlk, gks), sk, nil
}

func newContext(params ckks.Parameters, pk *rlwe.PublicKey, rlk *rlwe.RelinearizationKey, gks []*rlwe.GaloisKey) *Context {
	return &Context{
		params:  params,
		pk:      pk,
		rlk:     rlk,
		gks:     gks,
		encoder: ckks.NewEncoder(params),
		eval:    ckks.NewEvaluator(params, rlwe.NewMemEvaluationKeySet(rlk, gks...)),
	}
}

// Params returns the scheme parameters.
func (c *Context) Params() ckks.Parameters { return c.params }

// MaxSlots returns the vector width the context can encode, i.e. half
// the polynomial modulus degree.
func (c *Context) MaxSlots() int { return c.params.MaxSlots() }

// MaxLevel returns the number of usable multiplicative levels of a
// fresh ciphertext under this context.
func (c *Context) MaxLevel() int { return c.params.MaxLevel() }

// contextBundle is the wire form of a server-safe context. Every field
// carries the MarshalBinary output of the corresponding lattigo object.
type contextBundle struct {
	Version    uint8
	Params     []byte
	PublicKey  []byte
	RelinKey   []byte
	GaloisKeys [][]byte
}

const contextBundleVersion = 1

// Serialize encodes the context in a lossless, secret-free form.
// LoadContext(Serialize(ctx)) reproduces identical scheme parameters.
func (c *Context) Serialize() ([]byte, error) {
	bundle := contextBundle{Version: contextBundleVersion}

	var err error
	if bundle.Params, err = c.params.MarshalBinary(); err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	if bundle.PublicKey, err = c.pk.MarshalBinary(); err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	if bundle.RelinKey, err = c.rlk.MarshalBinary(); err != nil {
		return nil, fmt.Errorf("marshal relinearization key: %w", err)
	}
	bundle.GaloisKeys = make([][]byte, len(c.gks))
	for i, gk := range c.gks {
		if bundle.GaloisKeys[i], err = gk.MarshalBinary(); err != nil {
			return nil, fmt.Errorf("marshal galois key %d: %w", i, err)
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(bundle); err != nil {
		return nil, fmt.Errorf("encode context bundle: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadContext deserializes a server-safe context. Malformed or
// structurally incomplete bytes yield a *ContextError; a fabricated or
// default context is never substituted on failure.
func LoadContext(data []byte) (*Context, error) {
	if len(data) == 0 {
		return nil, &ContextError{Reason: "empty context bytes"}
	}

	var bundle contextBundle
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&bundle); err != nil {
		return nil, &ContextError{Reason: "decoding context bundle", Err: err}
	}
	if bundle.Version != contextBundleVersion {
		return nil, &ContextError{Reason: fmt.Sprintf("unsupported context bundle version %d", bundle.Version)}
	}

	var params ckks.Parameters
	if err := params.UnmarshalBinary(bundle.Params); err != nil {
		return nil, &ContextError{Reason: "unmarshaling parameters", Err: err}
	}

	pk := new(rlwe.PublicKey)
	if err := pk.UnmarshalBinary(bundle.PublicKey); err != nil {
		return nil, &ContextError{Reason: "unmarshaling public key", Err: err}
	}

	rlk := new(rlwe.RelinearizationKey)
	if err := rlk.UnmarshalBinary(bundle.RelinKey); err != nil {
		return nil, &ContextError{Reason: "unmarshaling relinearization key", Err: err}
	}

	if len(bundle.GaloisKeys) == 0 {
		return nil, &ContextError{Reason: "context bundle carries no rotation keys"}
	}
	gks := make([]*rlwe.GaloisKey, len(bundle.GaloisKeys))
	for i, raw := range bundle.GaloisKeys {
		gk := new(rlwe.GaloisKey)
		if err := gk.UnmarshalBinary(raw); err != nil {
			return nil, &ContextError{Reason: fmt.Sprintf("unmarshaling galois key %d", i), Err: err}
		}
		gks[i] = gk
	}

	return newContext(params, pk, rlk, gks), nil
}
