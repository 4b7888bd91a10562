package engine

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// EncryptedVector is a ciphertext handle together with the logical
// vector length and optional per-column names. Vectors are conceptually
// immutable: engine operations consume them and return fresh vectors.
type EncryptedVector struct {
	Ciphertext *rlwe.Ciphertext
	Length     int
	Names      []string
}

// Level returns the remaining multiplicative levels of the ciphertext.
func (v *EncryptedVector) Level() int { return v.Ciphertext.Level() }

// Scale returns the current CKKS scale of the ciphertext.
func (v *EncryptedVector) Scale() rlwe.Scale { return v.Ciphertext.Scale }

// matchContext verifies a ciphertext was produced under the request's
// scheme parameters. Lattigo panics on operands from a foreign ring or
// a deeper modulus chain, so the check runs before any evaluator work
// starts and the mismatch surfaces as a *ContextError instead.
func matchContext(op string, sample int, c *Context, v *EncryptedVector) error {
	if n := v.Ciphertext.Value[0].N(); n != c.params.N() {
		return &ContextError{Reason: fmt.Sprintf(
			"%s: sample %d is encrypted under ring degree %d, context uses %d",
			op, sample, n, c.params.N())}
	}
	if v.Level() > c.MaxLevel() {
		return &ContextError{Reason: fmt.Sprintf(
			"%s: sample %d sits at level %d, context provides at most %d",
			op, sample, v.Level(), c.MaxLevel())}
	}
	return nil
}

// columnIndex resolves a column name against the vector's metadata.
func (v *EncryptedVector) columnIndex(name string) (int, bool) {
	for i, n := range v.Names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// Encrypt encodes values into the slots of a fresh plaintext and
// encrypts it under the context public key. Optional names label the
// columns and must match the value count. Values beyond MaxSlots do
// not fit in a single ciphertext and are rejected.
func Encrypt(c *Context, values []float64, names ...string) (*EncryptedVector, error) {
	if len(values) == 0 {
		return nil, &DimensionError{Operation: "encrypt", Sample: -1, Detail: "no values"}
	}
	if len(values) > c.MaxSlots() {
		return nil, &DimensionError{Operation: "encrypt", Sample: -1, Detail: fmt.Sprintf(
			"%d values exceed the %d slots of a degree-%d ring",
			len(values), c.MaxSlots(), c.params.N())}
	}
	if len(names) > 0 && len(names) != len(values) {
		return nil, &DimensionError{Operation: "encrypt", Sample: -1, Detail: fmt.Sprintf(
			"%d column names for %d values", len(names), len(values))}
	}

	buf := slotBuffer(c.MaxSlots())
	defer releaseSlotBuffer(buf)
	copy(buf, values)

	pt := ckks.NewPlaintext(c.params, c.params.MaxLevel())
	if err := c.encoder.ShallowCopy().Encode(buf, pt); err != nil {
		return nil, fmt.Errorf("encoding vector: %w", err)
	}

	ct, err := rlwe.NewEncryptor(c.params, c.pk).EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encrypting vector: %w", err)
	}

	var cols []string
	if len(names) > 0 {
		cols = append([]string(nil), names...)
	}
	return &EncryptedVector{Ciphertext: ct, Length: len(values), Names: cols}, nil
}

// Decrypt reconstructs the plaintext values of a vector. Only the
// secret-key holder can call it; the server-side entry points never
// accept a secret key. The result approximates the original values
// within the precision of the configured scale.
func Decrypt(c *Context, v *EncryptedVector, sk *rlwe.SecretKey) ([]float64, error) {
	if v == nil || v.Ciphertext == nil {
		return nil, &DimensionError{Operation: "decrypt", Sample: -1, Detail: "nil vector"}
	}

	pt := rlwe.NewDecryptor(c.params, sk).DecryptNew(v.Ciphertext)

	buf := slotBuffer(c.MaxSlots())
	defer releaseSlotBuffer(buf)
	if err := c.encoder.ShallowCopy().Decode(pt, buf); err != nil {
		return nil, fmt.Errorf("decoding vector: %w", err)
	}

	n := v.Length
	if n <= 0 || n > len(buf) {
		n = len(buf)
	}
	out := make([]float64, n)
	copy(out, buf[:n])
	return out, nil
}

// vectorBundle is the wire form of an EncryptedVector. The ciphertext
// bytes carry level and scale, so both survive a round trip exactly.
type vectorBundle struct {
	Length     int
	Names      []string
	Ciphertext []byte
}

// Serialize encodes the vector for transport.
func (v *EncryptedVector) Serialize() ([]byte, error) {
	ctBytes, err := v.Ciphertext.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal ciphertext: %w", err)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vectorBundle{
		Length:     v.Length,
		Names:      v.Names,
		Ciphertext: ctBytes,
	}); err != nil {
		return nil, fmt.Errorf("encode vector bundle: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeVector decodes a vector produced by Serialize. Level and
// scale of the embedded ciphertext are preserved exactly.
func DeserializeVector(data []byte) (*EncryptedVector, error) {
	var bundle vectorBundle
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&bundle); err != nil {
		return nil, &DimensionError{Operation: "deserialize", Sample: -1,
			Detail: fmt.Sprintf("decoding vector bundle: %v", err)}
	}
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(bundle.Ciphertext); err != nil {
		return nil, &DimensionError{Operation: "deserialize", Sample: -1,
			Detail: fmt.Sprintf("unmarshaling ciphertext: %v", err)}
	}
	if bundle.Length < 1 {
		return nil, &DimensionError{Operation: "deserialize", Sample: -1,
			Detail: fmt.Sprintf("invalid logical length %d", bundle.Length)}
	}
	return &EncryptedVector{Ciphertext: ct, Length: bundle.Length, Names: bundle.Names}, nil
}
