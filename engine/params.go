package engine

// Supported polynomial modulus degrees. Smaller rings are fast enough
// for tests, LogN 13-14 is the usual deployment range.
const (
	MinPolyModulusDegree = 1 << 11 // 2048
	MaxPolyModulusDegree = 1 << 16 // 65536
)

// ScaleBits is the fixed-point encoding precision of the CKKS scale.
// Intermediate moduli match it so rescaling keeps ciphertexts close to
// the default scale.
const ScaleBits = 45

// Modulus sizes of the chain: one larger prime at the top of the chain,
// ScaleBits-sized primes for each usable level, and a special modulus
// for key switching.
const (
	logQFirst   = 55
	logPSpecial = 61
)

// MaxLevelsNeeded caps the requestable multiplicative depth. Deeper
// chains than this exceed what any operation in the service consumes.
const MaxLevelsNeeded = 16

// Multiplicative levels consumed by each aggregate operation. Sum and
// average spend their single level on the column mask (the 1/n factor
// of average is folded into the mask); variance additionally squares
// ciphertexts.
const (
	LevelsSum      = 1
	LevelsAverage  = 1
	LevelsVariance = 2
	LevelsLinear   = 1
)

// numAggregateWorkers bounds the goroutines used to shard a batch
// reduction. Homomorphic addition is associative and commutative, so
// shard ordering does not affect the result beyond bounded noise.
const numAggregateWorkers = 4
