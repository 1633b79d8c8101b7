package core

import (
	"context"
	"time"

	"github.com/meshnet-labs/meshnet/internal/zkcircuit"
)

// ZkProof is a Groth16 proof of Poseidon(inputHash, outputHash, workerSecret)
// = commitment, where commitment is the single public signal.
type ZkProof struct {
	inner *zkcircuit.Proof
}

// GetCommitment returns the proof's single public signal.
func (p ZkProof) GetCommitment() FieldElement {
	if p.inner == nil {
		return FieldElement{}
	}
	return fieldElementFromBigIntExact(p.inner.Commitment)
}

// Backend reports which prover backend produced this proof ("native" or
// "portable").
func (p ZkProof) Backend() string {
	if p.inner == nil {
		return ""
	}
	return string(p.inner.Backend)
}

// WithTamperedCommitment returns a copy of p whose declared public signal is
// replaced by fe, leaving the underlying proof bytes untouched. It exists to
// exercise the tampered-public-signal property: the pairing check
// must then fail since the proof no longer attests to the replaced value.
func (p ZkProof) WithTamperedCommitment(fe FieldElement) ZkProof {
	if p.inner == nil {
		return p
	}
	clone := *p.inner
	clone.Commitment = fe.BigInt()
	return ZkProof{inner: &clone}
}

func fieldElementFromBigIntExact(x interface{ Bytes() []byte }) FieldElement {
	var out FieldElement
	b := x.Bytes()
	copy(out[32-len(b):], b)
	return out
}

// ProverConfig carries the prover's backend and timeout knobs.
type ProverConfig struct {
	Backend        zkcircuit.Backend // "native" or "portable"
	NativeBinary   string
	ProveTimeout   time.Duration // default 30s
	ScopedTempRoot string
}

// ZkProver produces Groth16 proofs of per-chunk execution.
type ZkProver struct {
	art *zkcircuit.Artifacts
	cfg ProverConfig
}

// NewZkProver constructs a prover sharing the process-wide circuit artifacts
// (compiled constraint system + Groth16 keys), built once and reused
// immutably across every ZkProver/ZkVerifier in the process.
func NewZkProver(cfg ProverConfig) (*ZkProver, error) {
	art, err := zkcircuit.Shared()
	if err != nil {
		return nil, wrapErr(ErrProofGeneration, "zk artifacts setup", err)
	}
	if cfg.ProveTimeout <= 0 {
		cfg.ProveTimeout = 30 * time.Second
	}
	return &ZkProver{art: art, cfg: cfg}, nil
}

// Prove hashes input and output via the Hasher and proves knowledge
// of (inputHash, outputHash, workerSecret) under Poseidon. On any fast
// ("native") backend failure it transparently falls back to the portable
// backend and still returns a valid proof.
func (p *ZkProver) Prove(ctx context.Context, input, output Vector, workerSecret FieldElement) (ZkProof, error) {
	hasher := NewHasher()
	inputHash := hasher.HashActivations(input).BigInt()
	outputHash := hasher.HashActivations(output).BigInt()

	inner, err := zkcircuit.Prove(ctx, p.art, zkcircuit.ProveConfig{
		Backend:        p.cfg.Backend,
		NativeBinary:   p.cfg.NativeBinary,
		ProveTimeout:   p.cfg.ProveTimeout,
		ScopedTempRoot: p.cfg.ScopedTempRoot,
	}, inputHash, outputHash, workerSecret.BigInt())
	if err != nil {
		return ZkProof{}, wrapErr(ErrProofGeneration, "prove", err)
	}
	return ZkProof{inner: inner}, nil
}

// ZkVerifier verifies Groth16 proofs against the fixed, shared verification
// key.
type ZkVerifier struct {
	art *zkcircuit.Artifacts
}

// NewZkVerifier constructs a verifier sharing the process-wide artifacts.
func NewZkVerifier() (*ZkVerifier, error) {
	art, err := zkcircuit.Shared()
	if err != nil {
		return nil, wrapErr(ErrProofGeneration, "zk artifacts setup", err)
	}
	return &ZkVerifier{art: art}, nil
}

// Verify runs the Groth16 pairing check. It returns false, not an error, for
// any cryptographically invalid proof (including a tampered public signal).
func (v *ZkVerifier) Verify(proof ZkProof) bool {
	if proof.inner == nil {
		return false
	}
	return zkcircuit.Verify(v.art, proof.inner)
}
