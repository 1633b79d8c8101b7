package zkcircuit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// Backend selects which prover implementation produces the SNARK arithmetic;
// the witness is always computed from the same compiled circuit.
type Backend string

const (
	// BackendNative spawns an external prover binary and is preferred when
	// configured: (zkey_path, witness_path, proof_out_path, public_out_path)
	// positional arguments, exit 0 on success.
	BackendNative Backend = "native"
	// BackendPortable runs gnark's pure-Go Groth16 prover in-process and
	// never fails for environmental reasons (no external process, no PATH
	// lookup); it is always available as a fallback.
	BackendPortable Backend = "portable"
)

// Artifacts holds the circuit's compiled constraint system and Groth16
// keys. They are immutable once built and may be shared freely across
// concurrent provers/verifiers.
type Artifacts struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// Setup compiles CommitmentCircuit and runs the Groth16 trusted setup once.
// In a production deployment pk/vk would be loaded from ceremony output
// instead; Setup exists so the prover/verifier can be exercised without an
// external ceremony artifact.
func Setup() (*Artifacts, error) {
	var circuit CommitmentCircuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("zkcircuit: compile: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("zkcircuit: setup: %w", err)
	}
	return &Artifacts{ccs: ccs, pk: pk, vk: vk}, nil
}

// ProveConfig carries the native-backend configuration.
type ProveConfig struct {
	Backend        Backend
	NativeBinary    string        // positional-arg prover binary
	ProveTimeout    time.Duration // hard cap for the native backend, default 30s
	ScopedTempRoot  string        // parent dir for per-call scratch dirs, default os.TempDir()
}

// Proof is the Groth16 proof plus the single public signal, serialized in a
// backend-agnostic form.
type Proof struct {
	Backend      Backend
	Commitment   *big.Int
	ProofBytes   []byte // gnark-marshaled groth16.Proof
}

// Prove produces a Groth16 proof that the prover knows inputHash, outputHash
// and workerSecret such that Poseidon(inputHash, outputHash, workerSecret)
// equals the returned Commitment. It tries cfg.Backend first and falls back
// to the portable backend on any native-backend failure.
func Prove(ctx context.Context, art *Artifacts, cfg ProveConfig, inputHash, outputHash, workerSecret *big.Int) (*Proof, error) {
	commitment := NativeCommitment(inputHash, outputHash, workerSecret)
	assignment := &CommitmentCircuit{
		InputHash:    inputHash,
		OutputHash:   outputHash,
		WorkerSecret: workerSecret,
		Commitment:   commitment,
	}
	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("zkcircuit: witness: %w", err)
	}

	backend := cfg.Backend
	if backend == "" {
		backend = BackendPortable
	}

	if backend == BackendNative {
		proofBytes, err := proveNative(ctx, cfg, art, fullWitness, commitment)
		if err == nil {
			return &Proof{Backend: BackendNative, Commitment: commitment, ProofBytes: proofBytes}, nil
		}
		// any fast-backend failure (missing binary, spawn failure, non-zero
		// exit, malformed output, timeout) falls back to the portable one.
	}

	proof, err := groth16.Prove(art.ccs, art.pk, fullWitness)
	if err != nil {
		return nil, fmt.Errorf("zkcircuit: portable prove: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("zkcircuit: marshal proof: %w", err)
	}
	return &Proof{Backend: BackendPortable, Commitment: commitment, ProofBytes: buf.Bytes()}, nil
}

// proveNative spawns cfg.NativeBinary with the positional arguments named
// above, inside a private scoped working directory that is always
// removed on the way out (success or failure).
func proveNative(ctx context.Context, cfg ProveConfig, art *Artifacts, fullWitness witnessLike, commitment *big.Int) ([]byte, error) {
	if cfg.NativeBinary == "" {
		return nil, fmt.Errorf("zkcircuit: no native binary configured")
	}
	root := cfg.ScopedTempRoot
	if root == "" {
		root = os.TempDir()
	}
	workDir, err := os.MkdirTemp(root, "zkprove-")
	if err != nil {
		return nil, fmt.Errorf("zkcircuit: scratch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	witnessPath := filepath.Join(workDir, "witness.wtns")
	proofPath := filepath.Join(workDir, "proof.json")
	publicPath := filepath.Join(workDir, "public.json")
	zkeyPath := filepath.Join(workDir, "circuit.zkey")

	w, err := fullWitness.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("zkcircuit: marshal witness: %w", err)
	}
	if err := os.WriteFile(witnessPath, w, 0o600); err != nil {
		return nil, fmt.Errorf("zkcircuit: write witness: %w", err)
	}
	if err := writeProvingKey(art, zkeyPath); err != nil {
		return nil, fmt.Errorf("zkcircuit: write zkey: %w", err)
	}

	timeout := cfg.ProveTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cfg.NativeBinary, zkeyPath, witnessPath, proofPath, publicPath)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("zkcircuit: native backend: %w", err)
	}

	proofJSON, err := os.ReadFile(proofPath)
	if err != nil {
		return nil, fmt.Errorf("zkcircuit: read proof output: %w", err)
	}
	publicJSON, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("zkcircuit: read public output: %w", err)
	}
	var publicSignals []string
	if err := json.Unmarshal(publicJSON, &publicSignals); err != nil || len(publicSignals) != 1 {
		return nil, fmt.Errorf("zkcircuit: malformed public signals output")
	}
	if publicSignals[0] != commitment.String() {
		return nil, fmt.Errorf("zkcircuit: native backend produced mismatched commitment")
	}
	return proofJSON, nil
}

// witnessLike is the subset of frontend.Witness this package depends on,
// declared narrowly so tests can substitute a fake without pulling in
// gnark's full witness machinery.
type witnessLike interface {
	MarshalBinary() ([]byte, error)
}

func writeProvingKey(art *Artifacts, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = art.pk.WriteTo(f)
	return err
}

// Verify runs the Groth16 pairing check against the fixed verification key
// in art. It returns false (not an error) for any cryptographically invalid
// proof, including a tampered public signal.
func Verify(art *Artifacts, proof *Proof) bool {
	if proof == nil || len(proof.ProofBytes) == 0 {
		return false
	}
	gproof := groth16.NewProof(ecc.BN254)
	if _, err := gproof.ReadFrom(bytes.NewReader(proof.ProofBytes)); err != nil {
		return false
	}
	assignment := &CommitmentCircuit{Commitment: proof.Commitment}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false
	}
	if err := groth16.Verify(gproof, art.vk, publicWitness); err != nil {
		return false
	}
	return true
}

var artifactsOnce sync.Once
var sharedArtifacts *Artifacts
var sharedArtifactsErr error

// Shared returns a process-wide singleton Artifacts, compiling and running
// setup exactly once: the verification key is constructed once and shared
// by immutable reference.
func Shared() (*Artifacts, error) {
	artifactsOnce.Do(func() {
		sharedArtifacts, sharedArtifactsErr = Setup()
	})
	return sharedArtifacts, sharedArtifactsErr
}
