// Package zkcircuit defines the Groth16-over-BN254 circuit used by the ZK
// inference proof pipeline: a prover with private inputs
// (inputHash, outputHash, workerSecret) proves knowledge of these such that
// Poseidon(inputHash, outputHash, workerSecret) equals the single public
// signal, Commitment.
package zkcircuit

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
	"github.com/consensys/gnark/frontend"
	gposeidon2 "github.com/consensys/gnark/std/hash/poseidon2"
)

// CommitmentCircuit is the Poseidon(3)-based commitment circuit: it proves
// knowledge of InputHash, OutputHash and WorkerSecret whose Poseidon digest
// equals Commitment.
type CommitmentCircuit struct {
	InputHash    frontend.Variable
	OutputHash   frontend.Variable
	WorkerSecret frontend.Variable
	Commitment   frontend.Variable `gnark:",public"`
}

// Define implements frontend.Circuit.
func (c *CommitmentCircuit) Define(api frontend.API) error {
	hasher, err := gposeidon2.NewMerkleDamgardHasher(api)
	if err != nil {
		return err
	}
	hasher.Write(c.InputHash, c.OutputHash, c.WorkerSecret)
	api.AssertIsEqual(hasher.Sum(), c.Commitment)
	return nil
}

// NativeCommitment computes Poseidon(inputHash, outputHash, workerSecret)
// outside of a circuit, using the same Poseidon2 permutation gnark's
// in-circuit gadget uses (github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2),
// so prover and verifier agree on what "the commitment" means without ever
// running the circuit just to hash.
func NativeCommitment(inputHash, outputHash, workerSecret *big.Int) *big.Int {
	h := poseidon2.NewMerkleDamgardHasher()

	var a, b, c fr.Element
	a.SetBigInt(inputHash)
	b.SetBigInt(outputHash)
	c.SetBigInt(workerSecret)

	h.Write(a.Marshal())
	h.Write(b.Marshal())
	h.Write(c.Marshal())

	var out fr.Element
	out.SetBytes(h.Sum(nil))
	result := new(big.Int)
	out.BigInt(result)
	return result
}
