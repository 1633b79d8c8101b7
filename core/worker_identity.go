package core

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// NewWorkerSecret generates a secp256k1 private scalar and reduces it into
// the BN254 scalar field used by the Poseidon commitment circuit, so a
// worker's ZK secret is real elliptic-curve key material rather than a bare
// random 256-bit string.
func NewWorkerSecret() (FieldElement, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return FieldElement{}, wrapErr(ErrProofGeneration, "generate worker secret", err)
	}
	defer priv.Zero()

	var scalar fr.Element
	scalar.SetBytes(priv.Serialize())
	return fieldElementFromBytes(scalar.Bytes()), nil
}
