package validityprover

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"math/big"
	"sync"

	"github.com/iden3/go-circom-prover-verifier/parsers"
	"github.com/iden3/go-circom-prover-verifier/prover"
	zktypes "github.com/iden3/go-circom-prover-verifier/types"
	"github.com/iden3/go-circom-prover-verifier/verifier"
	"github.com/intmax2/rollup-node/rolluptypes"
)

var ErrWitnessUnavailable = errors.New("validityprover: no witness calculator configured for this circuit")

// WitnessCalculator produces a circuit witness from the validity
// circuit's public inputs. The real implementation runs the compiled
// circuit's WASM witness generator, the same step the teacher's
// zkutils.CalculateWitness performs — that calculator is specific to the
// teacher's own circuit artifacts and is not a standalone third-party
// library, so this repo takes it as an injectable collaborator rather
// than vendoring teacher-internal tooling.
type WitnessCalculator interface {
	Calculate(inputs map[string]*big.Int) ([]*big.Int, error)
}

// CircomProofSystem implements ValidityProofSystem over
// github.com/iden3/go-circom-prover-verifier, the teacher's own opaque
// SNARK dependency, with the exact ParsePk/ParseVk/GenerateProof/Verify
// call shape identity/issuer/issuer.go's GenZkProofIdenStateUpdate uses.
type CircomProofSystem struct {
	mu               sync.Mutex
	pathProvingKey   string
	pathVerifyingKey string
	cacheKeys        bool
	pk               *zktypes.Pk
	vk               *zktypes.Vk
	witness          WitnessCalculator
}

func NewCircomProofSystem(pathProvingKey, pathVerifyingKey string, cacheKeys bool, witness WitnessCalculator) *CircomProofSystem {
	return &CircomProofSystem{
		pathProvingKey:   pathProvingKey,
		pathVerifyingKey: pathVerifyingKey,
		cacheKeys:        cacheKeys,
		witness:          witness,
	}
}

func (c *CircomProofSystem) loadKeys() (*zktypes.Pk, *zktypes.Vk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pk *zktypes.Pk
	if !c.cacheKeys || c.pk == nil {
		raw, err := ioutil.ReadFile(c.pathProvingKey)
		if err != nil {
			return nil, nil, err
		}
		pk, err = parsers.ParsePk(raw)
		if err != nil {
			return nil, nil, err
		}
		if c.cacheKeys {
			c.pk = pk
		}
	} else {
		pk = c.pk
	}

	if c.vk == nil {
		raw, err := ioutil.ReadFile(c.pathVerifyingKey)
		if err != nil {
			return nil, nil, err
		}
		vk, err := parsers.ParseVk(raw)
		if err != nil {
			return nil, nil, err
		}
		c.vk = vk
	}
	return pk, c.vk, nil
}

type proofBundle struct {
	Proof      zktypes.Proof
	PubSignals []*big.Int
}

func (c *CircomProofSystem) Prove(witness rolluptypes.ValidityWitness) ([]byte, error) {
	if c.witness == nil {
		return nil, ErrWitnessUnavailable
	}
	pk, _, err := c.loadKeys()
	if err != nil {
		return nil, err
	}
	wit, err := c.witness.Calculate(witness.PublicInputs())
	if err != nil {
		return nil, err
	}
	proof, pubSignals, err := prover.GenerateProof(pk, wit)
	if err != nil {
		return nil, err
	}
	return json.Marshal(proofBundle{Proof: *proof, PubSignals: pubSignals})
}

func (c *CircomProofSystem) Verify(proof []byte, _ rolluptypes.ValidityWitness) (bool, error) {
	var bundle proofBundle
	if err := json.Unmarshal(proof, &bundle); err != nil {
		return false, err
	}
	_, vk, err := c.loadKeys()
	if err != nil {
		return false, err
	}
	return verifier.Verify(vk, &bundle.Proof, bundle.PubSignals), nil
}
