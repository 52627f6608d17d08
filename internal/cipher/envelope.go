package cipher

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"roomseal/internal/domain"
)

// Envelope wire codec. CBOR with core deterministic encoding keeps the
// frames compact and stable across implementations.

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// EncodeEnvelope serialises an envelope to its CBOR wire form.
func EncodeEnvelope(env domain.EncryptedEnvelope) ([]byte, error) {
	b, err := encMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// DecodeEnvelope parses a CBOR wire frame into an envelope. Malformed
// frames are untrusted input and report ErrDecryptFailure.
func DecodeEnvelope(b []byte) (domain.EncryptedEnvelope, error) {
	var env domain.EncryptedEnvelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return domain.EncryptedEnvelope{}, fmt.Errorf("%w: malformed envelope frame", domain.ErrDecryptFailure)
	}
	return env, nil
}
