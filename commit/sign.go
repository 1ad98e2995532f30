package commit

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// Signer produces detached signatures for published indexes using an
// ASCII-armored PGP private key.
type Signer struct {
	entity *openpgp.Entity
}

// NewSigner parses the armored key ring and selects the first entity
// carrying a private key.
func NewSigner(armoredKey string) (*Signer, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	for _, e := range entities {
		if e.PrivateKey != nil {
			return &Signer{entity: e}, nil
		}
	}
	return nil, fmt.Errorf("no private key found in key ring")
}

// Sign returns an armored detached signature over data.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&out, s.entity, bytes.NewReader(data), nil); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// PublicKey returns the signer's public key, armored when requested,
// so it can be published next to the index.
func (s *Signer) PublicKey(armored bool) ([]byte, error) {
	var buf bytes.Buffer
	if armored {
		w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
		if err != nil {
			return nil, err
		}
		if err := s.entity.Serialize(w); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	} else {
		if err := s.entity.Serialize(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
