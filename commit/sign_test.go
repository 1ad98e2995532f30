package commit

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

func testKey(t *testing.T) (string, *openpgp.Entity) {
	t.Helper()
	entity, err := openpgp.NewEntity("index signer", "", "signer@example.org", nil)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.String(), entity
}

func TestSignerRoundTrip(t *testing.T) {
	key, entity := testKey(t)

	s, err := NewSigner(key)
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("release: main\narch: x86_64\n")
	sig, err := s.Sign(data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(sig, []byte("BEGIN PGP SIGNATURE")) {
		t.Fatalf("signature not armored:\n%s", sig)
	}

	keyring := openpgp.EntityList{entity}
	if _, err := openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(sig), nil); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestSignerPublicKey(t *testing.T) {
	key, _ := testKey(t)
	s, err := NewSigner(key)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := s.PublicKey(true)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(pub), "BEGIN PGP PUBLIC KEY") {
		t.Errorf("public key not armored:\n%s", pub)
	}
}

func TestNewSignerRejectsPublicOnly(t *testing.T) {
	key, _ := testKey(t)
	s, err := NewSigner(key)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := s.PublicKey(true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewSigner(string(pub)); err == nil {
		t.Error("NewSigner accepted a key ring without a private key")
	}
}
