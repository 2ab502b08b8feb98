package testutil

import (
	"bytes"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"        //nolint:staticcheck
	"github.com/ProtonMail/go-crypto/openpgp/armor"  //nolint:staticcheck
	"github.com/ProtonMail/go-crypto/openpgp/packet" //nolint:staticcheck
)

// SigningKey generates a throwaway release signing key and writes its armored
// public half to dir/keyring.asc. It returns the key and the keyring path.
func SigningKey(t *testing.T, dir string) (*openpgp.Entity, string) {
	t.Helper()

	entity, err := openpgp.NewEntity("Release Signing", "test", "release@example.com", &packet.Config{
		Algorithm: packet.PubKeyAlgoEdDSA,
	})
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armor: %v", err)
	}
	if err := entity.Serialize(w); err != nil {
		t.Fatalf("serialize key: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close armor: %v", err)
	}

	return entity, WriteFile(t, dir, "keyring.asc", buf.Bytes())
}

// SignDetached returns an armored detached signature of data.
func SignDetached(t *testing.T, signer *openpgp.Entity, data []byte) []byte {
	t.Helper()

	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, signer, bytes.NewReader(data), nil); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig.Bytes()
}
