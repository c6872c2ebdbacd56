package storevault

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecryptFailed is returned when Open cannot authenticate a ciphertext,
// the catch-all for a wrong key or tampered blob.
var ErrDecryptFailed = errors.New("storevault: failed to decrypt blob")

// Seal and Open implement the authenticated-encryption envelope the vault
// stores every blob under. Real key agreement (ECIES, deriving a shared
// key from a recipient's public key) is explicitly out of scope (spec §1);
// this package only needs a symmetric Seal/Open pair to exercise the
// "authenticated encrypted blob storage" contract end to end in tests,
// grounded on golang.org/x/crypto, one of the teacher's own direct
// dependencies.
func Seal(key [32]byte, plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &key), nil
}

func Open(key [32]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, ErrDecryptFailed
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	out, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &key)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return out, nil
}
