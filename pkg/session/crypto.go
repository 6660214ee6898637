// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Keys is the negotiated symmetric key material of an established Session, one key per
// direction.
type Keys struct {
	EncryptKey []byte
	DecryptKey []byte
}

// PairingMaterial drives a handshake to derive session keys. Implementations are
// external collaborators; this package only ships TestSecretPairing for manual session
// insertion.
type PairingMaterial interface {
	// DeriveSessionKeys performs the handshake for the given local role and returns
	// the directional session keys.
	DeriveSessionKeys(role Role) (Keys, error)
}

// AEAD encrypts and authenticates session payloads. The message counter doubles as
// nonce input, so every counter value must be used at most once per key.
type AEAD interface {
	Seal(key []byte, counter uint32, plaintext []byte) ([]byte, error)
	Open(key []byte, counter uint32, ciphertext []byte) ([]byte, error)
}

// TestSecretPairing derives deterministic session keys from a pre-shared secret. Both
// sides inserting a session with the same secret will agree on their keys; this mirrors
// manual/test pairing insertion and must not be used against untrusted networks.
type TestSecretPairing struct {
	Secret []byte
}

// DeriveSessionKeys expands the shared secret into two directional keys. The initiator
// encrypts under the "i2r" key, the responder under "r2i".
func (tsp TestSecretPairing) DeriveSessionKeys(role Role) (Keys, error) {
	if len(tsp.Secret) == 0 {
		return Keys{}, fmt.Errorf("%w: empty test secret", ErrPairing)
	}

	i2r := deriveKey(tsp.Secret, "i2r")
	r2i := deriveKey(tsp.Secret, "r2i")

	if role == Initiator {
		return Keys{EncryptKey: i2r, DecryptKey: r2i}, nil
	}
	return Keys{EncryptKey: r2i, DecryptKey: i2r}, nil
}

func deriveKey(secret []byte, label string) []byte {
	h := sha256.New()
	h.Write(secret)
	h.Write([]byte(label))
	return h.Sum(nil)[:16]
}

// GCMCipher is the default AEAD, AES-GCM with the message counter embedded in the
// nonce.
type GCMCipher struct{}

func (GCMCipher) aead(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func nonce(counter uint32) []byte {
	n := make([]byte, 12)
	binary.BigEndian.PutUint32(n[8:], counter)
	return n
}

func (gcm GCMCipher) Seal(key []byte, counter uint32, plaintext []byte) ([]byte, error) {
	aead, err := gcm.aead(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce(counter), plaintext, nil), nil
}

func (gcm GCMCipher) Open(key []byte, counter uint32, ciphertext []byte) ([]byte, error) {
	aead, err := gcm.aead(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce(counter), ciphertext, nil)
}
