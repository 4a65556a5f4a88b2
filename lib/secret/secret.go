/*
 * Authen Gateway
 * Copyright (C) 2026  Authen Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package secret implements authenticated encryption for the OAuth client
// configuration blobs the gateway stores and caches. Blobs stay sealed at
// rest and on the wire to the cache; they are opened only at the point of
// use and the plaintext is never logged.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/gravitational/trace"
)

// KeyLength is the AES-256 key size in bytes.
const KeyLength = 32

// sealedData is the wire form of a sealed blob.
type sealedData struct {
	// Ciphertext is the AES-GCM output, tag included.
	Ciphertext []byte `json:"ciphertext"`
	// Nonce is the unique nonce used for this seal operation.
	Nonce []byte `json:"nonce"`
}

// Key is an AES-256 key used to seal and open configuration blobs.
type Key []byte

// NewKey generates a fresh random key.
func NewKey() (Key, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, trace.Wrap(err)
	}
	return Key(key), nil
}

// ParseKey loads a key from its hex encoding.
func ParseKey(encoded []byte) (Key, error) {
	key, err := hex.DecodeString(string(encoded))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(key) != KeyLength {
		return nil, trace.BadParameter("expected %v-byte key, got %v bytes", KeyLength, len(key))
	}
	return Key(key), nil
}

// String returns the hex encoding of the key.
func (k Key) String() string {
	return hex.EncodeToString(k)
}

// Seal encrypts plaintext under the key with a fresh nonce. Sealing the
// same plaintext twice produces different ciphertexts.
func (k Key) Seal(plaintext []byte) ([]byte, error) {
	aead, err := k.aead()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, trace.Wrap(err)
	}
	sealed := sealedData{
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
	}
	out, err := json.Marshal(sealed)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

// Open decrypts a sealed blob. Opening fails when the blob was sealed
// under a different key or has been tampered with.
func (k Key) Open(ciphertext []byte) ([]byte, error) {
	var sealed sealedData
	if err := json.Unmarshal(ciphertext, &sealed); err != nil {
		return nil, trace.Wrap(err)
	}
	aead, err := k.aead()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(sealed.Nonce) != aead.NonceSize() {
		return nil, trace.BadParameter("invalid nonce length")
	}
	plaintext, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return plaintext, nil
}

func (k Key) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return aead, nil
}
