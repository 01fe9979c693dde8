// Package crypto implements the field-level envelope encryption used by the
// remote service to store uploaded sessions: per-field data keys wrapped by
// a master-derived key-encryption key, with in-place rotation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// NonceSize is the AES-GCM nonce length in bytes.
const NonceSize = 12

var (
	ErrEncryptionFailed  = errors.New("crypto: encryption failed")
	ErrDecryptionFailed  = errors.New("crypto: decryption failed")
	ErrInvalidKeyLength  = errors.New("crypto: invalid key length")
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length")
	ErrInvalidFormat     = errors.New("crypto: invalid ciphertext format")
	ErrKeyDerivation     = errors.New("crypto: key derivation failed")
)

// randReader and newGCM are swappable for testing, the same way the
// teacher's CryptoManager exposes package-level indirections for its RNG
// and AEAD construction.
var (
	randReader = cryptoRandReader
	newGCM     = newAESGCM
)

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// encryptBytes encrypts plaintext with AES-256-GCM under key, returning the
// ciphertext (with appended authentication tag) and a freshly generated
// nonce.
func encryptBytes(key []byte, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, ErrInvalidKeyLength
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, ErrEncryptionFailed
	}
	nonce = make([]byte, NonceSize)
	if _, err := randReader(nonce); err != nil {
		return nil, nil, ErrEncryptionFailed
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// decryptBytes decrypts ciphertext with AES-256-GCM under key and nonce.
func decryptBytes(key, nonce, ciphertext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceLength
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// GenerateKey returns a fresh random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := randReader(key); err != nil {
		return nil, ErrKeyDerivation
	}
	return key, nil
}
