package crypto

import "golang.org/x/crypto/argon2"

// SaltSize is the random salt length used for Argon2id KEK derivation.
const SaltSize = 16

// Argon2id parameters, OWASP-recommended baseline: 64 MiB memory, 3
// iterations, single-threaded.
const (
	argon2MemoryKB   = 65_536
	argon2Iterations = 3
	argon2Parallel   = 1
)

// WrappedKey carries a data-encryption key wrapped by a key-encryption key,
// plus the metadata required to re-derive that KEK.
type WrappedKey struct {
	WrappedDEK []byte
	WrapNonce  []byte
	KEKSalt    []byte
}

// deriveKEK derives a 32-byte key-encryption key from a master secret and
// salt using Argon2id.
func deriveKEK(masterSecret string, salt []byte) []byte {
	return argon2.IDKey([]byte(masterSecret), salt, argon2Iterations, argon2MemoryKB, argon2Parallel, KeySize)
}

// generateAndWrapDEK generates a fresh DEK and wraps it with a KEK derived
// from masterSecret under a freshly generated salt.
func generateAndWrapDEK(masterSecret string) (dek []byte, wrapped WrappedKey, err error) {
	dek, err = GenerateKey()
	if err != nil {
		return nil, WrappedKey{}, err
	}

	salt := make([]byte, SaltSize)
	if _, err := randReader(salt); err != nil {
		return nil, WrappedKey{}, ErrKeyDerivation
	}

	kek := deriveKEK(masterSecret, salt)

	ciphertext, nonce, err := encryptBytes(kek, dek)
	if err != nil {
		return nil, WrappedKey{}, err
	}

	return dek, WrappedKey{WrappedDEK: ciphertext, WrapNonce: nonce, KEKSalt: salt}, nil
}

// unwrapDEK recovers a DEK from a WrappedKey using a KEK derived from
// masterSecret.
func unwrapDEK(masterSecret string, wrapped WrappedKey) ([]byte, error) {
	if len(wrapped.KEKSalt) == 0 || len(wrapped.WrapNonce) == 0 || len(wrapped.WrappedDEK) == 0 {
		return nil, ErrInvalidFormat
	}
	if len(wrapped.WrapNonce) != NonceSize {
		return nil, ErrInvalidNonceLength
	}

	kek := deriveKEK(masterSecret, wrapped.KEKSalt)

	dek, err := decryptBytes(kek, wrapped.WrapNonce, wrapped.WrappedDEK)
	if err != nil {
		return nil, err
	}
	if len(dek) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	return dek, nil
}

// rotateKEK unwraps a DEK with oldMasterSecret and re-wraps it under a KEK
// derived from newMasterSecret with a fresh salt. The DEK itself, and thus
// the data it protects, is never re-encrypted.
func rotateKEK(oldMasterSecret, newMasterSecret string, oldWrapped WrappedKey) (WrappedKey, error) {
	dek, err := unwrapDEK(oldMasterSecret, oldWrapped)
	if err != nil {
		return WrappedKey{}, err
	}

	newSalt := make([]byte, SaltSize)
	if _, err := randReader(newSalt); err != nil {
		return WrappedKey{}, ErrKeyDerivation
	}

	newKEK := deriveKEK(newMasterSecret, newSalt)

	ciphertext, nonce, err := encryptBytes(newKEK, dek)
	if err != nil {
		return WrappedKey{}, err
	}

	return WrappedKey{WrappedDEK: ciphertext, WrapNonce: nonce, KEKSalt: newSalt}, nil
}
