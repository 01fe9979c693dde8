package crypto

import (
	"encoding/base64"
	"strings"
)

const (
	fieldVersion = "v1"
	separator    = ":"
)

// EncryptField encrypts plaintext under a fresh per-field DEK, itself
// wrapped by a KEK derived from masterSecret, and returns the six-part
// envelope string:
//
//	v1:<nonce_b64>:<wrapped_dek_b64>:<wrap_nonce_b64>:<kek_salt_b64>:<ciphertext_b64>
func EncryptField(masterSecret, plaintext string) (string, error) {
	dek, wrapped, err := generateAndWrapDEK(masterSecret)
	if err != nil {
		return "", err
	}

	ciphertext, nonce, err := encryptBytes(dek, []byte(plaintext))
	if err != nil {
		return "", err
	}

	parts := []string{
		fieldVersion,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(wrapped.WrappedDEK),
		base64.StdEncoding.EncodeToString(wrapped.WrapNonce),
		base64.StdEncoding.EncodeToString(wrapped.KEKSalt),
		base64.StdEncoding.EncodeToString(ciphertext),
	}
	return strings.Join(parts, separator), nil
}

// DecryptField decrypts an envelope produced by EncryptField.
func DecryptField(masterSecret, encrypted string) (string, error) {
	parts := strings.Split(encrypted, separator)
	if len(parts) != 6 {
		return "", ErrInvalidFormat
	}
	if parts[0] != fieldVersion {
		return "", ErrInvalidFormat
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidFormat
	}
	wrappedDEK, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidFormat
	}
	wrapNonce, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return "", ErrInvalidFormat
	}
	kekSalt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return "", ErrInvalidFormat
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil {
		return "", ErrInvalidFormat
	}

	dek, err := unwrapDEK(masterSecret, WrappedKey{WrappedDEK: wrappedDEK, WrapNonce: wrapNonce, KEKSalt: kekSalt})
	if err != nil {
		return "", err
	}

	plaintext, err := decryptBytes(dek, nonce, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// RotateFieldKEK re-wraps the DEK embedded in an envelope under a KEK
// derived from newMasterSecret, leaving the field's nonce and ciphertext
// byte-identical — only the wrap fields change.
func RotateFieldKEK(oldMasterSecret, newMasterSecret, encrypted string) (string, error) {
	parts := strings.Split(encrypted, separator)
	if len(parts) != 6 {
		return "", ErrInvalidFormat
	}
	if parts[0] != fieldVersion {
		return "", ErrInvalidFormat
	}

	wrappedDEK, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidFormat
	}
	wrapNonce, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return "", ErrInvalidFormat
	}
	kekSalt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return "", ErrInvalidFormat
	}

	oldWrapped := WrappedKey{WrappedDEK: wrappedDEK, WrapNonce: wrapNonce, KEKSalt: kekSalt}

	newWrapped, err := rotateKEK(oldMasterSecret, newMasterSecret, oldWrapped)
	if err != nil {
		return "", err
	}

	newParts := []string{
		parts[0],
		parts[1], // nonce unchanged
		base64.StdEncoding.EncodeToString(newWrapped.WrappedDEK),
		base64.StdEncoding.EncodeToString(newWrapped.WrapNonce),
		base64.StdEncoding.EncodeToString(newWrapped.KEKSalt),
		parts[5], // ciphertext unchanged
	}
	return strings.Join(newParts, separator), nil
}
