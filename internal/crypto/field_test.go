package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaster = "field-encryption-master-secret-32"

func TestEncryptDecryptField_Roundtrip(t *testing.T) {
	plaintext := "sensitive session data here"
	encrypted, err := EncryptField(testMaster, plaintext)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encrypted, "v1:"))

	decrypted, err := DecryptField(testMaster, encrypted)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptField_WrongMasterFails(t *testing.T) {
	encrypted, err := EncryptField(testMaster, "secret")
	require.NoError(t, err)

	_, err = DecryptField("wrong-master-secret-for-testing!!", encrypted)
	assert.Error(t, err)
}

func TestRotateFieldKEK_PreservesDataChangesWrapOnly(t *testing.T) {
	oldSecret := "old-field-master-secret-for-test"
	newSecret := "new-field-master-secret-for-test"
	plaintext := "session data that should survive rotation"

	encrypted, err := EncryptField(oldSecret, plaintext)
	require.NoError(t, err)

	rotated, err := RotateFieldKEK(oldSecret, newSecret, encrypted)
	require.NoError(t, err)

	decrypted, err := DecryptField(newSecret, rotated)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	_, err = DecryptField(oldSecret, rotated)
	assert.Error(t, err)

	oldParts := strings.Split(encrypted, ":")
	newParts := strings.Split(rotated, ":")
	require.Len(t, oldParts, 6)
	require.Len(t, newParts, 6)
	assert.Equal(t, oldParts[1], newParts[1], "nonce must be unchanged by rotation")
	assert.Equal(t, oldParts[5], newParts[5], "ciphertext must be unchanged by rotation")
	assert.NotEqual(t, oldParts[2], newParts[2], "wrapped DEK must change")
}

func TestEncryptDecryptField_EmptyString(t *testing.T) {
	encrypted, err := EncryptField(testMaster, "")
	require.NoError(t, err)

	decrypted, err := DecryptField(testMaster, encrypted)
	require.NoError(t, err)
	assert.Equal(t, "", decrypted)
}

func TestEncryptDecryptField_Unicode(t *testing.T) {
	plaintext := "日本語テスト 🎌 données françaises"
	encrypted, err := EncryptField(testMaster, plaintext)
	require.NoError(t, err)

	decrypted, err := DecryptField(testMaster, encrypted)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptField_InvalidFormat(t *testing.T) {
	_, err := DecryptField(testMaster, "not-valid")
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = DecryptField(testMaster, "v2:a:b:c:d:e")
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = DecryptField(testMaster, "v1:bad")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestEncryptField_TamperedCiphertextFails(t *testing.T) {
	encrypted, err := EncryptField(testMaster, "important data")
	require.NoError(t, err)

	parts := strings.Split(encrypted, ":")
	require.Len(t, parts, 6)
	// Flip a byte in the base64 ciphertext segment by swapping two chars.
	ct := []rune(parts[5])
	ct[0], ct[1] = ct[1], ct[0]
	parts[5] = string(ct)
	tampered := strings.Join(parts, ":")

	_, err = DecryptField(testMaster, tampered)
	assert.Error(t, err)
}

func TestDeriveKEK_DeterministicWithSameSalt(t *testing.T) {
	salt := make([]byte, SaltSize)
	for i := range salt {
		salt[i] = 42
	}
	k1 := deriveKEK(testMaster, salt)
	k2 := deriveKEK(testMaster, salt)
	assert.Equal(t, k1, k2)
}

func TestDeriveKEK_DifferentSalts(t *testing.T) {
	salt1 := make([]byte, SaltSize)
	salt2 := make([]byte, SaltSize)
	for i := range salt1 {
		salt1[i] = 1
		salt2[i] = 2
	}
	k1 := deriveKEK(testMaster, salt1)
	k2 := deriveKEK(testMaster, salt2)
	assert.NotEqual(t, k1, k2)
}

func TestGenerateKey_ProducesDistinctKeys(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	k2, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)
	assert.NotEqual(t, k1, k2)
}
