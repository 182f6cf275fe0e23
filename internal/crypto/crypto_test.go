package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncryptDecrypt(t *testing.T) {
	ciphertext, nonce, err := Encrypt("s3cret-password")
	assert.NoError(t, err)
	assert.NotEmpty(t, ciphertext)
	assert.NotEmpty(t, nonce)
	assert.NotEqual(t, "s3cret-password", string(ciphertext))

	plaintext, err := Decrypt(ciphertext, nonce)
	assert.NoError(t, err)
	assert.Equal(t, "s3cret-password", plaintext)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	ciphertext, nonce, err := Encrypt("s3cret-password")
	assert.NoError(t, err)

	ciphertext[0] ^= 0xff
	_, err = Decrypt(ciphertext, nonce)
	assert.Error(t, err)
}
