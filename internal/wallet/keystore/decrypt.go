package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// Decrypt reverses Encrypt. Any formatting, length or padding problem yields ErrMalformedCiphertext.
//
//nolint:varnamelen // iv is a common abbreviation for initialization vector
func (v *Vault) Decrypt(encrypted string) (string, error) {
	parts := strings.Split(encrypted, separator)
	if len(parts) != 2 {
		return "", errors.Wrap(ErrMalformedCiphertext, "expected iv:ciphertext")
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", errors.Wrap(ErrMalformedCiphertext, "invalid IV")
	}

	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", errors.Wrap(ErrMalformedCiphertext, "invalid ciphertext length")
	}

	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return "", errors.Wrap(err, "failed to create cipher")
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", err
	}

	return string(unpadded), nil
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.Wrap(ErrMalformedCiphertext, "invalid padding")
	}

	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.Wrap(ErrMalformedCiphertext, "invalid padding")
		}
	}

	return data[:len(data)-n], nil
}
