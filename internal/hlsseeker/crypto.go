package hlsseeker

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/metalalive/transcoder-core/internal/domain"
)

// EncryptSegment pads plaintext with PKCS#7 to a 16-byte boundary and
// encrypts it with AES-128-CBC into a newly allocated buffer, mirroring the
// EVP_EncryptUpdate/EVP_EncryptFinal_ex pairing of spec.md §4.6.
func EncryptSegment(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, domain.NewKindError(domain.ErrKindTranscoder, "hlsseeker: aes key: %v", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, domain.NewKindError(domain.ErrKindTranscoder, "hlsseeker: iv must be %d bytes", aes.BlockSize)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(out, padded)
	return out, nil
}

// DecryptSegment reverses EncryptSegment, stripping the PKCS#7 padding.
func DecryptSegment(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, domain.NewKindError(domain.ErrKindTranscoder, "hlsseeker: aes key: %v", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, domain.NewKindError(domain.ErrKindFormat, "hlsseeker: ciphertext not block-aligned")
	}

	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, domain.NewKindError(domain.ErrKindFormat, "hlsseeker: empty plaintext")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > n || padLen > aes.BlockSize {
		return nil, domain.NewKindError(domain.ErrKindFormat, "hlsseeker: invalid pkcs7 padding")
	}
	return data[:n-padLen], nil
}
