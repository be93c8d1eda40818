package task

// Fernet-equivalent authenticated symmetric encryption for variable values
// (spec.md §3: "256-bit key derived by a password-based KDF (100 000
// iterations, SHA-256, fixed salt), values sealed with an authenticated
// symmetric scheme; stored base64-wrapped"). Grounded on
// original_source/api/resinkit_api/core/encryption.py, which builds a
// Python `cryptography.fernet.Fernet` key via PBKDF2HMAC(SHA256, 100000
// iterations, salt=b"resinkit-salt"). No Fernet library exists anywhere in
// the retrieved example corpus, so the wire format (version byte | 8-byte
// big-endian timestamp | 16-byte IV | AES-128-CBC ciphertext | 32-byte
// HMAC-SHA256 tag, base64url-encoded) is reproduced directly against
// stdlib crypto primitives plus golang.org/x/crypto/pbkdf2 for the KDF.

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	fernetKDFIterations = 100000
	fernetKDFSalt       = "resinkit-salt"
	fernetKeyLen        = 32
	fernetVersion       = 0x80
)

// FernetCipher seals and opens variable values.
type FernetCipher struct {
	signingKey    []byte // key[:16]
	encryptionKey []byte // key[16:]
}

// NewFernetCipher derives the 256-bit key from secret via PBKDF2HMAC-SHA256
// with a fixed salt, matching the original implementation's KDF parameters.
func NewFernetCipher(secret string) *FernetCipher {
	key := pbkdf2.Key([]byte(secret), []byte(fernetKDFSalt), fernetKDFIterations, fernetKeyLen, sha256.New)
	return &FernetCipher{signingKey: key[:16], encryptionKey: key[16:]}
}

// Encrypt seals plaintext into a base64url Fernet token.
func (f *FernetCipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("fernet: generate iv: %w", err)
	}

	block, err := aes.NewCipher(f.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("fernet: new cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	payload := make([]byte, 0, 1+8+len(iv)+len(ciphertext))
	payload = append(payload, fernetVersion)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(time.Now().Unix()))
	payload = append(payload, ts[:]...)
	payload = append(payload, iv...)
	payload = append(payload, ciphertext...)

	mac := hmac.New(sha256.New, f.signingKey)
	mac.Write(payload)
	tag := mac.Sum(nil)

	token := append(payload, tag...)
	return base64.URLEncoding.EncodeToString(token), nil
}

// Decrypt opens a base64url Fernet token, verifying its HMAC tag.
func (f *FernetCipher) Decrypt(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("fernet: decode token: %w", err)
	}
	if len(raw) < 1+8+aes.BlockSize+sha256.Size {
		return "", errors.New("fernet: token too short")
	}

	payload := raw[:len(raw)-sha256.Size]
	tag := raw[len(raw)-sha256.Size:]

	mac := hmac.New(sha256.New, f.signingKey)
	mac.Write(payload)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, tag) {
		return "", errors.New("fernet: invalid token signature")
	}

	if payload[0] != fernetVersion {
		return "", fmt.Errorf("fernet: unsupported version %x", payload[0])
	}

	iv := payload[9 : 9+aes.BlockSize]
	ciphertext := payload[9+aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", errors.New("fernet: ciphertext not block-aligned")
	}

	block, err := aes.NewCipher(f.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("fernet: new cipher: %w", err)
	}

	plainPadded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plainPadded, ciphertext)

	plain, err := pkcs7Unpad(plainPadded, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("fernet: invalid padded data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("fernet: invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("fernet: invalid padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}
