package export

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/clipstudio/clipstudio-agent/internal/render"
	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize  = 32
	IVSize   = 12
	SaltSize = 16

	DefaultKDFIterations = 100000
)

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey stretches password into an AES-256 key with PBKDF2-SHA256.
func DeriveKey(password string, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultKDFIterations
	}
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New)
}

// Encrypt seals plaintext with AES-GCM under a fresh random IV. The IV is
// returned separately and is not prepended to the ciphertext.
func Encrypt(plaintext, key []byte) (ciphertext, iv []byte, err error) {
	if len(plaintext) == 0 {
		return nil, nil, render.Errorf(render.KindEncryptionFailure, "nothing to encrypt")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, render.Wrap(render.KindEncryptionFailure, err)
	}

	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, render.Wrap(render.KindEncryptionFailure, fmt.Errorf("generate iv: %w", err))
	}

	ciphertext = gcm.Seal(nil, iv, plaintext, nil)
	if len(ciphertext) == 0 {
		return nil, nil, render.Errorf(render.KindEncryptionFailure, "empty ciphertext")
	}
	return ciphertext, iv, nil
}

// Decrypt opens ciphertext produced by Encrypt.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", IVSize, len(iv))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, errors.New("decryption failed: wrong password or corrupted data")
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, IVSize)
}
