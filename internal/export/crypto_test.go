package export

import (
	"bytes"
	"errors"
	"testing"

	"github.com/clipstudio/clipstudio-agent/internal/render"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt error = %v", err)
	}
	blobs := [][]byte{
		{0x1a},
		[]byte("fake-webm-bytes"),
		bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 4096),
	}
	for _, password := range []string{"pw", "correct horse battery staple", "ünïcødé"} {
		key := DeriveKey(password, salt, 1000)
		for _, blob := range blobs {
			ct, iv, err := Encrypt(blob, key)
			if err != nil {
				t.Fatalf("Encrypt error = %v", err)
			}
			if len(iv) != IVSize {
				t.Fatalf("iv length = %d", len(iv))
			}
			if bytes.Contains(ct, blob) && len(blob) > 4 {
				t.Fatal("ciphertext contains plaintext")
			}
			got, err := Decrypt(ct, key, iv)
			if err != nil {
				t.Fatalf("Decrypt error = %v", err)
			}
			if !bytes.Equal(got, blob) {
				t.Fatalf("round trip mismatch for %d-byte blob", len(blob))
			}
		}
	}
}

func TestEncrypt_FreshIV(t *testing.T) {
	key := DeriveKey("pw", []byte("salt"), 1000)
	_, iv1, _ := Encrypt([]byte("data"), key)
	_, iv2, _ := Encrypt([]byte("data"), key)
	if bytes.Equal(iv1, iv2) {
		t.Fatal("two encryptions reused an IV")
	}
}

func TestEncrypt_Empty(t *testing.T) {
	key := DeriveKey("pw", []byte("salt"), 1000)
	if _, _, err := Encrypt(nil, key); !errors.Is(err, render.ErrEncryptionFailure) {
		t.Fatalf("Encrypt(nil) error = %v, want EncryptionFailure", err)
	}
}

func TestDecrypt_WrongPassword(t *testing.T) {
	salt := []byte("0123456789abcdef")
	ct, iv, err := Encrypt([]byte("secret"), DeriveKey("right", salt, 1000))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(ct, DeriveKey("wrong", salt, 1000), iv); err == nil {
		t.Fatal("Decrypt with wrong key should fail")
	}
	if _, err := Decrypt(ct, DeriveKey("right", salt, 1000), iv[:8]); err == nil {
		t.Fatal("Decrypt with short iv should fail")
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a := DeriveKey("pw", []byte("salt"), 1000)
	b := DeriveKey("pw", []byte("salt"), 1000)
	c := DeriveKey("pw", []byte("pepper"), 1000)
	if len(a) != KeySize || !bytes.Equal(a, b) || bytes.Equal(a, c) {
		t.Fatal("DeriveKey should be deterministic per salt and 32 bytes long")
	}
}
