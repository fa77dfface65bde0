// Package crypto provides the credential vault for Mongard: password hashing
// and symmetric encryption of secrets at rest (connection URIs, OAuth tokens).
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the size of the random salt used for key derivation (128 bits).
	SaltSize = 16

	// IVSize is the size of the AES-CBC initialization vector (one block).
	IVSize = aes.BlockSize

	// KeySize is the size of the derived AES-256 key (32 bytes).
	KeySize = 32

	// Iterations is the PBKDF2 iteration count. Changing it breaks every
	// stored hash and ciphertext, so it is frozen.
	Iterations = 10000
)

var (
	// ErrMasterKeyRequired indicates the vault was constructed without a master key.
	ErrMasterKeyRequired = errors.New("master key is required")
	// ErrEmptyPlaintext indicates an empty value was passed to a hashing or
	// encryption operation.
	ErrEmptyPlaintext = errors.New("plaintext must not be empty")
	// ErrInvalidCiphertext indicates the ciphertext does not match the
	// salt:iv:data wire format.
	ErrInvalidCiphertext = errors.New("malformed ciphertext")
	// ErrDecryptionFailed indicates the vault could not recover the plaintext.
	// Handlers present this as a permission failure.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Vault derives data keys from a process-global master key and owns the two
// secret formats persisted by Mongard:
//
//	password hash:  hex(salt):hex(dk)
//	ciphertext:     hex(salt):hex(iv):base64(ct)
//
// A legacy bi-part ciphertext hex(salt):base64(ct) where the salt doubled as
// the IV is still accepted on decrypt.
type Vault struct {
	masterKey []byte
}

// NewVault creates a Vault from the configured master key. The key is an
// opaque secret string; it is never used directly as cipher key material,
// only as PBKDF2 input.
func NewVault(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, ErrMasterKeyRequired
	}
	return &Vault{masterKey: []byte(masterKey)}, nil
}

// HashPassword derives a PBKDF2-HMAC-SHA256 hash of the given password with a
// fresh random salt. The password itself is the derivation input; the master
// key plays no part, so hashes survive a master key rotation.
func (v *Vault) HashPassword(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	dk := pbkdf2.Key([]byte(plaintext), salt, Iterations, KeySize, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(dk), nil
}

// VerifyPassword reports whether plaintext matches the encoded hash. Any
// parse failure yields false; the comparison is constant-time.
func (v *Vault) VerifyPassword(plaintext, encoded string) bool {
	if plaintext == "" || encoded == "" {
		return false
	}

	parts := strings.Split(encoded, ":")
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) != SaltSize {
		return false
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil || len(want) != KeySize {
		return false
	}

	got := pbkdf2.Key([]byte(plaintext), salt, Iterations, KeySize, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// Encrypt encrypts a secret string under a data key derived from the master
// key and a fresh salt. Output is the tri-part form hex(salt):hex(iv):base64(ct).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(v.deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	padded := padPKCS7([]byte(plaintext))
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(iv) + ":" +
		base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt recovers a secret encrypted by Encrypt. It accepts both the
// tri-part form and the legacy bi-part form where the salt served as the IV.
// All failure modes, including an empty recovered plaintext, collapse into
// ErrDecryptionFailed so callers cannot distinguish wrong-key from corrupt data.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	salt, iv, ct, err := splitCiphertext(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(v.deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", ErrDecryptionFailed
	}

	padded := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ct)

	plaintext, ok := unpadPKCS7(padded)
	if !ok || len(plaintext) == 0 {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// deriveKey stretches the master key into an AES-256 data key for one salt.
func (v *Vault) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(v.masterKey, salt, Iterations, KeySize, sha256.New)
}

// splitCiphertext parses the tri-part and legacy bi-part wire formats.
func splitCiphertext(ciphertext string) (salt, iv, ct []byte, err error) {
	parts := strings.Split(ciphertext, ":")
	switch len(parts) {
	case 3:
		salt, err = hex.DecodeString(parts[0])
		if err != nil || len(salt) != SaltSize {
			return nil, nil, nil, ErrInvalidCiphertext
		}
		iv, err = hex.DecodeString(parts[1])
		if err != nil || len(iv) != IVSize {
			return nil, nil, nil, ErrInvalidCiphertext
		}
		ct, err = base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			return nil, nil, nil, ErrInvalidCiphertext
		}
		return salt, iv, ct, nil

	case 2:
		// Legacy records reused the salt as the IV.
		salt, err = hex.DecodeString(parts[0])
		if err != nil || len(salt) != SaltSize {
			return nil, nil, nil, ErrInvalidCiphertext
		}
		ct, err = base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, nil, nil, ErrInvalidCiphertext
		}
		return salt, salt, ct, nil

	default:
		return nil, nil, nil, ErrInvalidCiphertext
	}
}

// padPKCS7 pads data to a whole number of AES blocks.
func padPKCS7(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpadPKCS7 strips and validates PKCS#7 padding.
func unpadPKCS7(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}

// GenerateMasterKey generates random master key material, hex-encoded, for
// initial setup. Rotating the master key invalidates every stored secret.
func GenerateMasterKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate master key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// GenerateToken generates a URL-safe random token for invitations and email
// verification.
func GenerateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
