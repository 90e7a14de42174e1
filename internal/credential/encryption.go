// Package credential implements encrypted-at-rest storage and
// refresh-coalescing for provider OAuth/API-key credentials.
//
// Encryption is grounded on the shape of r3e-network-service_layer's
// envelope-encryption approach (symmetric key derived once at process
// start, authenticated encryption of opaque blobs) adapted to the exact
// scheme SPEC_FULL.md §6 specifies: PBKDF2-SHA256 with 100,000 iterations
// over a fixed salt deriving a 32-byte key, used with AES-GCM (the
// standard library's authenticated-encryption primitive — golang.org/x/crypto
// supplies PBKDF2 itself, grounded on the teacher's indirect dependency on
// golang.org/x/crypto).
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// fixedSalt is the spec-mandated fixed salt for key derivation. A fixed
// salt is unusual for PBKDF2 in general but is what §6 specifies: the
// master secret (CREDENTIAL_ENCRYPTION_KEY) is the actual entropy source,
// rotated out-of-band; the salt only needs to be constant across process
// restarts so ciphertext remains decryptable.
var fixedSalt = []byte("lyzr-workflow-platform-credential-salt-v1")

const (
	pbkdf2Iterations = 100_000
	keyLenBytes      = 32
)

// Cipher encrypts and decrypts credential blobs with a key derived once
// at process start from CREDENTIAL_ENCRYPTION_KEY.
type Cipher struct {
	key []byte
}

// NewCipher derives the symmetric key from the master secret. The secret
// must be at least 32 bytes per §6.
func NewCipher(masterSecret string) (*Cipher, error) {
	if len(masterSecret) < 32 {
		return nil, errors.New("CREDENTIAL_ENCRYPTION_KEY must be at least 32 bytes")
	}
	key := pbkdf2.Key([]byte(masterSecret), fixedSalt, pbkdf2Iterations, keyLenBytes, sha256.New)
	return &Cipher{key: key}, nil
}

// Encrypt authenticated-encrypts plaintext, returning nonce||ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, ct := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}

// CorrelationDigest returns the first eight hex characters of a SHA-256
// digest of a secret, for log correlation without ever logging the
// secret itself (§7).
func CorrelationDigest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("%x", sum)[:8]
}
