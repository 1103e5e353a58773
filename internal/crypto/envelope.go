// Package crypto implements the authenticated-encryption envelope that
// wraps every archive object before it reaches an object store backend.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	magic       = "SRC1"
	version byte = 1

	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	gcmTagSize = 16
)

// EnvelopeOverhead is the fixed number of bytes Encrypt adds beyond the
// plaintext length: header plus AEAD authentication tag. Callers that
// must know a ciphertext's size before writing it (e.g. to satisfy an
// object store's Content-Length) can compute it as
// len(plaintext) + EnvelopeOverhead without buffering the envelope.
const EnvelopeOverhead = len(magic) + 1 + saltSize + nonceSize + gcmTagSize

// IntegrityError indicates that ciphertext authentication failed: the
// envelope has been tampered with or the passphrase is wrong.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string { return fmt.Sprintf("integrity check failed: %v", e.Err) }
func (e *IntegrityError) Unwrap() error { return e.Err }

// ErrBadEnvelope is returned when the envelope header is malformed or
// carries an unsupported magic/version.
var ErrBadEnvelope = errors.New("crypto: malformed envelope")

// DeriveKey runs the passphrase through scrypt with the given salt,
// producing the 32-byte AES-256 key used to seal and open envelopes.
// The cost parameters are pinned here and must never change for a given
// repository once its first object has been written.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if len(salt) != saltSize {
		return nil, fmt.Errorf("crypto: salt must be %d bytes, got %d", saltSize, len(salt))
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// NewSalt returns a fresh random salt suitable for DeriveKey. Callers
// generate this once per repository and persist it in the index meta
// table.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// Encrypt reads all of plaintext and returns a self-describing envelope:
// MAGIC(4) || VERSION(1) || SALT(16) || NONCE(12) || CIPHERTEXT || TAG(16).
// The salt is stored for self-description but the key passed in is
// expected to have already been derived from it; Encrypt does not
// re-derive the key so that callers can cache the derived key across
// many objects in one run.
func Encrypt(w io.Writer, plaintext io.Reader, key, salt []byte) error {
	if len(salt) != saltSize {
		return fmt.Errorf("crypto: salt must be %d bytes, got %d", saltSize, len(salt))
	}

	gcm, err := newGCM(key)
	if err != nil {
		return err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	data, err := io.ReadAll(plaintext)
	if err != nil {
		return fmt.Errorf("reading plaintext: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, data, nil)

	if _, err := w.Write([]byte(magic)); err != nil {
		return err
	}
	if _, err := w.Write([]byte{version}); err != nil {
		return err
	}
	if _, err := w.Write(salt); err != nil {
		return err
	}
	if _, err := w.Write(nonce); err != nil {
		return err
	}
	if _, err := w.Write(sealed); err != nil {
		return err
	}
	return nil
}

// Decrypt parses an envelope produced by Encrypt and returns the
// plaintext. Any authentication failure is reported as an
// *IntegrityError before any plaintext byte is returned to the caller —
// the whole envelope is read and opened before Decrypt returns.
func Decrypt(ciphertext io.Reader, key []byte) (io.Reader, error) {
	header := make([]byte, len(magic)+1+saltSize+nonceSize)
	if _, err := io.ReadFull(ciphertext, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	if !bytes.Equal(header[:len(magic)], []byte(magic)) {
		return nil, fmt.Errorf("%w: bad magic", ErrBadEnvelope)
	}
	gotVersion := header[len(magic)]
	if gotVersion != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadEnvelope, gotVersion)
	}
	nonce := header[len(magic)+1+saltSize:]

	sealed, err := io.ReadAll(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("reading ciphertext: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, &IntegrityError{Err: err}
	}

	return bytes.NewReader(plaintext), nil
}

// SaltFromEnvelope extracts the salt from an envelope header without
// decrypting the payload. Used when the key hasn't been derived yet and
// the salt is needed to derive it.
func SaltFromEnvelope(r io.Reader) ([]byte, error) {
	header := make([]byte, len(magic)+1+saltSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if !bytes.Equal(header[:len(magic)], []byte(magic)) {
		return nil, fmt.Errorf("%w: bad magic", ErrBadEnvelope)
	}
	salt := make([]byte, saltSize)
	copy(salt, header[len(magic)+1:])
	return salt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
