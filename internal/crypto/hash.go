package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// HashReader returns the lowercase hex SHA-256 of everything read from r.
// This is always computed over plaintext: identical file content
// deduplicates to the same name regardless of the fresh nonce each
// encryption uses, which is the asymmetry that lets dedup and encryption
// coexist.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashBytes returns the lowercase hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
