// Package contenthash produces the fixed-length hex digests used for
// tamper evidence throughout the ledger.
package contenthash

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
)

// Size is the length of every digest in hex characters
const Size = sha256.Size * 2

// Field is one named value in a canonical record
type Field struct {
	Name  string
	Value string
}

// Sum returns the hex digest of b
func Sum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SumString returns the hex digest of s
func SumString(s string) string {
	return Sum([]byte(s))
}

// SumReader digests everything read from r and reports the byte count
func SumReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to read content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Canonical encodes fields as name=<len>:<value> records, one per line.
// Length prefixes keep values containing separators unambiguous.
func Canonical(fields ...Field) []byte {
	var buf bytes.Buffer
	for _, f := range fields {
		buf.WriteString(f.Name)
		buf.WriteByte('=')
		buf.WriteString(strconv.Itoa(len(f.Value)))
		buf.WriteByte(':')
		buf.WriteString(f.Value)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Fields returns the digest of the canonical encoding of fields
func Fields(fields ...Field) string {
	return Sum(Canonical(fields...))
}

// Valid reports whether h looks like a digest produced by this package
func Valid(h string) bool {
	if len(h) != Size {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// Equal compares two digests in constant time
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
