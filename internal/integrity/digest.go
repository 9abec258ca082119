// Package integrity computes and checks the content digests exchanged by the
// checksummed GETC/PUTC variants of the file protocol. A digest is the MD5 of
// the content rendered as 32 lowercase hex characters. It detects corruption
// in transit or at rest; it is not an authentication mechanism.
package integrity

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// DigestLen is the width of a rendered digest on the wire.
const DigestLen = md5.Size * 2

// Digest returns the hex-encoded MD5 of content.
func Digest(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of content and reports whether it equals
// received. Hex case in received is ignored.
func Verify(received string, content []byte) bool {
	if len(received) != DigestLen {
		return false
	}
	return strings.ToLower(received) == Digest(content)
}

// ValidDigest reports whether s is shaped like a digest: exactly DigestLen
// hex characters.
func ValidDigest(s string) bool {
	if len(s) != DigestLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
