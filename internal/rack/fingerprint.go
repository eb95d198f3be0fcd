package rack

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// FingerprintLength is the number of hex characters kept from the digest.
// Collisions are possible in principle; the fingerprint is an identity for
// humans to type, not a security property.
const FingerprintLength = 12

// Fingerprint derives the identity of a commit from its label and tags.
// Tags are encoded in key order, so the result does not depend on map
// iteration order. Every field is length-prefixed to keep the encoding
// unambiguous.
func Fingerprint(label string, tags Tags) string {
	h := sha256.New()
	writeField(h, label)
	for _, k := range tags.Keys() {
		writeField(h, k)
		writeField(h, tags[k])
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return sum[:FingerprintLength]
}

func writeField(w io.Writer, s string) {
	fmt.Fprintf(w, "%d:%s", len(s), s)
}
