package calendar_sync

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// descriptionHashDomain separates description digests from any other digest
// stored in the ledger.
const descriptionHashDomain = "union-board/description/v1"

// Hash returns the hex SHA-256 of the NFC form of text. Empty or invalid UTF-8
// input yields "", which never equals a real digest.
func Hash(text string) string {
	if text == "" || !utf8.ValidString(text) {
		return ""
	}
	return hashWithDomain(descriptionHashDomain, []byte(norm.NFC.String(text)))
}

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
