package engine

// fingerprint.go computes the content fingerprint that defines record
// identity. The fingerprint is a sha256 digest over a canonical
// serialization of the schema's business-key fields only, never the
// full row, so cosmetic differences elsewhere in the file do not defeat
// deduplication. Two records with equal key fields always hash
// identically; that is the sole criterion for "duplicate".

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ledgerline/reconcile/internal/schema"
)

// Fingerprint is a fixed-length content digest of a record's identity.
type Fingerprint [sha256.Size]byte

// Hex returns the lowercase hex encoding, the form persisted in the ledger.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

// FingerprintFromHex parses a persisted hex fingerprint.
func FingerprintFromHex(s string) (Fingerprint, bool) {
	var f Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != sha256.Size {
		return f, false
	}
	copy(f[:], b)
	return f, true
}

// fieldSep separates key fields in the canonical serialization. The unit
// separator cannot appear in cleaned cell values, so concatenation is
// unambiguous.
const fieldSep = "\x1f"

// ComputeFingerprint hashes the canonical serialization of the record's
// key fields, in the order the schema declares them.
func ComputeFingerprint(rec ValidatedRecord, keyFields []string) Fingerprint {
	h := sha256.New()
	for i, col := range keyFields {
		if i > 0 {
			h.Write([]byte(fieldSep))
		}
		v := rec.Fields[strings.ToLower(col)]
		h.Write([]byte(canonicalValue(v)))
	}

	var f Fingerprint
	h.Sum(f[:0])
	return f
}

// canonicalValue renders a typed value in its one canonical form:
// dates as 2006-01-02, decimals with trailing zeros stripped, absent
// values as the empty string. Parsing always precedes hashing, so "1.50"
// and "1.5" in the source file canonicalize identically.
func canonicalValue(v Value) string {
	if !v.Present {
		return ""
	}
	switch v.Type {
	case schema.FieldDate:
		return v.Date.Format("2006-01-02")
	case schema.FieldDecimal:
		return v.Dec.String()
	case schema.FieldInteger:
		return strconv.FormatInt(v.Int, 10)
	default:
		return v.Str
	}
}
