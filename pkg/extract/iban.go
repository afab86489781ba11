package extract

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/config"
)

var ibanRE = regexp.MustCompile(`(?i)\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`)

var mod97 = big.NewInt(97)

// ValidIBAN runs the ISO 13616 mod-97 check on a candidate. Length and
// shape are the caller's concern; this validates the check digits.
func ValidIBAN(s string) bool {
	v := strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	if len(v) < 15 || len(v) > 34 {
		return false
	}
	rearranged := v[4:] + v[:4]
	var digits strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			digits.WriteString(big.NewInt(int64(r-'A') + 10).String())
		default:
			return false
		}
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, mod97).Cmp(big.NewInt(1)) == 0
}

// RedactIBAN keeps the leading four and trailing four characters.
func RedactIBAN(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:4] + "…" + v[len(v)-4:]
}

// findIBAN extracts the first checksum-valid IBAN from the body under
// the configured store policy. HASH_ONLY keeps the country code and the
// hash; REDACTED keeps the masked display form. The full value never
// appears on the artifact either way.
func (e *Extractor) findIBAN(body string) *Entity {
	for _, loc := range ibanRE.FindAllStringIndex(body, -1) {
		raw := body[loc[0]:loc[1]]
		value := strings.ToUpper(raw)
		if !ValidIBAN(value) {
			continue
		}
		ent := Entity{
			Type:        canonical.EntIBAN,
			Value:       value,
			ValueSHA256: sha256Ptr(value),
			Confidence:  0.85,
			Provenance:  Provenance{Source: SourceBody, Start: loc[0], End: loc[1]},
		}
		if e.Snapshot.Extraction.IBANPolicy.StoreMode == config.IBANStoreHashOnly {
			mode := StoreHashOnly
			ent.StoreMode = &mode
			ent.ValueRedacted = value[:2] + "…"
		} else {
			ent.ValueRedacted = RedactIBAN(value)
		}
		return &ent
	}
	return nil
}
