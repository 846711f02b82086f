package storage

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const slugSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Slugify folds a title into a URL-safe slug: accents stripped via NFD
// decomposition, lowercased, and every run of non-alphanumerics collapsed
// into a single hyphen. Titles with no usable characters become "video".
func Slugify(title string) string {
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripper, title)
	if err != nil {
		folded = title
	}

	var builder strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			builder.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				builder.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(builder.String(), "-")
	if slug == "" {
		return "video"
	}
	return slug
}

// RandomSlugSuffix returns length random characters from a lowercase
// alphanumeric alphabet, used to keep concurrently assigned slugs distinct.
func RandomSlugSuffix(length int) string {
	if length <= 0 {
		length = 6
	}
	max := big.NewInt(int64(len(slugSuffixAlphabet)))
	suffix := make([]byte, length)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform entropy source is
			// broken; fall back to a fixed character rather than panic.
			suffix[i] = 'x'
			continue
		}
		suffix[i] = slugSuffixAlphabet[n.Int64()]
	}
	return string(suffix)
}
