package product

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLength is the longest slug the catalog stores.
const MaxSlugLength = 255

const archivedHashLen = 8

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify turns s into a URL-safe slug: accents are folded, letters are
// lowercased and every run of other characters (including path separators)
// becomes a single dash.
func Slugify(s string) string {
	folded, _, err := transform.String(foldAccents, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return truncate(b.String(), MaxSlugLength)
}

// SlugCandidates lists the slugs tried, in order, for a new product: the name
// alone, then name and SKU.
func SlugCandidates(name, sku string) []string {
	base := Slugify(name)
	out := []string{base}
	if sku != "" {
		out = append(out, Slugify(name+"-"+sku))
	}
	return out
}

// ArchivedSlug returns the slug an archived product is renamed to. The suffix
// is derived from the product ID, so the result is stable and does not clash
// with live products. The result never exceeds MaxSlugLength.
func ArchivedSlug(slug, productID string) string {
	sum := sha256.Sum256([]byte(productID))
	suffix := "-" + hex.EncodeToString(sum[:])[:archivedHashLen]
	if strings.HasSuffix(slug, suffix) {
		return slug
	}
	return truncate(slug, MaxSlugLength-len(suffix)) + suffix
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimRight(s[:n], "-")
}
