package repository

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/TheMichaelB/newsync/internal/models"
)

// Slugify turns a title into a lowercase, dash-separated slug with
// diacritics stripped.
func Slugify(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}

	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}

	slug := strings.TrimSuffix(sb.String(), "-")
	if slug == "" {
		return "item"
	}
	return slug
}

// NormalizeKey returns the NFC form used for title and slug matching.
func NormalizeKey(s string) string {
	return norm.NFC.String(s)
}

// uniqueSlug appends -2, -3, ... until slug is unused among items.
func uniqueSlug(items []models.ContentItem, slug string) string {
	taken := make(map[string]bool, len(items))
	for _, item := range items {
		taken[item.Slug] = true
	}
	if !taken[slug] {
		return slug
	}
	for n := 2; ; n++ {
		candidate := slug + "-" + strconv.Itoa(n)
		if !taken[candidate] {
			return candidate
		}
	}
}
