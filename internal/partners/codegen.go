package partners

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"leadflow/internal/apperr"
)

const (
	stemLength   = 8
	suffixLength = 3
	maxBody      = 10 // characters after "PREFIX-"
	minBody      = 4
	fallbackStem = "REF"
	alphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Generator produces referral codes of the form PREFIX-STEMXXX.
type Generator struct {
	Prefix      string
	MaxAttempts int
	// Intn returns a value in [0, n); defaults to math/rand/v2.
	Intn func(n int) int

	pattern *regexp.Regexp
}

func NewGenerator(prefix string, maxAttempts int) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	prefix = strings.ToUpper(prefix)
	return &Generator{
		Prefix:      prefix,
		MaxAttempts: maxAttempts,
		Intn:        rand.IntN,
		pattern:     regexp.MustCompile(fmt.Sprintf(`^%s-[A-Z0-9]{%d,%d}$`, regexp.QuoteMeta(prefix), minBody, maxBody)),
	}
}

// Stem folds accents, drops everything but ASCII letters and digits,
// uppercases and truncates to 8 characters.
func Stem(name string) string {
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(folded) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == stemLength {
				break
			}
		}
	}
	return b.String()
}

// GenerateCode derives a code from name with a fresh random suffix. The stem
// is clipped so the body never exceeds the 10 characters the pattern allows.
func (g *Generator) GenerateCode(name string) string {
	stem := Stem(name)
	if stem == "" {
		stem = fallbackStem
	}
	if len(stem) > maxBody-suffixLength {
		stem = stem[:maxBody-suffixLength]
	}

	intn := g.Intn
	if intn == nil {
		intn = rand.IntN
	}
	suffix := make([]byte, suffixLength)
	for i := range suffix {
		suffix[i] = alphabet[intn(len(alphabet))]
	}
	return g.Prefix + "-" + stem + string(suffix)
}

// NormalizeCode trims and uppercases a code; every entry point calls it.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCode checks a normalized code against PREFIX- plus 4-10 uppercase alphanumerics.
func (g *Generator) ValidateCode(code string) error {
	if !g.pattern.MatchString(code) {
		return apperr.NewValidationError("code",
			fmt.Sprintf("%q must match %s-[A-Z0-9]{%d,%d}", code, g.Prefix, minBody, maxBody))
	}
	return nil
}

// IsUnique reports whether no partner holds code.
func IsUnique(db *gorm.DB, code string) (bool, error) {
	var count int64
	if err := db.Model(&Partner{}).Where("code = ?", NormalizeCode(code)).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check code uniqueness: %w", err)
	}
	return count == 0, nil
}
