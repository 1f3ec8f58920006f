// Package match implements the name matcher used for workspace listings:
// case folding, Latin accent folding, and bounded-edit-distance token
// matching. It is never used for equality inside filters.
package match

import "strings"

// EditLimits bounds the edit distance the matcher tolerates per query token.
// Short applies to tokens of up to seven runes, Long to eight and more.
type EditLimits struct {
	Short int
	Long  int
}

// DefaultLimits are the thresholds used when no override is configured.
func DefaultLimits() EditLimits {
	return EditLimits{Short: 1, Long: 2}
}

// longTokenRunes is the token length at which the Long edit budget applies.
const longTokenRunes = 8

var accentFolder = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ä", "a", "ã", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"í", "i", "ì", "i", "î", "i", "ï", "i",
	"ó", "o", "ò", "o", "ô", "o", "ö", "o", "õ", "o",
	"ú", "u", "ù", "u", "û", "u", "ü", "u",
	"ñ", "n", "ç", "c",
	"Á", "a", "À", "a", "Â", "a", "Ä", "a", "Ã", "a",
	"É", "e", "È", "e", "Ê", "e", "Ë", "e",
	"Í", "i", "Ì", "i", "Î", "i", "Ï", "i",
	"Ó", "o", "Ò", "o", "Ô", "o", "Ö", "o", "Õ", "o",
	"Ú", "u", "Ù", "u", "Û", "u", "Ü", "u",
	"Ñ", "n", "Ç", "c",
)

// Fold lower-cases s and strips Latin diacritics.
func Fold(s string) string {
	return strings.ToLower(accentFolder.Replace(s))
}

// Matches reports whether candidate matches the query. An empty query
// matches everything. Folded substring containment wins immediately;
// otherwise every query token must sit within the edit budget of some
// candidate token.
func Matches(candidate, query string, limits EditLimits) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return true
	}

	fc := Fold(candidate)
	fq := Fold(query)

	if strings.Contains(fc, fq) {
		return true
	}

	candidateTokens := strings.Fields(fc)
	if len(candidateTokens) == 0 {
		return false
	}

	for _, qt := range strings.Fields(fq) {
		if !tokenMatches(candidateTokens, qt, limits) {
			return false
		}
	}
	return true
}

func tokenMatches(candidateTokens []string, queryToken string, limits EditLimits) bool {
	budget := limits.Short
	if len([]rune(queryToken)) >= longTokenRunes {
		budget = limits.Long
	}

	for _, ct := range candidateTokens {
		if Distance(ct, queryToken) <= budget {
			return true
		}
	}
	return false
}

// Distance computes the Levenshtein distance between two strings. Inputs are
// expected to be folded already; bytes are compared directly.
func Distance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	matrix := make([][]int, len(s1)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(s2)+1)
	}

	for i := 0; i <= len(s1); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(s2); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(s1); i++ {
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			min := matrix[i-1][j] + 1                 // deletion
			if ins := matrix[i][j-1] + 1; ins < min { // insertion
				min = ins
			}
			if sub := matrix[i-1][j-1] + cost; sub < min { // substitution
				min = sub
			}
			matrix[i][j] = min
		}
	}

	return matrix[len(s1)][len(s2)]
}
