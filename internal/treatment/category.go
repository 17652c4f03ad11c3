package treatment

import (
	"regexp"
	"strings"
)

// Category groups services that share aftercare and complication protocols.
type Category string

const (
	CategoryNeurotoxin     Category = "neurotoxin"
	CategoryFiller         Category = "filler"
	CategoryChemicalPeel   Category = "chemical_peel"
	CategoryMicroneedling  Category = "microneedling"
	CategoryLaser          Category = "laser"
	CategoryBodyContouring Category = "body_contouring"
	CategoryGeneral        Category = "general"
)

// categoryRule matches stems as substrings and short tokens as whole words,
// so "tox" hits "Tox Touch-up" but not "Detox Facial".
type categoryRule struct {
	category Category
	stems    []string
	words    []string
}

// categoryRules is checked in order; the first matching rule wins.
var categoryRules = []categoryRule{
	{CategoryNeurotoxin, []string{"botox", "dysport", "xeomin", "jeuveau", "daxxify", "neurotoxin"}, []string{"tox"}},
	{CategoryFiller, []string{"filler", "juvederm", "restylane", "radiesse", "sculptra", "voluma", "kysse"}, []string{"rha"}},
	{CategoryChemicalPeel, []string{"chemical peel"}, []string{"peel", "peels"}},
	{CategoryMicroneedling, []string{"microneedl", "micro-needl", "morpheus", "vivace", "collagen induction"}, nil},
	{CategoryLaser, []string{"laser", "fraxel", "photofacial"}, []string{"ipl", "bbl", "halo", "moxi", "co2"}},
	{CategoryBodyContouring, []string{"coolsculpt", "emsculpt", "sculpsure", "kybella", "body contour", "fat reduction", "trusculpt"}, nil},
}

type compiledRule struct {
	category Category
	stems    []string
	words    *regexp.Regexp
}

var compiledRules = compileRules(categoryRules)

func compileRules(rules []categoryRule) []compiledRule {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		c := compiledRule{category: r.category, stems: r.stems}
		if len(r.words) > 0 {
			quoted := make([]string, len(r.words))
			for i, w := range r.words {
				quoted[i] = regexp.QuoteMeta(w)
			}
			c.words = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
		}
		out = append(out, c)
	}
	return out
}

// CategorizeService maps a free-text service name to a Category.
func CategorizeService(serviceName string) Category {
	key := normalizeService(serviceName)
	if key == "" {
		return CategoryGeneral
	}
	for _, rule := range compiledRules {
		for _, stem := range rule.stems {
			if strings.Contains(key, stem) {
				return rule.category
			}
		}
		if rule.words != nil && rule.words.MatchString(key) {
			return rule.category
		}
	}
	return CategoryGeneral
}

// normalizeService lowercases and trims a service name for lookup.
func normalizeService(service string) string {
	return strings.ToLower(strings.TrimSpace(service))
}
