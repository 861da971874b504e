package textparse

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// defaultKeywordTable maps category names to the package-text terms that
// signal them, in Spanish and English. Terms are matched accent-insensitively
// against folded lines.
var defaultKeywordTable = map[string][]string{
	"chips":     {"chips", "crisps", "papas", "patatas", "totopos", "nachos"},
	"cookies":   {"cookies", "biscuits", "galletas", "galleta", "wafer", "wafers"},
	"cereal":    {"cereal", "cereales", "granola", "muesli", "avena", "oats", "oatmeal"},
	"dairy":     {"milk", "leche", "yogur", "yogurt", "yoghurt", "queso", "cheese", "mantequilla", "butter", "crema", "cream"},
	"beverage":  {"agua", "water", "jugo", "zumo", "juice", "refresco", "soda", "bebida", "drink", "te", "tea", "cafe", "coffee", "cola"},
	"chocolate": {"chocolate", "cacao", "cocoa"},
	"bread":     {"pan", "bread", "tortilla", "tortillas", "tostadas"},
	"snack":     {"snack", "botana", "barrita", "barritas", "bar"},
	"candy":     {"caramelo", "caramelos", "candy", "gomitas", "chicle", "gum"},
	"sauce":     {"salsa", "sauce", "aderezo", "mayonesa", "mayonnaise", "ketchup", "mostaza", "mustard"},
}

// attributePattern matches quantity/unit markers like "500 g", "1l", "33%".
// The percent alternative cannot use \b because % is not a word character.
var attributePattern = regexp.MustCompile(`(?i)\b\d{2,4}\s?(?:kg|ml|oz|cal|g|l)\b|\b\d{2,4}\s?%`)

type categoryMatcher struct {
	name    string
	pattern *regexp.Regexp
}

func compileKeywordTable(table map[string][]string) ([]categoryMatcher, error) {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)

	matchers := make([]categoryMatcher, 0, len(names))
	for _, name := range names {
		terms := table[name]
		if len(terms) == 0 {
			continue
		}
		quoted := make([]string, 0, len(terms))
		for _, term := range terms {
			folded := Fold(strings.TrimSpace(term))
			if folded == "" {
				continue
			}
			quoted = append(quoted, regexp.QuoteMeta(folded))
		}
		if len(quoted) == 0 {
			continue
		}
		pattern, err := regexp.Compile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("failed to compile keyword category %q: %w", name, err)
		}
		matchers = append(matchers, categoryMatcher{name: name, pattern: pattern})
	}
	return matchers, nil
}

type keywordFile struct {
	Categories map[string][]string `yaml:"categories"`
}

// LoadKeywordTable reads a category keyword table from a YAML file of the
// form `categories: {name: [term, ...]}`. Categories in the file replace the
// built-in table entirely.
func LoadKeywordTable(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyword table: %w", err)
	}

	var file keywordFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse keyword table: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("keyword table %s defines no categories", path)
	}
	return file.Categories, nil
}

var defaultMatchers = func() []categoryMatcher {
	matchers, err := compileKeywordTable(defaultKeywordTable)
	if err != nil {
		panic(err)
	}
	return matchers
}()

// Categories returns the keyword categories matched by s, using the built-in
// table, sorted by name.
func Categories(s string) []string {
	return matchCategories(defaultMatchers, s)
}

func matchCategories(matchers []categoryMatcher, s string) []string {
	folded := Fold(s)
	var matched []string
	for _, m := range matchers {
		if m.pattern.MatchString(folded) {
			matched = append(matched, m.name)
		}
	}
	return matched
}
