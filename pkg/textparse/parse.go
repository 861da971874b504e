// Package textparse turns raw OCR output from a package crop into a
// structured interpretation: cleaned lines, a barcode if one is printed, a
// brand/product-name split, keyword categories and quantity attributes, and
// ranked search query candidates.
package textparse

import (
	"regexp"
	"strings"
	"unicode"
)

// ParsedText is the interpretation of one region's OCR output.
type ParsedText struct {
	Brand       string
	ProductName string
	Keywords    []string
	Attributes  []string
	RawLines    []string
	Barcode     string
}

// Parser cleans and interprets OCR text. The zero value is not usable; use
// NewParser.
type Parser struct {
	// MinLineAlnum drops cleaned lines with fewer alphanumeric characters.
	MinLineAlnum int
	// MaxLines caps the cleaned line list.
	MaxLines int
	// MinTotalAlnum is the quality gate: below this total count the
	// region is treated as unreadable and resolution is skipped.
	MinTotalAlnum int

	matchers []categoryMatcher
}

func NewParser() *Parser {
	return &Parser{
		MinLineAlnum:  3,
		MaxLines:      8,
		MinTotalAlnum: 12,
		matchers:      defaultMatchers,
	}
}

// SetKeywordTable replaces the parser's category table, typically with one
// loaded via LoadKeywordTable.
func (p *Parser) SetKeywordTable(table map[string][]string) error {
	matchers, err := compileKeywordTable(table)
	if err != nil {
		return err
	}
	p.matchers = matchers
	return nil
}

// Parse runs the full interpretation over raw OCR text.
func (p *Parser) Parse(raw string) ParsedText {
	lines := p.CleanLines(raw)

	pt := ParsedText{RawLines: lines}
	pt.Barcode = ExtractBarcode(lines)
	pt.Brand, pt.ProductName = classifyBrandName(lines)

	seenKw := make(map[string]bool)
	seenAttr := make(map[string]bool)
	for _, line := range lines {
		for _, cat := range matchCategories(p.matchers, line) {
			if !seenKw[cat] {
				seenKw[cat] = true
				pt.Keywords = append(pt.Keywords, cat)
			}
		}
		for _, attr := range extractAttributes(line) {
			if !seenAttr[attr] {
				seenAttr[attr] = true
				pt.Attributes = append(pt.Attributes, attr)
			}
		}
	}
	return pt
}

// LowQuality reports whether the cleaned lines fail the OCR quality gate.
func (p *Parser) LowQuality(lines []string) bool {
	return TotalAlnum(lines) < p.MinTotalAlnum
}

var punctStripper = regexp.MustCompile(`[^\p{L}\p{N}\s%]+`)

// CleanLines splits raw OCR text into lines, strips punctuation, collapses
// whitespace, drops noise lines, de-duplicates case-insensitively, and caps
// the result. Cleaning is idempotent.
func (p *Parser) CleanLines(raw string) []string {
	var cleaned []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(raw, "\n") {
		line = punctStripper.ReplaceAllString(line, " ")
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if alnumCount(line) < p.MinLineAlnum {
			continue
		}
		if isRepeatedChar(line) {
			continue
		}
		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		cleaned = append(cleaned, line)
		if len(cleaned) == p.MaxLines {
			break
		}
	}
	return cleaned
}

// TotalAlnum counts the alphanumeric characters across all lines.
func TotalAlnum(lines []string) int {
	total := 0
	for _, line := range lines {
		total += alnumCount(line)
	}
	return total
}

var digitRun = regexp.MustCompile(`[0-9]+`)

// ExtractBarcode scans lines for an 8-14 digit run and returns it only when
// it has a valid barcode length of 12, 13, or 14 digits (UPC-A, EAN-13,
// ITF-14). Shorter runs are recognized but rejected.
func ExtractBarcode(lines []string) string {
	for _, line := range lines {
		for _, run := range digitRun.FindAllString(line, -1) {
			n := len(run)
			if n < 8 || n > 14 {
				continue
			}
			if n == 12 || n == 13 || n == 14 {
				return run
			}
		}
	}
	return ""
}

// classifyBrandName applies the brand-first heuristic: a short first line in
// mostly uppercase reads as a brand mark, with the product name on the next
// line or two. Otherwise the leading lines are the product name, doubling as
// the brand when very short.
func classifyBrandName(lines []string) (brand, name string) {
	if len(lines) == 0 {
		return "", ""
	}

	first := lines[0]
	tokens := strings.Fields(first)
	brandLike := (len(tokens) <= 3 && upperRatio(first) >= 0.6) ||
		(len(tokens) <= 2 && len(first) <= 12)

	if brandLike && len(lines) > 1 {
		brand = first
		end := 3
		if len(lines) < end {
			end = len(lines)
		}
		name = strings.Join(lines[1:end], " ")
		return brand, name
	}

	end := 2
	if len(lines) < end {
		end = len(lines)
	}
	name = strings.Join(lines[:end], " ")
	if len(tokens) == 1 && len(first) <= 10 {
		brand = first
	}
	return brand, name
}

// BuildQueries produces the ordered, de-duplicated catalog search candidates
// for a parse result, most specific first.
func BuildQueries(pt ParsedText) []string {
	var queries []string
	add := func(q string) {
		q = strings.Join(strings.Fields(q), " ")
		queries = append(queries, q)
	}

	if len(pt.RawLines) >= 2 {
		add(strings.Join(pt.RawLines[:2], " "))
	}
	if len(pt.RawLines) >= 3 {
		add(strings.Join(pt.RawLines[:3], " "))
	}
	if pt.Brand != "" && pt.ProductName != "" {
		add(pt.Brand + " " + pt.ProductName)
	}
	if pt.ProductName != "" {
		add(pt.ProductName)
	}
	if pt.Brand != "" {
		add(pt.Brand)
	}

	base := pt.Brand
	if base == "" {
		base = pt.ProductName
	}
	if base != "" {
		for _, kw := range pt.Keywords {
			add(base + " " + kw)
		}
	}
	if pt.ProductName != "" {
		for _, attr := range pt.Attributes {
			add(pt.ProductName + " " + attr)
		}
	}

	var out []string
	seen := make(map[string]bool)
	for _, q := range queries {
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}

func extractAttributes(line string) []string {
	var attrs []string
	for _, m := range attributePattern.FindAllString(line, -1) {
		attrs = append(attrs, strings.ToLower(strings.ReplaceAll(m, " ", "")))
	}
	return attrs
}

func alnumCount(s string) int {
	count := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			count++
		}
	}
	return count
}

// isRepeatedChar reports whether the line is one character repeated, which
// OCR produces for decorative rules and edges.
func isRepeatedChar(s string) bool {
	s = strings.ReplaceAll(s, " ", "")
	if len(s) < 2 {
		return false
	}
	runes := []rune(s)
	for _, r := range runes[1:] {
		if r != runes[0] {
			return false
		}
	}
	return true
}

func upperRatio(s string) float64 {
	letters, uppers := 0, 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				uppers++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(uppers) / float64(letters)
}
