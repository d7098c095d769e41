package floorplan

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/propfetch/zooplafetch/config"
	"github.com/propfetch/zooplafetch/models"
)

// PatternKind tags which pattern produced a token. Priority order: an
// explicit area label is trusted over anything derived from room pairs.
type PatternKind int

const (
	PatternAreaLabel PatternKind = iota
	PatternImperialPair
	PatternMetricPair
)

// Unit is the measurement system a token was read in.
type Unit int

const (
	UnitFeet Unit = iota
	UnitMetres
)

// Token is one parsed measurement from OCR text: either a width×length room
// pair or a standalone area figure, with a confidence score reflecting how
// unambiguous the surrounding text was.
type Token struct {
	Kind       PatternKind
	Width      float64 // pair kinds, in Unit
	Length     float64 // pair kinds, in Unit
	Area       float64 // PatternAreaLabel, in square Unit
	Unit       Unit
	Confidence float64
	Span       string
	Image      models.FloorplanRef

	// match offsets within Span, kept for correction accounting
	spanStart int
	spanEnd   int
}

const (
	confidenceLabel = 1.0
	confidenceClean = 0.8
	confidenceFuzzy = 0.4
)

var (
	// 182 sq ft / 182 sq. feet / 182sqft / 16.9 ft²
	areaLabelImperialPattern = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(?:sq\.?\s*\.?\s*ft\b|sq\.?\s*feet\b|square\s*feet\b|sqft\b|ft²|ft2\b)`)
	// 16.9 m² / 16.9 sq m / 16.9sqm
	areaLabelMetricPattern = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(?:m²|m2\b|sq\.?\s*m\b|sqm\b|square\s*met(?:re|er)s?\b)`)
	// 12'3" x 10'5", inches optional on either side
	imperialPairPattern = regexp.MustCompile(`(?i)\b(\d{1,3})\s*'\s*(\d{1,2})?\s*"?\s*[x×]\s*(\d{1,3})\s*'\s*(\d{1,2})?\s*"?`)
	// 3.2m x 4.1m; the trailing unit is required so run-together OCR digits
	// like "12 x 10" never parse as metres
	metricPairPattern = regexp.MustCompile(`(?i)\b(\d{1,3}(?:\.\d+)?)\s*m?\s*[x×]\s*(\d{1,3}(?:\.\d+)?)\s*m\b`)
)

// digitRepairs maps characters OCR commonly misreads for digits. Text
// reaching the parser is already lowercased.
var digitRepairs = map[byte]byte{
	'l': '1',
	'i': '1',
	'o': '0',
	's': '5',
	'b': '8',
}

// Parser scans OCR text for dimension tokens. It is deliberately permissive
// then filtered: grainy floorplans degrade by confidence, not by failure.
type Parser struct {
	bounds config.Bounds
}

// NewParser builds a parser with the given plausibility bounds.
func NewParser(bounds config.Bounds) *Parser {
	return &Parser{bounds: bounds}
}

// Parse extracts every surviving token from one image's text block.
func (p *Parser) Parse(block TextBlock) []Token {
	var tokens []Token
	for _, fragment := range splitFragments(block.Text) {
		if token, ok := p.parseFragment(fragment, block.Ref); ok {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func splitFragments(text string) []string {
	var fragments []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			fragments = append(fragments, line)
		}
	}
	return fragments
}

// parseFragment applies the patterns in priority order. An explicit area
// label short-circuits the pair patterns for its fragment.
func (p *Parser) parseFragment(fragment string, ref models.FloorplanRef) (Token, bool) {
	if token, ok := p.matchAreaLabel(fragment, ref); ok {
		return token, true
	}
	if token, ok := p.matchPair(fragment, ref, confidenceClean); ok {
		return token, true
	}

	// One misread character may be repaired; anything needing more is
	// discarded as noise rather than guessed at.
	corrected, positions := repairDigits(fragment)
	if len(positions) == 0 {
		return Token{}, false
	}
	token, ok := p.matchPair(corrected, ref, confidenceFuzzy)
	if !ok {
		return Token{}, false
	}
	if countInSpan(positions, token.spanStart, token.spanEnd) > 1 {
		return Token{}, false
	}
	token.Span = fragment
	return token, true
}

func (p *Parser) matchAreaLabel(fragment string, ref models.FloorplanRef) (Token, bool) {
	if m := areaLabelImperialPattern.FindStringSubmatch(fragment); m != nil {
		if area, ok := parseNumber(m[1]); ok && p.plausibleArea(area, UnitFeet) {
			return Token{
				Kind:       PatternAreaLabel,
				Area:       area,
				Unit:       UnitFeet,
				Confidence: confidenceLabel,
				Span:       fragment,
				Image:      ref,
			}, true
		}
	}
	if m := areaLabelMetricPattern.FindStringSubmatch(fragment); m != nil {
		if area, ok := parseNumber(m[1]); ok && p.plausibleArea(area, UnitMetres) {
			return Token{
				Kind:       PatternAreaLabel,
				Area:       area,
				Unit:       UnitMetres,
				Confidence: confidenceLabel,
				Span:       fragment,
				Image:      ref,
			}, true
		}
	}
	return Token{}, false
}

func (p *Parser) matchPair(fragment string, ref models.FloorplanRef, confidence float64) (Token, bool) {
	if idx := imperialPairPattern.FindStringSubmatchIndex(fragment); idx != nil {
		m := submatches(fragment, idx)
		width := feetInches(m[1], m[2])
		length := feetInches(m[3], m[4])
		if p.plausibleSide(width, UnitFeet) && p.plausibleSide(length, UnitFeet) {
			return Token{
				Kind:       PatternImperialPair,
				Width:      width,
				Length:     length,
				Unit:       UnitFeet,
				Confidence: confidence,
				Span:       fragment,
				Image:      ref,
				spanStart:  idx[0],
				spanEnd:    idx[1],
			}, true
		}
		return Token{}, false
	}

	if idx := metricPairPattern.FindStringSubmatchIndex(fragment); idx != nil {
		m := submatches(fragment, idx)
		width, okW := parseNumber(m[1])
		length, okL := parseNumber(m[2])
		if okW && okL && p.plausibleSide(width, UnitMetres) && p.plausibleSide(length, UnitMetres) {
			return Token{
				Kind:       PatternMetricPair,
				Width:      width,
				Length:     length,
				Unit:       UnitMetres,
				Confidence: confidence,
				Span:       fragment,
				Image:      ref,
				spanStart:  idx[0],
				spanEnd:    idx[1],
			}, true
		}
	}
	return Token{}, false
}

func (p *Parser) plausibleSide(side float64, unit Unit) bool {
	switch unit {
	case UnitMetres:
		return side >= p.bounds.MinSideM && side <= p.bounds.MaxSideM
	default:
		return side >= p.bounds.MinSideFt && side <= p.bounds.MaxSideFt
	}
}

func (p *Parser) plausibleArea(area float64, unit Unit) bool {
	switch unit {
	case UnitMetres:
		return area > 0 && area <= p.bounds.MaxSideM*p.bounds.MaxSideM
	default:
		return area > 0 && area <= p.bounds.MaxSideFt*p.bounds.MaxSideFt
	}
}

func feetInches(feet, inches string) float64 {
	ft, _ := strconv.ParseFloat(feet, 64)
	if inches != "" {
		in, _ := strconv.ParseFloat(inches, 64)
		ft += in / 12
	}
	return ft
}

func parseNumber(raw string) (float64, bool) {
	value, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// repairDigits substitutes commonly misread characters and reports the byte
// positions it changed.
func repairDigits(fragment string) (string, []int) {
	var positions []int
	out := []byte(fragment)
	for i := 0; i < len(out); i++ {
		if repaired, ok := digitRepairs[out[i]]; ok {
			out[i] = repaired
			positions = append(positions, i)
		}
	}
	return string(out), positions
}

func countInSpan(positions []int, start, end int) int {
	count := 0
	for _, pos := range positions {
		if pos >= start && pos < end {
			count++
		}
	}
	return count
}

func submatches(fragment string, idx []int) []string {
	out := make([]string, len(idx)/2)
	for i := 0; i < len(idx)/2; i++ {
		if idx[2*i] < 0 {
			out[i] = ""
			continue
		}
		out[i] = fragment[idx[2*i]:idx[2*i+1]]
	}
	return out
}
