package floorplan

import (
	"fmt"
	"math"

	"github.com/propfetch/zooplafetch/models"
)

// metresToFeet is the fixed conversion ratio. Each side is converted before
// multiplying so rounding never compounds through the area.
const metresToFeet = 3.28084

// SidesFeet returns a pair token's sides in feet.
func (t Token) SidesFeet() (float64, float64) {
	if t.Unit == UnitMetres {
		return t.Width * metresToFeet, t.Length * metresToFeet
	}
	return t.Width, t.Length
}

// AreaSqFt returns the token's area in square feet.
func (t Token) AreaSqFt() float64 {
	if t.Kind == PatternAreaLabel {
		if t.Unit == UnitMetres {
			return t.Area * metresToFeet * metresToFeet
		}
		return t.Area
	}
	width, length := t.SidesFeet()
	return width * length
}

// Aggregate combines one listing's tokens, across all of its images, into a
// single area estimate. Tokens from different listings must never be mixed;
// the caller owns that boundary.
//
// An explicit area label wins outright: when at least one label token is
// present the largest label value is the estimate and room pairs are not
// summed. Otherwise room areas are summed, after collapsing a (width,
// length) pair repeated on different images down to one room: a repeated
// pair is assumed to be the same room shown twice, cover sheet included.
func Aggregate(tokens []Token) models.AreaEstimate {
	if len(tokens) == 0 {
		return models.AreaEstimate{Confidence: models.ConfidenceNone}
	}

	var labels, pairs []Token
	for _, token := range tokens {
		if token.Kind == PatternAreaLabel {
			labels = append(labels, token)
		} else {
			pairs = append(pairs, token)
		}
	}

	if len(labels) > 0 {
		best := labels[0].AreaSqFt()
		for _, label := range labels[1:] {
			if area := label.AreaSqFt(); area > best {
				best = area
			}
		}
		return models.AreaEstimate{SqFt: best, Confidence: models.ConfidenceHigh}
	}

	total := 0.0
	rooms := 0
	minConfidence := 1.0
	for _, group := range groupRepeatedRooms(pairs) {
		total += group.token.AreaSqFt() * float64(group.count)
		rooms += group.count
		if group.token.Confidence < minConfidence {
			minConfidence = group.token.Confidence
		}
	}
	if rooms == 0 {
		return models.AreaEstimate{Confidence: models.ConfidenceNone}
	}

	confidence := models.ConfidenceLow
	if minConfidence >= confidenceClean && rooms >= 2 {
		confidence = models.ConfidenceHigh
	}
	return models.AreaEstimate{SqFt: total, Confidence: confidence}
}

type roomGroup struct {
	token Token
	count int
}

// groupRepeatedRooms collapses duplicate (width, length) pairs that appear
// on more than one image. Within a single image the same pair may legally
// occur twice (two identical bedrooms), so the surviving count per pair is
// the largest count any one image shows.
func groupRepeatedRooms(pairs []Token) []roomGroup {
	type key struct {
		width  float64
		length float64
	}
	perImage := make(map[key]map[string]int)
	first := make(map[key]Token)
	var order []key

	for _, token := range pairs {
		width, length := token.SidesFeet()
		// orientation-normalised, rounded to one decimal
		if width < length {
			width, length = length, width
		}
		k := key{width: round1(width), length: round1(length)}
		if _, ok := perImage[k]; !ok {
			perImage[k] = make(map[string]int)
			first[k] = token
			order = append(order, k)
		}
		perImage[k][token.Image.URL]++
		if token.Confidence < first[k].Confidence {
			first[k] = token
		}
	}

	groups := make([]roomGroup, 0, len(order))
	for _, k := range order {
		count := 0
		for _, n := range perImage[k] {
			if n > count {
				count = n
			}
		}
		groups = append(groups, roomGroup{token: first[k], count: count})
	}
	return groups
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// String renders a pattern kind for logs.
func (k PatternKind) String() string {
	switch k {
	case PatternAreaLabel:
		return "area_label"
	case PatternImperialPair:
		return "imperial_pair"
	case PatternMetricPair:
		return "metric_pair"
	default:
		return fmt.Sprintf("pattern(%d)", int(k))
	}
}
