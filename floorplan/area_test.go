package floorplan

import (
	"math"
	"testing"

	"github.com/propfetch/zooplafetch/models"
)

func pairToken(width, length float64, unit Unit, confidence float64, imageURL string) Token {
	kind := PatternImperialPair
	if unit == UnitMetres {
		kind = PatternMetricPair
	}
	return Token{
		Kind:       kind,
		Width:      width,
		Length:     length,
		Unit:       unit,
		Confidence: confidence,
		Image:      models.FloorplanRef{ListingID: "1", URL: imageURL},
	}
}

func labelToken(area float64, unit Unit, imageURL string) Token {
	return Token{
		Kind:       PatternAreaLabel,
		Area:       area,
		Unit:       unit,
		Confidence: 1.0,
		Image:      models.FloorplanRef{ListingID: "1", URL: imageURL},
	}
}

func TestAggregateNoTokens(t *testing.T) {
	estimate := Aggregate(nil)
	if estimate.Confidence != models.ConfidenceNone {
		t.Fatalf("confidence = %s, want none", estimate.Confidence)
	}
	if estimate.Known() {
		t.Fatalf("empty aggregate must not report a usable area")
	}
}

func TestAggregateLabelWinsOverPairs(t *testing.T) {
	tokens := []Token{
		pairToken(12, 10, UnitFeet, 0.8, "a.png"),
		pairToken(9, 8, UnitFeet, 0.8, "a.png"),
		labelToken(182, UnitFeet, "a.png"),
	}

	estimate := Aggregate(tokens)
	if estimate.SqFt != 182 {
		t.Fatalf("area = %v, want the labelled 182 not the summed rooms", estimate.SqFt)
	}
	if estimate.Confidence != models.ConfidenceHigh {
		t.Fatalf("confidence = %s, want high", estimate.Confidence)
	}
}

func TestAggregateLargestLabelWins(t *testing.T) {
	tokens := []Token{
		labelToken(120, UnitFeet, "a.png"),
		labelToken(182, UnitFeet, "b.png"),
	}
	if estimate := Aggregate(tokens); estimate.SqFt != 182 {
		t.Fatalf("area = %v, want 182", estimate.SqFt)
	}
}

func TestAggregateSumsRooms(t *testing.T) {
	tokens := []Token{
		pairToken(12, 10, UnitFeet, 0.8, "a.png"),
		pairToken(9, 8, UnitFeet, 0.8, "a.png"),
	}

	estimate := Aggregate(tokens)
	if want := 12.0*10 + 9.0*8; math.Abs(estimate.SqFt-want) > 0.001 {
		t.Fatalf("area = %v, want %v", estimate.SqFt, want)
	}
	if estimate.Confidence != models.ConfidenceHigh {
		t.Fatalf("confidence = %s, want high for two clean rooms", estimate.Confidence)
	}
}

func TestAggregateDeduplicatesAcrossImages(t *testing.T) {
	// the same room printed on a per-floor sheet and a cover sheet
	tokens := []Token{
		pairToken(12, 10, UnitFeet, 0.8, "floor1.png"),
		pairToken(12, 10, UnitFeet, 0.8, "cover.png"),
	}

	estimate := Aggregate(tokens)
	if estimate.SqFt != 120 {
		t.Fatalf("area = %v, want a single counted room of 120", estimate.SqFt)
	}
	if estimate.Confidence != models.ConfidenceLow {
		t.Fatalf("confidence = %s, want low for a single room", estimate.Confidence)
	}
}

func TestAggregateKeepsRepeatsWithinOneImage(t *testing.T) {
	// two genuinely identical bedrooms on the same sheet
	tokens := []Token{
		pairToken(12, 10, UnitFeet, 0.8, "floor1.png"),
		pairToken(12, 10, UnitFeet, 0.8, "floor1.png"),
		pairToken(12, 10, UnitFeet, 0.8, "cover.png"),
	}

	estimate := Aggregate(tokens)
	if estimate.SqFt != 240 {
		t.Fatalf("area = %v, want 240 (two rooms, cover repeat collapsed)", estimate.SqFt)
	}
	if estimate.Confidence != models.ConfidenceHigh {
		t.Fatalf("confidence = %s, want high", estimate.Confidence)
	}
}

func TestAggregateNormalisesOrientation(t *testing.T) {
	tokens := []Token{
		pairToken(12, 10, UnitFeet, 0.8, "floor1.png"),
		pairToken(10, 12, UnitFeet, 0.8, "cover.png"),
	}
	if estimate := Aggregate(tokens); estimate.SqFt != 120 {
		t.Fatalf("area = %v, want swapped sides to collapse to 120", estimate.SqFt)
	}
}

func TestAggregateConvertsMetricPerSide(t *testing.T) {
	tokens := []Token{pairToken(3, 4, UnitMetres, 0.8, "a.png")}

	estimate := Aggregate(tokens)
	want := 3 * 3.28084 * 4 * 3.28084
	if math.Abs(estimate.SqFt-want) > 0.01 {
		t.Fatalf("area = %v, want %v within 0.01", estimate.SqFt, want)
	}
}

func TestMetricConversionRoundTrips(t *testing.T) {
	// converting metres to feet and back must stay within 0.01
	sides := []struct{ width, length float64 }{
		{1, 1},
		{2.5, 3.2},
		{4.75, 6.3},
		{29.9, 12.05},
	}

	for _, s := range sides {
		token := pairToken(s.width, s.length, UnitMetres, 0.8, "plan.png")
		widthFt, lengthFt := token.SidesFeet()
		if math.Abs(widthFt/metresToFeet-s.width) > 0.01 || math.Abs(lengthFt/metresToFeet-s.length) > 0.01 {
			t.Fatalf("sides %vm x %vm drifted through conversion: %vft x %vft", s.width, s.length, widthFt, lengthFt)
		}

		estimate := Aggregate([]Token{token})
		backSqM := estimate.SqFt / (metresToFeet * metresToFeet)
		if math.Abs(backSqM-s.width*s.length) > 0.01 {
			t.Fatalf("area %v sq m round-tripped to %v", s.width*s.length, backSqM)
		}
	}
}

func TestAggregateFuzzyTokenCapsConfidence(t *testing.T) {
	tokens := []Token{
		pairToken(12, 10, UnitFeet, 0.8, "a.png"),
		pairToken(9, 8, UnitFeet, 0.4, "a.png"),
	}

	estimate := Aggregate(tokens)
	if estimate.Confidence != models.ConfidenceLow {
		t.Fatalf("confidence = %s, want low when a repaired token contributed", estimate.Confidence)
	}
	if !estimate.Known() {
		t.Fatalf("low-confidence estimate should still carry its area")
	}
}

func TestAggregateSingleRoomIsLowConfidence(t *testing.T) {
	estimate := Aggregate([]Token{pairToken(12, 10, UnitFeet, 0.8, "a.png")})
	if estimate.Confidence != models.ConfidenceLow {
		t.Fatalf("confidence = %s, want low for one room", estimate.Confidence)
	}
}
