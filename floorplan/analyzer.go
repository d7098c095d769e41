package floorplan

import (
	"context"

	"github.com/propfetch/zooplafetch/models"
)

// Analyzer runs the full floorplan stage for one listing: OCR each image,
// parse dimension tokens, aggregate into one estimate.
type Analyzer struct {
	extractor *Extractor
	parser    *Parser
}

// NewAnalyzer wires an extractor and parser together.
func NewAnalyzer(extractor *Extractor, parser *Parser) *Analyzer {
	return &Analyzer{extractor: extractor, parser: parser}
}

// EstimateArea produces one estimate from a listing's floorplan images.
// Per-image OCR failures are collected, not fatal: remaining images still
// contribute, and a listing with no readable image reports unknown rather
// than zero. Tokens never cross listings; each call covers exactly one.
func (a *Analyzer) EstimateArea(ctx context.Context, refs []models.FloorplanRef) (models.AreaEstimate, []error) {
	if len(refs) == 0 {
		return models.AreaEstimate{Confidence: models.ConfidenceNone}, nil
	}

	var tokens []Token
	var ocrErrs []error
	for _, ref := range refs {
		if ctx.Err() != nil {
			ocrErrs = append(ocrErrs, &OcrError{ImageURL: ref.URL, Err: ctx.Err()})
			continue
		}
		block, err := a.extractor.ExtractText(ctx, ref)
		if err != nil {
			ocrErrs = append(ocrErrs, err)
			continue
		}
		tokens = append(tokens, a.parser.Parse(block)...)
	}

	return Aggregate(tokens), ocrErrs
}
