package floorplan

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/propfetch/zooplafetch/models"
)

// OcrError marks one image as unreadable: either it could not be fetched
// or the OCR engine rejected it. Per-image; never aborts the listing.
type OcrError struct {
	ImageURL string
	Err      error
}

func (e *OcrError) Error() string {
	return fmt.Sprintf("ocr %s: %v", e.ImageURL, e.Err)
}

func (e *OcrError) Unwrap() error {
	return e.Err
}

// ImageFetcher retrieves floorplan image bytes. Satisfied by the crawler's
// rate-limited fetcher so image requests share the global concurrency cap.
type ImageFetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// TextBlock is the raw OCR text of one image, tagged with its source so the
// aggregator can collapse a shared summary image.
type TextBlock struct {
	Ref  models.FloorplanRef
	Text string
}

// Extractor invokes the OCR engine on floorplan images. Results are cached
// by image URL: the source reuses cover-sheet images across listings.
type Extractor struct {
	fetcher ImageFetcher
	engine  Engine
	cache   *lru.Cache[string, string]
}

// NewExtractor builds an extractor with an LRU text cache of the given size.
func NewExtractor(fetcher ImageFetcher, engine Engine, cacheSize int) (*Extractor, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create ocr cache: %w", err)
	}
	return &Extractor{
		fetcher: fetcher,
		engine:  engine,
		cache:   cache,
	}, nil
}

// ExtractText fetches one image and runs OCR over it. Text is lowercased
// before parsing; the dimension patterns are case-insensitive anyway but
// the source's labels are an inconsistent mix of cases.
func (e *Extractor) ExtractText(ctx context.Context, ref models.FloorplanRef) (TextBlock, error) {
	if text, ok := e.cache.Get(ref.URL); ok {
		return TextBlock{Ref: ref, Text: text}, nil
	}

	image, err := e.fetcher.FetchBytes(ctx, ref.URL)
	if err != nil {
		return TextBlock{}, &OcrError{ImageURL: ref.URL, Err: err}
	}

	text, err := e.engine.Run(ctx, image, imageExtension(ref.URL))
	if err != nil {
		return TextBlock{}, &OcrError{ImageURL: ref.URL, Err: err}
	}

	text = strings.ToLower(text)
	e.cache.Add(ref.URL, text)
	return TextBlock{Ref: ref, Text: text}, nil
}

func imageExtension(url string) string {
	if idx := strings.LastIndexByte(url, '.'); idx >= 0 && idx < len(url)-1 {
		ext := url[idx+1:]
		if len(ext) <= 4 {
			return ext
		}
	}
	return "png"
}
