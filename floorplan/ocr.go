// Package floorplan turns floorplan images into a total square footage
// estimate: OCR, dimension parsing, and area aggregation.
package floorplan

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Engine is the OCR collaborator: image bytes in, raw text out. Output is
// not guaranteed to repeat across engine versions, so nothing downstream
// may assume a canonical parse.
type Engine interface {
	Run(ctx context.Context, image []byte, ext string) (string, error)
}

// TesseractEngine shells out to the tesseract binary through a temp file,
// the same invocation the usual OCR toolchains perform.
type TesseractEngine struct {
	Bin string
}

// NewTesseractEngine returns an engine using the given binary, or plain
// "tesseract" from PATH when empty.
func NewTesseractEngine(bin string) *TesseractEngine {
	if bin == "" {
		bin = "tesseract"
	}
	return &TesseractEngine{Bin: bin}
}

// Run writes the image to a temp file and reads recognised text from
// tesseract's stdout.
func (e *TesseractEngine) Run(ctx context.Context, image []byte, ext string) (string, error) {
	if ext == "" {
		ext = "png"
	}
	tmp, err := os.CreateTemp("", "floorplan-*."+ext)
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp image: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.Bin, tmp.Name(), "stdout")
	var out strings.Builder
	var stderr strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}
