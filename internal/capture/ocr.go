package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// OCRBackend extracts text from a saved screenshot.
type OCRBackend interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
	Name() string
}

// TesseractOCR shells out to the tesseract binary.
type TesseractOCR struct {
	binary string
	lang   string
}

func NewTesseractOCR(lang string) (*TesseractOCR, error) {
	path, err := exec.LookPath("tesseract")
	if err != nil {
		return nil, fmt.Errorf("tesseract not found in PATH: %w", err)
	}
	if lang == "" {
		lang = "eng"
	}
	return &TesseractOCR{binary: path, lang: lang}, nil
}

func (t *TesseractOCR) Name() string { return "tesseract" }

func (t *TesseractOCR) Recognize(ctx context.Context, imagePath string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.binary, imagePath, "stdout", "-l", t.lang)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract %s: %w: %s", imagePath, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// DetectOCRBackend picks the available backend. A machine with no backend
// cannot produce records, so the caller treats an error here as fatal.
func DetectOCRBackend(lang string) (OCRBackend, error) {
	backend, err := NewTesseractOCR(lang)
	if err != nil {
		return nil, fmt.Errorf("no OCR backend available: %w", err)
	}
	return backend, nil
}
