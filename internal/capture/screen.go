// Package capture runs the edge loop: periodic multi-screen screenshots,
// OCR with bounded concurrency, and local record persistence.
package capture

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// ScreenSource enumerates and grabs displays. The production implementation
// wraps the platform screenshot library; tests substitute a fake.
type ScreenSource interface {
	NumScreens() int
	Capture(i int) (image.Image, error)
	ScreenName(i int) string
}

// DisplaySource captures the machine's active displays.
type DisplaySource struct {
	namePrefix string
}

// NewDisplaySource names screens <prefix>_0, <prefix>_1 and so on.
func NewDisplaySource(namePrefix string) *DisplaySource {
	if namePrefix == "" {
		namePrefix = "screen"
	}
	return &DisplaySource{namePrefix: namePrefix}
}

func (d *DisplaySource) NumScreens() int {
	return screenshot.NumActiveDisplays()
}

func (d *DisplaySource) Capture(i int) (image.Image, error) {
	img, err := screenshot.CaptureDisplay(i)
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", i, err)
	}
	return img, nil
}

func (d *DisplaySource) ScreenName(i int) string {
	return fmt.Sprintf("%s_%d", d.namePrefix, i)
}
