package imageprocessing

import (
	"fmt"
	"image"
	"log/slog"

	xdraw "golang.org/x/image/draw"
)

const maxUpscaleFactor = 4.0

// UpscaleParams represents typed parameters for the upscale command
type UpscaleParams struct {
	MinWidth  int
	MaxFactor float64
}

// NewUpscaleParamsFromMap creates UpscaleParams from a generic map
func NewUpscaleParamsFromMap(params map[string]any) (*UpscaleParams, error) {
	minWidth := getIntParam(params, "minWidth", 0)
	if minWidth <= 0 {
		return nil, fmt.Errorf("minWidth must be positive, got %d", minWidth)
	}
	maxFactor := getFloatParam(params, "maxFactor", maxUpscaleFactor)
	if maxFactor < 1 {
		return nil, fmt.Errorf("maxFactor must be at least 1, got %v", maxFactor)
	}
	return &UpscaleParams{MinWidth: minWidth, MaxFactor: maxFactor}, nil
}

// UpscaleCommand enlarges small card photos so glyphs reach a size the OCR engine
// can resolve. Images already at least MinWidth pixels wide are passed through.
// Aspect ratio is preserved and the enlargement is capped at MaxFactor.
type UpscaleCommand struct {
	name   string
	params *UpscaleParams
}

// NewUpscaleCommand creates a new upscale command from configuration parameters
func NewUpscaleCommand(params map[string]any) (Command, error) {
	typedParams, err := NewUpscaleParamsFromMap(params)
	if err != nil {
		return nil, err
	}
	return &UpscaleCommand{name: "UpscaleCommand", params: typedParams}, nil
}

func (c *UpscaleCommand) Name() string {
	return c.name
}

func (c *UpscaleCommand) Execute(imageData []byte) ([]byte, error) {
	img, err := decodePNG(imageData)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("image has no pixels")
	}
	if w >= c.params.MinWidth {
		return imageData, nil
	}

	factor := min(float64(c.params.MinWidth)/float64(w), c.params.MaxFactor)
	targetW := int(float64(w) * factor)
	targetH := max(int(float64(h)*factor), 1)

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)

	slog.Debug("UpscaleCommand: scaled",
		"orig_width", w,
		"orig_height", h,
		"new_width", targetW,
		"new_height", targetH)

	return encodePNG(dst)
}

func init() {
	mustRegister("UpscaleCommand", NewUpscaleCommand)
}
