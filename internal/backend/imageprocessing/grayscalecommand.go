package imageprocessing

import (
	"image"
	"image/draw"
	"log/slog"
)

// GrayscaleCommand drops color information, which tends to help text recognition on
// printed cards with colored backgrounds. Expects PNG input.
type GrayscaleCommand struct {
	name string
}

// NewGrayscaleCommand creates a new grayscale command; it takes no parameters
func NewGrayscaleCommand(params map[string]any) (Command, error) {
	return &GrayscaleCommand{name: "GrayscaleCommand"}, nil
}

func (c *GrayscaleCommand) Name() string {
	return c.name
}

func (c *GrayscaleCommand) Execute(imageData []byte) ([]byte, error) {
	img, err := decodePNG(imageData)
	if err != nil {
		return nil, err
	}

	if _, ok := img.(*image.Gray); ok {
		return imageData, nil
	}

	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)

	slog.Debug("GrayscaleCommand: converted", "width", bounds.Dx(), "height", bounds.Dy())
	return encodePNG(gray)
}

func init() {
	mustRegister("GrayscaleCommand", NewGrayscaleCommand)
}
