package diffusion

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// Grid lays images out in rows of cols cells, each scaled to cell×cell, and
// returns the result as PNG.
func Grid(images [][]byte, cols, cell int) ([]byte, error) {
	if len(images) == 0 {
		return nil, errors.New("no images")
	}
	if cols <= 0 {
		cols = 1
	}
	if cell <= 0 {
		cell = 256
	}
	if cols > len(images) {
		cols = len(images)
	}
	rows := (len(images) + cols - 1) / cols

	dst := image.NewRGBA(image.Rect(0, 0, cols*cell, rows*cell))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	for i, raw := range images {
		src, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode image %d: %w", i, err)
		}
		x, y := (i%cols)*cell, (i/cols)*cell
		draw.CatmullRom.Scale(dst, image.Rect(x, y, x+cell, y+cell), src, src.Bounds(), draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode grid: %w", err)
	}
	return buf.Bytes(), nil
}
