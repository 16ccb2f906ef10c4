package data

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sort"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
)

// GridPrediction holds one class label per grid cell, row-major.
type GridPrediction struct {
	Density int
	Labels  []int
}

// At returns the label of cell (row, col).
func (g GridPrediction) At(row, col int) int {
	return g.Labels[row*g.Density+col]
}

// Histogram counts cells per class.
func (g GridPrediction) Histogram() [NumClasses]int {
	var h [NumClasses]int
	for _, l := range g.Labels {
		if l >= 0 && l < NumClasses {
			h[l]++
		}
	}
	return h
}

// Palette colours the mosaic: Ink for pips, Paper for the face.
type Palette struct {
	Ink   color.Color
	Paper color.Color
}

// DefaultPalette renders black pips on white faces.
var DefaultPalette = Palette{Ink: color.Black, Paper: color.White}

// ParsePalette reads "#rrggbb" colours; an empty string keeps the default.
func ParsePalette(ink, paper string) (Palette, error) {
	p := DefaultPalette
	if ink != "" {
		c, err := colorful.Hex(ink)
		if err != nil {
			return Palette{}, fmt.Errorf("%w: ink colour: %v", ErrConfiguration, err)
		}
		p.Ink = c
	}
	if paper != "" {
		c, err := colorful.Hex(paper)
		if err != nil {
			return Palette{}, fmt.Errorf("%w: paper colour: %v", ErrConfiguration, err)
		}
		p.Paper = c
	}
	return p, nil
}

// AutoPalette picks the two dominant colours of img, the darker one as ink.
// Images with a single dominant colour fall back to DefaultPalette.
func AutoPalette(img image.Image) Palette {
	found := dominantcolor.FindWeight(img, 2)
	if len(found) < 2 {
		return DefaultPalette
	}
	cols := make([]colorful.Color, 0, len(found))
	for _, c := range found {
		cf, _ := colorful.MakeColor(c.RGBA)
		cols = append(cols, cf)
	}
	sort.Slice(cols, func(i, j int) bool {
		li, _, _ := cols[i].Lab()
		lj, _, _ := cols[j].Lab()
		return li < lj
	})
	return Palette{Ink: cols[0].Clamped(), Paper: cols[len(cols)-1].Clamped()}
}

// Reconstruct tiles the reference face of every predicted label onto a
// (Density*TileSize)-square canvas, cell (r, c) landing at (c*TileSize, r*TileSize).
func Reconstruct(pred GridPrediction, pal Palette) (*image.Paletted, error) {
	if pred.Density <= 0 || len(pred.Labels) != pred.Density*pred.Density {
		return nil, fmt.Errorf("%w: prediction has %d labels for density %d",
			ErrConfiguration, len(pred.Labels), pred.Density)
	}
	if pal.Ink == nil || pal.Paper == nil {
		pal = DefaultPalette
	}

	const inkIdx, paperIdx = 0, 1
	side := pred.Density * TileSize
	canvas := image.NewPaletted(image.Rect(0, 0, side, side), color.Palette{pal.Ink, pal.Paper})

	for row := 0; row < pred.Density; row++ {
		for col := 0; col < pred.Density; col++ {
			face, err := Face(pred.At(row, col))
			if err != nil {
				return nil, err
			}
			x0, y0 := col*TileSize, row*TileSize
			for y := 0; y < TileSize; y++ {
				dst := canvas.Pix[(y0+y)*canvas.Stride+x0 : (y0+y)*canvas.Stride+x0+TileSize]
				src := face.Pix[y*face.Stride : y*face.Stride+TileSize]
				for x, v := range src {
					if v >= MonoThreshold {
						dst[x] = paperIdx
					} else {
						dst[x] = inkIdx
					}
				}
			}
		}
	}
	return canvas, nil
}

// SavePNG writes img to path, creating missing parent directories.
func SavePNG(path string, img image.Image) error {
	return writeFile(path, func(w io.Writer) error {
		return png.Encode(w, img)
	})
}
