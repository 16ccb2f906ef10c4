package data

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // Register GIF format decoder
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/anthonynsimon/bild/segment"
	"github.com/b0tShaman/dicify/ml"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MonoThreshold is the gray level at and above which a pixel counts as white.
const MonoThreshold = 128

// DecodeImage decodes any registered raster format, honouring EXIF orientation.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	return img, nil
}

// LoadImage opens and decodes an image file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()
	return DecodeImage(f)
}

// Monochrome flattens img onto white, converts it to grayscale and thresholds
// it, returning a zero-origin image whose pixels are only 0 or 255.
func Monochrome(img image.Image) *image.Gray {
	b := img.Bounds()
	flat := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), img, image.Pt(0, 0), 1.0)
	return segment.Threshold(imaging.Grayscale(flat), MonoThreshold)
}

// Grid cuts mono into density x density cells, row-major. Cells are
// (W/density) x (H/density); remainder pixels on the right and bottom edges are
// dropped. Each cell is resampled to tile x tile with nearest neighbour, which
// keeps a thresholded image binary.
func Grid(mono *image.Gray, density, tile int) ([]*image.Gray, error) {
	if density <= 0 {
		return nil, fmt.Errorf("%w: grid density must be a positive integer (got %d)", ErrConfiguration, density)
	}
	if tile <= 0 {
		return nil, fmt.Errorf("%w: tile size must be positive (got %d)", ErrConfiguration, tile)
	}
	b := mono.Bounds()
	cellW, cellH := b.Dx()/density, b.Dy()/density
	if cellW == 0 || cellH == 0 {
		return nil, fmt.Errorf("%w: image %dx%d is too small for grid density %d",
			ErrConfiguration, b.Dx(), b.Dy(), density)
	}

	patches := make([]*image.Gray, 0, density*density)
	for row := 0; row < density; row++ {
		for col := 0; col < density; col++ {
			x0 := b.Min.X + col*cellW
			y0 := b.Min.Y + row*cellH
			src := image.Rect(x0, y0, x0+cellW, y0+cellH)

			dst := image.NewGray(image.Rect(0, 0, tile, tile))
			draw.NearestNeighbor.Scale(dst, dst.Bounds(), mono, src, draw.Src, nil)
			patches = append(patches, dst)
		}
	}
	return patches, nil
}

// PatchMatrix stacks patches into one classifier batch, one row per patch.
func PatchMatrix(patches []*image.Gray) (*ml.Matrix, error) {
	if len(patches) == 0 {
		return nil, fmt.Errorf("%w: no patches", ErrConfiguration)
	}
	features := patches[0].Bounds().Dx() * patches[0].Bounds().Dy()
	flat := make([]float64, 0, len(patches)*features)
	for i, p := range patches {
		pixels := GrayPixels(p)
		if len(pixels) != features {
			return nil, fmt.Errorf("%w: patch %d has %d pixels, want %d", ErrConfiguration, i, len(pixels), features)
		}
		flat = append(flat, pixels...)
	}
	return ml.NewMatrixFromSlice(len(patches), features, flat), nil
}
