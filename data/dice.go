package data

import (
	"fmt"
	"image"
	"image/color"
)

const (
	// TileSize is the edge length of classifier input patches and dice faces.
	TileSize = 12
	// NumClasses is the number of pip counts, 0 through 8.
	NumClasses = 9

	pipSize = 2
)

// pipLattice holds the pixel offsets of the 3x3 pip lattice on a face.
var pipLattice = [3]int{2, 5, 8}

// pipLayouts lists the occupied lattice cells (row, col) for each pip count.
var pipLayouts = [NumClasses][][2]int{
	{},
	{{1, 1}},
	{{0, 0}, {2, 2}},
	{{0, 0}, {1, 1}, {2, 2}},
	{{0, 0}, {0, 2}, {2, 0}, {2, 2}},
	{{0, 0}, {0, 2}, {1, 1}, {2, 0}, {2, 2}},
	{{0, 0}, {1, 0}, {2, 0}, {0, 2}, {1, 2}, {2, 2}},
	{{0, 0}, {1, 0}, {2, 0}, {1, 1}, {0, 2}, {1, 2}, {2, 2}},
	{{0, 0}, {1, 0}, {2, 0}, {0, 1}, {2, 1}, {0, 2}, {1, 2}, {2, 2}},
}

var faces = buildFaces()

func buildFaces() [NumClasses]*image.Gray {
	var out [NumClasses]*image.Gray
	for pips, layout := range pipLayouts {
		img := image.NewGray(image.Rect(0, 0, TileSize, TileSize))
		for i := range img.Pix {
			img.Pix[i] = 255
		}
		for _, cell := range layout {
			y0, x0 := pipLattice[cell[0]], pipLattice[cell[1]]
			for y := y0; y < y0+pipSize; y++ {
				for x := x0; x < x0+pipSize; x++ {
					img.SetGray(x, y, color.Gray{Y: 0})
				}
			}
		}
		out[pips] = img
	}
	return out
}

// Face returns the reference bitmap for a pip count: a white face with black
// pips. The returned image is shared and must not be modified.
func Face(label int) (*image.Gray, error) {
	if label < 0 || label >= NumClasses {
		return nil, fmt.Errorf("%w: no dice face for class %d", ErrConfiguration, label)
	}
	return faces[label], nil
}

// Faces returns the nine reference faces indexed by pip count.
func Faces() [NumClasses]*image.Gray {
	return faces
}

// FacePixels returns the face for label as intensities in [0,1], 1 being white.
func FacePixels(label int) ([]float64, error) {
	face, err := Face(label)
	if err != nil {
		return nil, err
	}
	return GrayPixels(face), nil
}

// FaceStrip lays the nine faces out left to right with a one pixel gap.
func FaceStrip() *image.Gray {
	const gap = 1
	strip := image.NewGray(image.Rect(0, 0, NumClasses*(TileSize+gap)-gap, TileSize))
	for i := range strip.Pix {
		strip.Pix[i] = 128
	}
	for label, face := range faces {
		x0 := label * (TileSize + gap)
		for y := 0; y < TileSize; y++ {
			copy(strip.Pix[y*strip.Stride+x0:y*strip.Stride+x0+TileSize], face.Pix[y*face.Stride:y*face.Stride+TileSize])
		}
	}
	return strip
}

// GrayPixels flattens a gray image row-major into intensities in [0,1].
func GrayPixels(img *image.Gray) []float64 {
	b := img.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = append(out, float64(img.GrayAt(x, y).Y)/255.0)
		}
	}
	return out
}
