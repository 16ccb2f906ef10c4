package data

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	_, err := DecodeImage(strings.NewReader("definitely not an image"))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestDecodeImagePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(30, 20, color.White)); err != nil {
		t.Fatal(err)
	}
	img, err := DecodeImage(&buf)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	if img.Bounds().Dx() != 30 || img.Bounds().Dy() != 20 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
}

func TestMonochromeIsBinary(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 90, A: 255})
		}
	}
	mono := Monochrome(img)
	if mono.Bounds() != image.Rect(0, 0, 64, 64) {
		t.Fatalf("unexpected bounds %v", mono.Bounds())
	}
	for _, v := range mono.Pix {
		if v != 0 && v != 255 {
			t.Fatalf("pixel %d survived thresholding", v)
		}
	}
}

func TestMonochromeFlattensTransparencyToWhite(t *testing.T) {
	mono := Monochrome(image.NewNRGBA(image.Rect(0, 0, 8, 8)))
	for _, v := range mono.Pix {
		if v != 255 {
			t.Fatalf("transparent pixel became %d", v)
		}
	}
}

func TestGridShape(t *testing.T) {
	mono := Monochrome(solidImage(640, 480, color.White))
	for _, n := range []int{1, 32, 64, 128} {
		patches, err := Grid(mono, n, TileSize)
		if err != nil {
			t.Fatalf("Grid(%d): %v", n, err)
		}
		if len(patches) != n*n {
			t.Fatalf("Grid(%d): %d patches", n, len(patches))
		}
		for _, p := range patches {
			if p.Bounds().Dx() != TileSize || p.Bounds().Dy() != TileSize {
				t.Fatalf("Grid(%d): patch %v", n, p.Bounds())
			}
		}
	}
}

func TestGridIsRowMajorAndTruncatesEdges(t *testing.T) {
	// 21x21 at density 2: cells are 10x10, the last row and column are dropped.
	img := solidImage(21, 21, color.White)
	for y := 0; y < 10; y++ {
		for x := 10; x < 20; x++ {
			img.Set(x, y, color.Black)
		}
	}
	for i := 0; i < 21; i++ {
		img.Set(20, i, color.Black)
		img.Set(i, 20, color.Black)
	}
	patches, err := Grid(Monochrome(img), 2, TileSize)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint8{255, 0, 255, 255}
	for i, p := range patches {
		for _, v := range p.Pix {
			if v != want[i] {
				t.Fatalf("cell %d has pixel %d, want %d", i, v, want[i])
			}
		}
	}
}

func TestGridRejectsBadDensity(t *testing.T) {
	mono := Monochrome(solidImage(16, 16, color.White))
	for _, n := range []int{0, -3, 17} {
		if _, err := Grid(mono, n, TileSize); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Grid(%d): expected ErrConfiguration, got %v", n, err)
		}
	}
}

func TestPatchMatrix(t *testing.T) {
	face, _ := Face(3)
	m, err := PatchMatrix([]*image.Gray{face, face})
	if err != nil {
		t.Fatal(err)
	}
	if m.Rows() != 2 || m.Cols() != TileSize*TileSize {
		t.Fatalf("matrix is [%d, %d]", m.Rows(), m.Cols())
	}
	if _, err := PatchMatrix(nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
