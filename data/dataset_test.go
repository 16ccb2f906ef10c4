package data

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func patchKey(p LabeledPatch) string {
	return fmt.Sprintf("%d:%v", p.Label, p.Pixels)
}

func TestSynthesizeProducesValidCorpus(t *testing.T) {
	c, err := Synthesize(testRand(1), 10, 0.02)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Size() != 10*NumClasses {
		t.Fatalf("expected %d samples, got %d", 10*NumClasses, c.Size())
	}
	for label, pool := range c.Pools {
		face, _ := FacePixels(label)
		for i, v := range pool[0] {
			if v != face[i] {
				t.Fatalf("first sample of class %d is not the clean face", label)
			}
		}
	}
}

func TestSynthesizeRejectsBadArguments(t *testing.T) {
	if _, err := Synthesize(testRand(1), 0, 0); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for zero samples, got %v", err)
	}
	if _, err := Synthesize(testRand(1), 5, 0.7); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for noise, got %v", err)
	}
}

func TestCorpusJSONRoundTrip(t *testing.T) {
	c, err := Synthesize(testRand(2), 3, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteCorpus(&buf, c); err != nil {
		t.Fatal(err)
	}
	back, err := ReadCorpus(&buf)
	if err != nil {
		t.Fatalf("ReadCorpus: %v", err)
	}
	for label := range c.Pools {
		for i := range c.Pools[label] {
			if fmt.Sprint(c.Pools[label][i]) != fmt.Sprint(back.Pools[label][i]) {
				t.Fatalf("class %d sample %d changed", label, i)
			}
		}
	}
}

func nestedSample(v float64) string {
	rows := make([]string, TileSize)
	for i := range rows {
		cells := make([]string, TileSize)
		for j := range cells {
			cells[j] = fmt.Sprint(v)
		}
		rows[i] = "[" + strings.Join(cells, ",") + "]"
	}
	return "[" + strings.Join(rows, ",") + "]"
}

func TestReadCorpusAcceptsNestedSamples(t *testing.T) {
	var parts []string
	for label := 0; label < NumClasses; label++ {
		parts = append(parts, fmt.Sprintf("%q:[%s]", fmt.Sprint(label), nestedSample(1)))
	}
	c, err := ReadCorpus(strings.NewReader("{" + strings.Join(parts, ",") + "}"))
	if err != nil {
		t.Fatalf("ReadCorpus: %v", err)
	}
	if len(c.Pools[8][0]) != TileSize*TileSize {
		t.Fatalf("nested sample not flattened: %d", len(c.Pools[8][0]))
	}
}

func TestReadCorpusRejectsIncompleteCorpus(t *testing.T) {
	var parts []string
	for label := 0; label < NumClasses-1; label++ {
		parts = append(parts, fmt.Sprintf("%q:[%s]", fmt.Sprint(label), nestedSample(0)))
	}
	cases := map[string]string{
		"missing class": "{" + strings.Join(parts, ",") + "}",
		"empty pool":    "{" + strings.Join(parts, ",") + `,"8":[]}`,
		"bad key":       "{" + strings.Join(parts, ",") + `,"9":[` + nestedSample(0) + `]}`,
		"short sample":  "{" + strings.Join(parts, ",") + `,"8":[[1,0,1]]}`,
		"not json":      "dice",
	}
	for name, body := range cases {
		if _, err := ReadCorpus(strings.NewReader(body)); !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", name, err)
		}
	}
}

func raggedSample() string {
	rows := make([]string, TileSize)
	for i := range rows {
		width := TileSize
		switch i {
		case 0:
			width = TileSize + 1
		case 1:
			width = TileSize - 1
		}
		cells := make([]string, width)
		for j := range cells {
			cells[j] = "1"
		}
		rows[i] = "[" + strings.Join(cells, ",") + "]"
	}
	return "[" + strings.Join(rows, ",") + "]"
}

func TestReadCorpusRejectsRaggedRows(t *testing.T) {
	cases := map[string]string{
		"ragged rows": raggedSample(),
		"short rows":  "[" + strings.Repeat("[1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1],", 5) + "[1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1]]",
	}
	for name, sample := range cases {
		var parts []string
		for label := 0; label < NumClasses; label++ {
			parts = append(parts, fmt.Sprintf("%q:[%s]", fmt.Sprint(label), sample))
		}
		if _, err := ReadCorpus(strings.NewReader("{" + strings.Join(parts, ",") + "}")); !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", name, err)
		}
	}
}

func TestSaveCorpusCreatesDirectories(t *testing.T) {
	c, err := Synthesize(testRand(7), 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "assets", "nested", "corpus.json")
	if err := SaveCorpus(path, c); err != nil {
		t.Fatalf("SaveCorpus: %v", err)
	}
	back, err := LoadCorpus(path)
	if err != nil {
		t.Fatalf("LoadCorpus: %v", err)
	}
	if back.Size() != c.Size() {
		t.Fatalf("expected %d samples, got %d", c.Size(), back.Size())
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestPatchesLabelByPool(t *testing.T) {
	c, _ := Synthesize(testRand(3), 4, 0)
	patches := c.Patches()
	if len(patches) != 4*NumClasses {
		t.Fatalf("expected %d patches, got %d", 4*NumClasses, len(patches))
	}
	for i, p := range patches {
		if p.Label != i/4 {
			t.Fatalf("patch %d labelled %d, want %d", i, p.Label, i/4)
		}
	}
}

func TestShufflePreservesPairs(t *testing.T) {
	c, _ := Synthesize(testRand(4), 12, 0.1)
	patches := c.Patches()

	before := map[string]int{}
	for _, p := range patches {
		before[patchKey(p)]++
	}

	Shuffle(testRand(5), patches)

	after := map[string]int{}
	for _, p := range patches {
		after[patchKey(p)]++
	}
	if len(before) != len(after) {
		t.Fatalf("distinct pairs changed: %d -> %d", len(before), len(after))
	}
	for k, n := range before {
		if after[k] != n {
			t.Fatalf("pair multiplicity changed for %s", k[:8])
		}
	}
}

func TestSplitIsDisjointAndComplete(t *testing.T) {
	for _, n := range []int{1, 9, 10, 37, 108} {
		patches := make([]LabeledPatch, n)
		for i := range patches {
			patches[i] = LabeledPatch{Pixels: []float64{float64(i)}, Label: i % NumClasses}
		}
		train, test, err := Split(patches, 0.2)
		if err != nil {
			t.Fatal(err)
		}
		wantTest := int(float64(n)*0.2 + 0.5)
		if len(test) != wantTest || len(train)+len(test) != n {
			t.Fatalf("n=%d: train=%d test=%d", n, len(train), len(test))
		}
		seen := map[float64]bool{}
		for _, p := range append(append([]LabeledPatch{}, train...), test...) {
			if seen[p.Pixels[0]] {
				t.Fatalf("n=%d: patch %v duplicated", n, p.Pixels[0])
			}
			seen[p.Pixels[0]] = true
		}
		if len(seen) != n {
			t.Fatalf("n=%d: lost patches", n)
		}
		// Contiguous: the test set is the tail.
		if len(test) > 0 && test[0].Pixels[0] != float64(len(train)) {
			t.Fatalf("n=%d: test slice is not the tail", n)
		}
	}
	if _, _, err := Split(nil, 1.5); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestTensorsOneHot(t *testing.T) {
	c, _ := Synthesize(testRand(6), 2, 0)
	patches := c.Patches()
	X, Y, err := Tensors(patches)
	if err != nil {
		t.Fatal(err)
	}
	if X.Rows() != len(patches) || X.Cols() != TileSize*TileSize {
		t.Fatalf("X is [%d, %d]", X.Rows(), X.Cols())
	}
	if Y.Cols() != NumClasses {
		t.Fatalf("Y has %d columns", Y.Cols())
	}
	for i, p := range patches {
		row := Y.Row(i)
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		if sum != 1 || row[p.Label] != 1 {
			t.Fatalf("row %d is not one-hot for %d: %v", i, p.Label, row)
		}
	}

	if _, err := OneHot([]int{0, 9}, NumClasses); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if _, _, err := Tensors([]LabeledPatch{{Pixels: []float64{1}, Label: 0}}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for short patch, got %v", err)
	}
}
