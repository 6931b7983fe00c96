package dataset

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// writePNG writes a w x h 8-bit grayscale PNG, creating parent folders.
func writePNG(t *testing.T, path string, w, h int, pix func(x, y int) uint8) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: pix(x, y)})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode %s: %v", path, err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func constant(v uint8) func(x, y int) uint8 {
	return func(x, y int) uint8 { return v }
}

// createMCFixture lays out an MC root with the given scans in one split.
// Left lung masks cover columns [0, 3), right lung masks columns [2, 4), so
// column 2 overlaps.
func createMCFixture(t *testing.T, split Split, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for i, name := range names {
		v := uint8(10 * (i + 1))
		writePNG(t, filepath.Join(root, split.Dir(), name), 4, 2, constant(v))
		writePNG(t, filepath.Join(root, "ManualMask", "leftMask", name), 4, 2, func(x, y int) uint8 {
			if x < 3 {
				return 255
			}
			return 0
		})
		writePNG(t, filepath.Join(root, "ManualMask", "rightMask", name), 4, 2, func(x, y int) uint8 {
			if x >= 2 {
				return 1
			}
			return 0
		})
	}
	return root
}
