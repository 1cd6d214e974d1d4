package hashing

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentHash_Deterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	h1, err := ContentHash(path)
	require.NoError(t, err)
	h2, err := ContentHash(path)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Contains(t, h1, "full:")
}

func TestContentHash_DifferentContentDifferentHash(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.bin")
	p2 := filepath.Join(dir, "b.bin")
	require.NoError(t, os.WriteFile(p1, []byte("aaaa"), 0644))
	require.NoError(t, os.WriteFile(p2, []byte("bbbb"), 0644))

	h1, _ := ContentHash(p1)
	h2, _ := ContentHash(p2)
	require.NotEqual(t, h1, h2)
}

func TestPerceptualHash_SimilarityOfIdenticalImageIsOne(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			v := uint8(0)
			if (x+y)%2 == 0 {
				v = 255
			}
			img.Set(x, y, color.Gray{Y: v})
		}
	}
	h1 := PerceptualHash(img)
	h2 := PerceptualHash(img)
	require.Equal(t, h1, h2)
	require.InDelta(t, 1.0, Similarity(h1, h2), 0.0001)
}

func TestSimilarity_OppositeBitmapsAreZero(t *testing.T) {
	require.InDelta(t, 0.0, Similarity("0000000000000000", "ffffffffffffffff"), 0.0001)
}
