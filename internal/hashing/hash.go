// Package hashing computes the two content identities the asset cache relies
// on: a full (or size-adaptive quick) sha-256 content hash, and a 64-bit
// perceptual image hash for near-duplicate detection, per spec.md §4.4.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/bits"
	"os"

	"golang.org/x/image/draw"
)

// QuickHashBudget is the file size above which ContentHash switches from a
// full read to the first/middle/last-N-KiB adaptive strategy.
const QuickHashBudget = 64 * 1024 * 1024 // 64 MiB

// quickSampleSize is N KiB sampled from each of the three regions when the
// adaptive strategy is used.
const quickSampleSize = 256 * 1024 // 256 KiB

// ContentHash returns the content hash of the file at path. Files at or
// below QuickHashBudget are hashed in full ("full:" namespace); larger files
// use the first/middle/last sample strategy ("quick:" namespace) so hashing
// never becomes the bottleneck for multi-gigabyte media files. The two
// namespaces never collide because they carry distinct prefixes before the
// hex digest.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashing: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("hashing: stat: %w", err)
	}

	if info.Size() <= QuickHashBudget {
		return fullHash(f)
	}
	return quickHash(f, info.Size())
}

func fullHash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing: read: %w", err)
	}
	return "full:" + hex.EncodeToString(h.Sum(nil)), nil
}

func quickHash(f *os.File, size int64) (string, error) {
	h := sha256.New()
	sample := func(offset int64) error {
		n := int64(quickSampleSize)
		if offset+n > size {
			n = size - offset
		}
		if n <= 0 {
			return nil
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		_, err := io.CopyN(h, f, n)
		if err != nil && err != io.EOF {
			return err
		}
		return nil
	}
	mid := size/2 - quickSampleSize/2
	if mid < 0 {
		mid = 0
	}
	last := size - quickSampleSize
	if last < 0 {
		last = 0
	}
	for _, off := range []int64{0, mid, last} {
		if err := sample(off); err != nil {
			return "", fmt.Errorf("hashing: sample at %d: %w", off, err)
		}
	}
	// Namespace the digest with the file size so two different-length files
	// that happen to share the same three samples never collide.
	fmt.Fprintf(h, ":%d", size)
	return "quick:" + hex.EncodeToString(h.Sum(nil)), nil
}

// PerceptualHash resizes img to 8x8 grayscale, computes the mean, and emits
// a 64-bit bitmap (bit set where pixel > mean) rendered as 16 hex digits.
func PerceptualHash(img image.Image) string {
	gray := image.NewGray(image.Rect(0, 0, 8, 8))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Over, nil)

	var sum int
	pixels := make([]uint8, 0, 64)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			c := gray.GrayAt(x, y)
			pixels = append(pixels, c.Y)
			sum += int(c.Y)
		}
	}
	mean := sum / 64

	var bitmap uint64
	for i, p := range pixels {
		if int(p) > mean {
			bitmap |= 1 << uint(63-i)
		}
	}
	return fmt.Sprintf("%016x", bitmap)
}

// DecodeAndHash opens path, decodes it as an image, converts to grayscale,
// and returns its perceptual hash.
func DecodeAndHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashing: open: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("hashing: decode: %w", err)
	}
	return PerceptualHash(toGray(img)), nil
}

func toGray(img image.Image) image.Image {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// Similarity returns 1 - (Hamming distance / 64) between two 16-hex
// perceptual hashes. Malformed input yields 0 similarity.
func Similarity(a, b string) float64 {
	ai, err1 := parseHex64(a)
	bi, err2 := parseHex64(b)
	if err1 != nil || err2 != nil {
		return 0
	}
	dist := bits.OnesCount64(ai ^ bi)
	return 1 - float64(dist)/64
}

func parseHex64(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%016x", &v)
	return v, err
}
