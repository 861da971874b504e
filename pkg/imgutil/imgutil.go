// Package imgutil handles image decoding, cropping, and the crop
// preprocessing applied before text recognition.
package imgutil

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	"image/jpeg"
	_ "image/png" // Register PNG format decoder

	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"

	"github.com/foodlens/foodlens/pkg/geometry"
)

// Decode decodes an image from raw bytes and reports its format name.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// Crop extracts the given rectangle from img, clamped to the image bounds.
func Crop(img image.Image, r geometry.Rect) (image.Image, error) {
	bounds := img.Bounds()
	clamped := geometry.Clamp(r, geometry.Rect{
		Left:   bounds.Min.X,
		Top:    bounds.Min.Y,
		Right:  bounds.Max.X,
		Bottom: bounds.Max.Y,
	})
	if !clamped.Valid() {
		return nil, fmt.Errorf("crop region %+v is empty after clamping to image bounds", r)
	}
	return imaging.Crop(img, image.Rect(clamped.Left, clamped.Top, clamped.Right, clamped.Bottom)), nil
}

// Preprocess prepares a crop for text recognition: flatten alpha onto white,
// trim uniform borders, convert to grayscale, normalize contrast, and
// sharpen. Any failure degrades to the input image rather than aborting.
func Preprocess(img image.Image) (out image.Image) {
	out = img
	defer func() {
		// bild and imaging do not return errors; a panic on a
		// pathological input degrades to the raw crop.
		if r := recover(); r != nil {
			out = img
		}
	}()

	flat := flattenAlpha(img)
	trimmed := trimBorders(flat)
	gray := imaging.Grayscale(trimmed)
	stretched := imaging.AdjustContrast(gray, 20)
	out = effect.Sharpen(stretched)
	return out
}

// ResizeMax scales img down so its longest side does not exceed limit,
// returning the scale factors needed to map coordinates in the resized image
// back to the original. Images already within the limit are returned as-is
// with scale factors of 1.
func ResizeMax(img image.Image, limit int) (image.Image, float64, float64) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if limit <= 0 || (w <= limit && h <= limit) {
		return img, 1, 1
	}

	resized := imaging.Fit(img, limit, limit, imaging.Lanczos)
	rb := resized.Bounds()
	sx := float64(w) / float64(rb.Dx())
	sy := float64(h) / float64(rb.Dy())
	return resized, sx, sy
}

// EncodeJPEG encodes img as JPEG at a quality suited to recognition uploads.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// InlineJPEG returns img as a base64 data URL, downscaled for inline
// transport in the stream's image event.
func InlineJPEG(img image.Image, maxSide int) (string, error) {
	scaled, _, _ := ResizeMax(img, maxSide)
	data, err := EncodeJPEG(scaled)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// flattenAlpha composites img onto a white background, dropping any alpha
// channel so recognizers see opaque pixels.
func flattenAlpha(img image.Image) image.Image {
	bounds := img.Bounds()
	white := imaging.New(bounds.Dx(), bounds.Dy(), image.White.C)
	return imaging.OverlayCenter(white, img, 1.0)
}

// trimBorders strips uniform margins matching the top-left corner color,
// tolerance-matched per channel. Crops that end up empty keep the original.
func trimBorders(img image.Image) image.Image {
	const tolerance = 12

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 8 || h < 8 {
		return img
	}

	ref := img.At(bounds.Min.X, bounds.Min.Y)
	matches := func(x, y int) bool {
		return colorClose(img.At(x, y), ref, tolerance)
	}

	rowUniform := func(y int) bool {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !matches(x, y) {
				return false
			}
		}
		return true
	}
	colUniform := func(x int) bool {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			if !matches(x, y) {
				return false
			}
		}
		return true
	}

	top, bottom := bounds.Min.Y, bounds.Max.Y
	left, right := bounds.Min.X, bounds.Max.X
	for top < bottom-4 && rowUniform(top) {
		top++
	}
	for bottom > top+4 && rowUniform(bottom-1) {
		bottom--
	}
	for left < right-4 && colUniform(left) {
		left++
	}
	for right > left+4 && colUniform(right-1) {
		right--
	}

	if left == bounds.Min.X && top == bounds.Min.Y && right == bounds.Max.X && bottom == bounds.Max.Y {
		return img
	}
	return imaging.Crop(img, image.Rect(left, top, right, bottom))
}

func colorClose(a, b interface{ RGBA() (uint32, uint32, uint32, uint32) }, tolerance int) bool {
	ar, ag, ab, _ := a.RGBA()
	br, bg, bb, _ := b.RGBA()
	diff := func(x, y uint32) int {
		d := int(x>>8) - int(y>>8)
		if d < 0 {
			d = -d
		}
		return d
	}
	return diff(ar, br) <= tolerance && diff(ag, bg) <= tolerance && diff(ab, bb) <= tolerance
}
