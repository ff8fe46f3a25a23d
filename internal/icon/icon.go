// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package icon decodes the SMDH's tiled RGB565 icon bitmaps into PNG images.
package icon

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

var xlut = [8]int{0x00, 0x01, 0x04, 0x05, 0x10, 0x11, 0x14, 0x15}
var ylut = [8]int{0x00, 0x02, 0x08, 0x0a, 0x20, 0x22, 0x28, 0x2a}

func convert5(v uint16) uint8 { return uint8((v << 3) | (v >> 2)) }
func convert6(v uint16) uint8 { return uint8((v << 2) | (v >> 4)) }

// ErrUnexpectedSize is returned when the tile buffer's length matches
// neither the small (24x24) nor large (48x48) icon pixel count.
var ErrUnexpectedSize = fmt.Errorf("icon: unexpected tile count")

// Decode de-tiles a flat RGB565 pixel array (SMDH SmallIcon or LargeIcon)
// into a square image.RGBA, alpha forced opaque since the source format
// carries no transparency.
func Decode(tiles []uint16) (*image.RGBA, error) {
	var width int
	switch len(tiles) {
	case 24 * 24:
		width = 24
	case 48 * 48:
		width = 48
	default:
		return nil, fmt.Errorf("%w: got %d", ErrUnexpectedSize, len(tiles))
	}

	blockCount := width / 8
	img := image.NewRGBA(image.Rect(0, 0, width, width))

	for y := 0; y < width; y++ {
		for x := 0; x < width; x++ {
			bx, by := x/8, y/8
			cx, cy := x%8, y%8
			i := xlut[cx] + ylut[cy] + (bx+by*blockCount)*64
			pixel := tiles[i]

			r := convert5(pixel >> 11)
			g := convert6((pixel >> 5) & 0b111111)
			b := convert5(pixel & 0b11111)
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xFF})
		}
	}

	return img, nil
}

// EncodePNG decodes tiles and encodes the result as a PNG.
func EncodePNG(tiles []uint16) ([]byte, error) {
	img, err := Decode(tiles)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("icon: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
