// Package share generates pairing artifacts for handing a live workspace
// URL to another device: a scannable QR code wrapping the share link.
package share

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	xdraw "golang.org/x/image/draw"
)

// DefaultPixelSize is the final square image size, in pixels, returned by
// EncodePNG when the caller doesn't need a specific size (e.g. a pairing
// screen at a fixed UI scale).
const DefaultPixelSize = 512

// EncodePNG renders url as a QR code and returns PNG-encoded image bytes
// scaled to pixelSize x pixelSize.
func EncodePNG(url string, pixelSize int) ([]byte, error) {
	writer := qrcode.NewQRCodeWriter()
	matrix, err := writer.Encode(url, gozxing.BarcodeFormat_QR_CODE, pixelSize, pixelSize, nil)
	if err != nil {
		return nil, err
	}

	base := matrixToImage(matrix)
	scaled := image.NewGray(image.Rect(0, 0, pixelSize, pixelSize))
	xdraw.NearestNeighbor.Scale(scaled, scaled.Bounds(), base, base.Bounds(), xdraw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func matrixToImage(matrix *gozxing.BitMatrix) image.Image {
	w, h := matrix.GetWidth(), matrix.GetHeight()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.Gray{Y: 255}
			if matrix.Get(x, y) {
				c = color.Gray{Y: 0}
			}
			img.Set(x, y, c)
		}
	}
	return img
}
