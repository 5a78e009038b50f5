package pairing

import (
	"bytes"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderQRSVG renders the pairing URI for a session as an SVG QR code.
// SVG keeps the payload crisp on any display without a raster dependency
// on the client.
func RenderQRSVG(sess *Session, moduleSize int) ([]byte, error) {
	if moduleSize <= 0 {
		moduleSize = 8
	}
	uri := PairingURI(sess.Code, sess.BaseURL, sess.LocalURL, sess.RemoteURL)

	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode pairing QR: %w", err)
	}
	qr.DisableBorder = false
	grid := qr.Bitmap()

	size := len(grid) * moduleSize
	var buf bytes.Buffer
	fmt.Fprintf(&buf,
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">`,
		size, size, size, size)
	buf.WriteString(`<rect width="100%" height="100%" fill="#ffffff"/>`)
	for y, row := range grid {
		for x, dark := range row {
			if !dark {
				continue
			}
			fmt.Fprintf(&buf, `<rect x="%d" y="%d" width="%d" height="%d" fill="#000000"/>`,
				x*moduleSize, y*moduleSize, moduleSize, moduleSize)
		}
	}
	buf.WriteString(`</svg>`)
	return buf.Bytes(), nil
}
