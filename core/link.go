package core

import (
	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"
)

// QRSize is the default side, in pixels, of magic link QR codes.
const QRSize = 256

// LinkQRCode renders link as a PNG QR code of size x size pixels.
func LinkQRCode(link string, size int) ([]byte, error) {
	if size <= 0 {
		size = QRSize
	}
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "encoding QR code")
	}
	return png, nil
}
