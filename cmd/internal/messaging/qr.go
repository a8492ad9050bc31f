package messaging

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

// QRDataURL renders a pairing payload as a PNG data URL for browsers.
func QRDataURL(payload string) (string, error) {
	if payload == "" {
		return "", ErrInvalidInput
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, qrSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
