package pairing

import (
	"encoding/json"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// QREncoder turns a pairing payload into a scannable image. Pure function
// over the payload; the issuer does not care how pixels are produced.
type QREncoder interface {
	Encode(payload string) ([]byte, error)
}

// PNGEncoder renders QR codes as PNG images
type PNGEncoder struct {
	Size int
}

// NewPNGEncoder creates a PNG QR encoder with a sensible default size
func NewPNGEncoder() *PNGEncoder {
	return &PNGEncoder{Size: 256}
}

// Encode renders the payload as a PNG QR code
func (e *PNGEncoder) Encode(payload string) ([]byte, error) {
	return qrcode.Encode(payload, qrcode.Medium, e.Size)
}

// qrPayload is what the mobile app scans instead of typing the code
type qrPayload struct {
	Version   int       `json:"v"`
	Code      string    `json:"code"`
	Server    string    `json:"server,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func buildQRPayload(code, server string, expiresAt time.Time) string {
	data, _ := json.Marshal(qrPayload{
		Version:   1,
		Code:      code,
		Server:    server,
		ExpiresAt: expiresAt,
	})
	return string(data)
}
