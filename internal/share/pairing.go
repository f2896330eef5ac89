package share

import (
	"fmt"

	"github.com/google/uuid"
)

// PairingLink is a one-time workspace share URL plus its QR encoding.
type PairingLink struct {
	Token string
	URL   string
	PNG   []byte
}

// NewPairingLink mints a fresh token, builds the share URL against
// baseURL, and renders its QR code.
func NewPairingLink(baseURL, workspaceID string) (*PairingLink, error) {
	token := uuid.NewString()
	url := fmt.Sprintf("%s/pair/%s?token=%s", baseURL, workspaceID, token)

	png, err := EncodePNG(url, DefaultPixelSize)
	if err != nil {
		return nil, err
	}
	return &PairingLink{Token: token, URL: url, PNG: png}, nil
}
