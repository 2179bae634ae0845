// Package credential seals ticket claims into the opaque string printed on a
// ticket's QR code and opens them again at the gate.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"

	"ticketing-core/internal/apperr"
)

var ErrMalformed = apperr.Invalid("malformed_credential", "credential cannot be decoded")

// Claims are the fields bound into a credential.
type Claims struct {
	TicketID string    `json:"tid"`
	OrderID  string    `json:"oid"`
	EventID  string    `json:"eid"`
	HolderID string    `json:"hid"`
	IssuedAt time.Time `json:"iat"`
}

type Codec struct {
	aead   cipher.AEAD
	qrSize int
}

func NewCodec(secret string, qrSize int) (*Codec, error) {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(hashed[:])
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	if qrSize <= 0 {
		qrSize = 256
	}
	return &Codec{aead: aead, qrSize: qrSize}, nil
}

// Encode seals claims under a fresh nonce, so re-encoding the same claims
// never yields the same credential twice.
func (c *Codec) Encode(claims Claims) (string, error) {
	data, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(data)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("credential nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, data, nil)

	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *Codec) Decode(credential string) (Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(credential)
	if err != nil {
		return Claims{}, apperr.Wrap(ErrMalformed, err)
	}
	if len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return Claims{}, ErrMalformed
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	data, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return Claims{}, apperr.Wrap(ErrMalformed, err)
	}

	var claims Claims
	if err := json.Unmarshal(data, &claims); err != nil {
		return Claims{}, apperr.Wrap(ErrMalformed, err)
	}
	if claims.TicketID == "" {
		return Claims{}, ErrMalformed
	}
	return claims, nil
}

// QR renders a credential as a PNG QR code.
func (c *Codec) QR(credential string) ([]byte, error) {
	return qrcode.Encode(credential, qrcode.Medium, c.qrSize)
}
