package credential_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketing-core/internal/tickets/credential"
)

func newCodec(t *testing.T, secret string) *credential.Codec {
	c, err := credential.NewCodec(secret, 128)
	require.NoError(t, err)
	return c
}

func sampleClaims() credential.Claims {
	return credential.Claims{
		TicketID: "ticket-1",
		OrderID:  "order-1",
		EventID:  "event-1",
		HolderID: "user-1",
		IssuedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEncodeDecode(t *testing.T) {
	c := newCodec(t, "test-secret-key")

	cred, err := c.Encode(sampleClaims())
	require.NoError(t, err)

	got, err := c.Decode(cred)
	require.NoError(t, err)
	assert.Equal(t, sampleClaims().TicketID, got.TicketID)
	assert.Equal(t, sampleClaims().HolderID, got.HolderID)
	assert.True(t, sampleClaims().IssuedAt.Equal(got.IssuedAt))
}

func TestEncodeIsNonDeterministic(t *testing.T) {
	c := newCodec(t, "test-secret-key")

	a, err := c.Encode(sampleClaims())
	require.NoError(t, err)
	b, err := c.Encode(sampleClaims())
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := newCodec(t, "test-secret-key")

	for _, in := range []string{"", "not base64 !!", "c2hvcnQ"} {
		_, err := c.Decode(in)
		assert.ErrorIs(t, err, credential.ErrMalformed, in)
	}
}

func TestDecodeRejectsOtherSecret(t *testing.T) {
	cred, err := newCodec(t, "secret-a").Encode(sampleClaims())
	require.NoError(t, err)

	_, err = newCodec(t, "secret-b").Decode(cred)
	assert.ErrorIs(t, err, credential.ErrMalformed)
}

func TestQRIsPNG(t *testing.T) {
	c := newCodec(t, "test-secret-key")
	cred, err := c.Encode(sampleClaims())
	require.NoError(t, err)

	png, err := c.QR(cred)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}
