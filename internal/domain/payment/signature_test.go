package payment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSigner_VerifyRoundTrip(t *testing.T) {
	s := NewSigner([]byte("key-secret"), []byte("webhook-secret"))

	sig := s.Sign("order_abc", "pay_xyz")
	assert.True(t, s.Verify("order_abc", "pay_xyz", sig))
}

func TestSigner_VerifyRejectsTampering(t *testing.T) {
	s := NewSigner([]byte("key-secret"), []byte("webhook-secret"))
	sig := s.Sign("order_abc", "pay_xyz")

	// Different payment id.
	assert.False(t, s.Verify("order_abc", "pay_other", sig))
	// Different order id.
	assert.False(t, s.Verify("order_other", "pay_xyz", sig))

	// Single flipped hex digit.
	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	assert.False(t, s.Verify("order_abc", "pay_xyz", string(flipped)))
}

func TestSigner_VerifyMalformedSignature(t *testing.T) {
	s := NewSigner([]byte("key-secret"), []byte("webhook-secret"))

	assert.False(t, s.Verify("order_abc", "pay_xyz", "not-hex!"))
	assert.False(t, s.Verify("order_abc", "pay_xyz", ""))
	// Truncated signature.
	sig := s.Sign("order_abc", "pay_xyz")
	assert.False(t, s.Verify("order_abc", "pay_xyz", sig[:10]))
}

func TestSigner_KeySecretMatters(t *testing.T) {
	a := NewSigner([]byte("secret-a"), nil)
	b := NewSigner([]byte("secret-b"), nil)

	sig := a.Sign("order_abc", "pay_xyz")
	assert.False(t, b.Verify("order_abc", "pay_xyz", sig))
}

func TestSigner_VerifyWebhook(t *testing.T) {
	s := NewSigner([]byte("key-secret"), []byte("webhook-secret"))
	body := []byte(`{"event":"payment.captured"}`)

	sig := signHex([]byte("webhook-secret"), body)
	assert.True(t, s.VerifyWebhook(body, sig))
	assert.False(t, s.VerifyWebhook([]byte(`{"event":"tampered"}`), sig))

	// Webhook and per-payment secrets are independent.
	wrong := signHex([]byte("key-secret"), body)
	assert.False(t, s.VerifyWebhook(body, wrong))
}

func TestSigner_SignIsHexSHA256(t *testing.T) {
	s := NewSigner([]byte("key-secret"), nil)
	sig := s.Sign("order_abc", "pay_xyz")

	assert.Len(t, sig, 64)
	assert.Equal(t, strings.ToLower(sig), sig)
}
