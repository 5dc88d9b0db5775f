package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Signer verifies the two HMAC-SHA256 signature schemes used by the gateway:
// the per-payment signature over "externalOrderID|externalPaymentID" (key
// secret) and the webhook signature over the raw request body (a separate
// webhook secret).
type Signer struct {
	keySecret     []byte
	webhookSecret []byte
}

// NewSigner creates a Signer with the gateway key secret and webhook secret.
func NewSigner(keySecret, webhookSecret []byte) *Signer {
	return &Signer{
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
	}
}

// Sign computes the hex HMAC-SHA256 of "externalOrderID|externalPaymentID"
// with the key secret.
func (s *Signer) Sign(externalOrderID, externalPaymentID string) string {
	return signHex(s.keySecret, []byte(externalOrderID+"|"+externalPaymentID))
}

// Verify checks a per-payment signature in constant time.
func (s *Signer) Verify(externalOrderID, externalPaymentID, signature string) bool {
	expected := s.Sign(externalOrderID, externalPaymentID)
	return constantTimeEqualHex(expected, signature)
}

// VerifyWebhook checks a webhook signature over the raw request body in
// constant time.
func (s *Signer) VerifyWebhook(body []byte, signature string) bool {
	expected := signHex(s.webhookSecret, body)
	return constantTimeEqualHex(expected, signature)
}

func signHex(secret, msg []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// constantTimeEqualHex compares two hex signatures without leaking timing
// information. Malformed hex input fails closed.
func constantTimeEqualHex(expected, got string) bool {
	eb, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	gb, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	if len(eb) != len(gb) {
		return false
	}
	return subtle.ConstantTimeCompare(eb, gb) == 1
}
