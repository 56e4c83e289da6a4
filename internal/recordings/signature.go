package recordings

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
)

var (
	errMissingSignature = errors.New("missing signature header")
	errMissingTimestamp = errors.New("missing timestamp header")
	errSignatureLength  = errors.New("signature length mismatch")
	errSignatureInvalid = errors.New("signature mismatch")
)

// Sign returns base64(hmac_sha256(secret, timestamp + "." + body)).
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// signatureHeaders reads the signature pair, preferring x-webhook-* over x-daily-*.
func signatureHeaders(h http.Header) (sig, ts string) {
	sig = h.Get("X-Webhook-Signature")
	if sig == "" {
		sig = h.Get("X-Daily-Signature")
	}
	ts = h.Get("X-Webhook-Timestamp")
	if ts == "" {
		ts = h.Get("X-Daily-Timestamp")
	}
	return sig, ts
}

// Verify checks a delivery signature. An empty secret accepts everything.
func Verify(secret, signature, timestamp string, body []byte) error {
	if secret == "" {
		return nil
	}
	if signature == "" {
		return errMissingSignature
	}
	if timestamp == "" {
		return errMissingTimestamp
	}
	expected := Sign(secret, timestamp, body)
	if len(signature) != len(expected) {
		return errSignatureLength
	}
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return errSignatureInvalid
	}
	return nil
}
