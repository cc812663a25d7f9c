package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the API key pair used to sign private REST requests.
type HMACAuth struct {
	Key    string
	Secret string
}

// Empty reports whether no credentials are configured.
func (h HMACAuth) Empty() bool { return h.Key == "" || h.Secret == "" }

// BybitHeaders returns the headers for a Bybit v5 private request. The
// signature is hex(HMAC-SHA256(secret, timestamp+key+recvWindow+payload)),
// where payload is the query string for GET and the body for POST.
func (h HMACAuth) BybitHeaders(payload string, recvWindow int64) map[string]string {
	return h.BybitHeadersAt(payload, recvWindow, time.Now().UnixMilli())
}

// BybitHeadersAt is like BybitHeaders with a caller-supplied millisecond
// timestamp (useful for deterministic testing).
func (h HMACAuth) BybitHeadersAt(payload string, recvWindow, unixMillis int64) map[string]string {
	ts := strconv.FormatInt(unixMillis, 10)
	rw := strconv.FormatInt(recvWindow, 10)
	sig := hmacHex(sha256Mac, []byte(h.Secret), ts+h.Key+rw+payload)
	return map[string]string{
		"X-BAPI-API-KEY":     h.Key,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": rw,
		"X-BAPI-SIGN":        sig,
	}
}

// GateHeaders returns the headers for a Gate.io v4 private request. The
// signed string is METHOD\npath\nquery\nhex(SHA512(body))\ntimestamp and the
// signature is hex(HMAC-SHA512(secret, signed)).
func (h HMACAuth) GateHeaders(method, path, query, body string) map[string]string {
	return h.GateHeadersAt(method, path, query, body, time.Now().Unix())
}

// GateHeadersAt is like GateHeaders with a caller-supplied Unix timestamp.
func (h HMACAuth) GateHeadersAt(method, path, query, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	bodyHash := sha512.Sum512([]byte(body))
	signed := method + "\n" + path + "\n" + query + "\n" + hex.EncodeToString(bodyHash[:]) + "\n" + ts
	return map[string]string{
		"KEY":       h.Key,
		"Timestamp": ts,
		"SIGN":      hmacHex(sha512Mac, []byte(h.Secret), signed),
	}
}

// KrakenSign computes the API-Sign header for a Kraken private request:
// base64(HMAC-SHA512(base64decode(secret), path + SHA256(nonce + postData))).
func (h HMACAuth) KrakenSign(path, nonce, postData string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		return "", fmt.Errorf("crypto: kraken secret is not base64: %w", err)
	}
	digest := sha256.Sum256([]byte(nonce + postData))

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// KrakenNonce returns a strictly increasing nonce derived from the clock.
func KrakenNonce() string {
	return strconv.FormatInt(time.Now().UnixNano()/int64(time.Microsecond), 10)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

type macKind int

const (
	sha256Mac macKind = iota
	sha512Mac
)

// hmacHex computes an HMAC of message using key and returns it hex-encoded.
func hmacHex(kind macKind, key []byte, message string) string {
	var mac = hmac.New(sha256.New, key)
	if kind == sha512Mac {
		mac = hmac.New(sha512.New, key)
	}
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
