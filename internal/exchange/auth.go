package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Auth signs trading requests with the venue's HMAC-SHA256 scheme.
// message = timestamp + method + requestPath [+ body], secret is
// base64-encoded (tried against every common variant of the alphabet).
type Auth struct {
	apiKey string
	secret string
}

// NewAuth creates an Auth from a venue API key/secret pair.
func NewAuth(apiKey, secret string) *Auth {
	return &Auth{apiKey: apiKey, secret: secret}
}

// HasCredentials reports whether both halves of the credential pair are set.
func (a *Auth) HasCredentials() bool {
	return a.apiKey != "" && a.secret != ""
}

// Headers generates the signed headers for an authenticated request.
func (a *Auth) Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig, err := a.sign(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return map[string]string{
		"PT-API-KEY":   a.apiKey,
		"PT-SIGNATURE": sig,
		"PT-TIMESTAMP": timestamp,
	}, nil
}

func (a *Auth) sign(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(a.secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path + body

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
