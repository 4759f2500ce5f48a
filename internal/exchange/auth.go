package exchange

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Header names Kalshi expects on authenticated requests.
const (
	HeaderAccessKey       = "KALSHI-ACCESS-KEY"
	HeaderAccessSignature = "KALSHI-ACCESS-SIGNATURE"
	HeaderAccessTimestamp = "KALSHI-ACCESS-TIMESTAMP"
)

// ErrNoCredentials is returned by calls that need a signer when none is set.
var ErrNoCredentials = errors.New("kalshi credentials not configured")

// Signer produces Kalshi API-key headers. Each request is signed with
// RSA-PSS (SHA-256, salt length = digest length) over
// "timestamp_ms + METHOD + path", where path includes the /trade-api/v2
// prefix and excludes the query string.
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

// NewSigner creates a signer for an already parsed key.
func NewSigner(keyID string, key *rsa.PrivateKey) *Signer {
	return &Signer{keyID: keyID, key: key, now: time.Now}
}

// LoadSigner reads a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
func LoadSigner(keyID, path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyID, key), nil
}

// ParsePrivateKey decodes the first PEM block in data.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("parse private key: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("parse private key: want RSA, got %T", parsed)
	}
	return key, nil
}

// KeyID returns the API key id sent in KALSHI-ACCESS-KEY.
func (s *Signer) KeyID() string { return s.keyID }

// Headers signs method and path at the current time.
func (s *Signer) Headers(method, path string) (map[string]string, error) {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	sig, err := s.sign(ts + method + path)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAccessKey:       s.keyID,
		HeaderAccessSignature: sig,
		HeaderAccessTimestamp: ts,
	}, nil
}

func (s *Signer) sign(msg string) (string, error) {
	digest := sha256.Sum256([]byte(msg))
	raw, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
