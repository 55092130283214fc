package kalshi

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

const (
	headerKey       = "KALSHI-ACCESS-KEY"
	headerSignature = "KALSHI-ACCESS-SIGNATURE"
	headerTimestamp = "KALSHI-ACCESS-TIMESTAMP"
)

// Signer produces the authentication headers for one request.
type Signer interface {
	Sign(method, path string, at time.Time) (map[string]string, error)
}

// RSASigner signs requests with RSA-PSS over timestamp+method+path.
type RSASigner struct {
	keyID string
	key   *rsa.PrivateKey
}

// NewRSASigner creates a signer for the given API key id and private key.
func NewRSASigner(keyID string, key *rsa.PrivateKey) *RSASigner {
	return &RSASigner{keyID: keyID, key: key}
}

// LoadRSASigner reads a PEM private key (PKCS#1 or PKCS#8) from path.
func LoadRSASigner(keyID, path string) (*RSASigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kalshi.LoadRSASigner: read key: %w", err)
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("kalshi.LoadRSASigner: %w", err)
	}
	return NewRSASigner(keyID, key), nil
}

// ParsePrivateKey decodes a PEM encoded RSA private key.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	k, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return k, nil
}

// Sign implements Signer. The path excludes the query string.
func (s *RSASigner) Sign(method, path string, at time.Time) (map[string]string, error) {
	ts := strconv.FormatInt(at.UnixMilli(), 10)
	digest := sha256.Sum256([]byte(ts + method + path))
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{
		headerKey:       s.keyID,
		headerSignature: base64.StdEncoding.EncodeToString(sig),
		headerTimestamp: ts,
	}, nil
}
