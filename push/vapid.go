package push

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ParsePrivateKey reads a VAPID private key. It accepts the raw 32-byte
// scalar in base64url (the format most tooling prints), base64 DER, or PEM.
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("vapid private key is empty")
	}

	if strings.HasPrefix(s, "-----BEGIN") {
		block, _ := pem.Decode([]byte(s))
		if block == nil {
			return nil, errors.New("vapid private key: invalid PEM")
		}
		return parseDER(block.Bytes)
	}

	raw, err := decodeBase64(s)
	if err != nil {
		return nil, fmt.Errorf("vapid private key: %w", err)
	}
	if len(raw) == 32 {
		return fromScalar(raw)
	}
	return parseDER(raw)
}

// fromScalar converts a raw P-256 scalar by round-tripping it through PKCS#8,
// which validates the scalar and yields an ECDSA key.
func fromScalar(raw []byte) (*ecdsa.PrivateKey, error) {
	ecdhKey, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("vapid private key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(ecdhKey)
	if err != nil {
		return nil, fmt.Errorf("vapid private key: %w", err)
	}
	return parseDER(der)
}

func parseDER(der []byte) (*ecdsa.PrivateKey, error) {
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		if key.Curve != elliptic.P256() {
			return nil, errors.New("vapid private key must be a P-256 ECDSA key")
		}
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("vapid private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, errors.New("vapid private key must be a P-256 ECDSA key")
	}
	return key, nil
}

// GenerateKeys creates a VAPID key pair, both base64url encoded without
// padding. The public key is the uncompressed point browsers expect as
// applicationServerKey.
func GenerateKeys() (privateKey, publicKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	return privateKey, publicKey, nil
}

// PublicKey returns the base64url uncompressed public key for key.
func PublicKey(key *ecdsa.PrivateKey) (string, error) {
	ecdhKey, err := key.ECDH()
	if err != nil {
		return "", fmt.Errorf("convert key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(ecdhKey.PublicKey().Bytes()), nil
}

// rawPrivateKey returns the base64url 32-byte scalar of key.
func rawPrivateKey(key *ecdsa.PrivateKey) (string, error) {
	ecdhKey, err := key.ECDH()
	if err != nil {
		return "", fmt.Errorf("convert key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(ecdhKey.Bytes()), nil
}

// decodeBase64 accepts url or standard alphabets, with or without padding.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
