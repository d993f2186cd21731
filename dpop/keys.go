package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ES256 is the only proof algorithm this client signs with.
const ES256 = "ES256"

// KeyPair is the key a DPoP-bound access token is tied to. It lives as long as the session.
type KeyPair struct {
	KeyID      string
	PrivateKey *ecdsa.PrivateKey
	Algorithm  string
}

// GenerateKeyPair generates a new P-256 key pair for ES256 proofs
func GenerateKeyPair() (*KeyPair, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate EC key: %w", err)
	}
	return &KeyPair{
		KeyID:      uuid.NewString(),
		PrivateKey: privateKey,
		Algorithm:  ES256,
	}, nil
}

func (kp *KeyPair) PublicKey() crypto.PublicKey {
	return &kp.PrivateKey.PublicKey
}

// GetSigningMethod returns the JWT signing method for this key pair
func (kp *KeyPair) GetSigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodES256
}

// ToJWK converts the key pair's public key to JWK format
func (kp *KeyPair) ToJWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       kp.PublicKey(),
		KeyID:     kp.KeyID,
		Algorithm: kp.Algorithm,
		Use:       "sig",
	}
}

// Thumbprint is the RFC 7638 SHA-256 thumbprint of the public key, base64url encoded.
// Identity providers put it in the access token's cnf.jkt claim.
func (kp *KeyPair) Thumbprint() (string, error) {
	jwk := kp.ToJWK()
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}
