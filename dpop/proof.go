package dpop

import (
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// HeaderName carries the proof on requests.
	HeaderName = "DPoP"
	// NonceHeaderName is how a server hands out the nonce it wants in later proofs.
	NonceHeaderName = "DPoP-Nonce"
	proofType       = "dpop+jwt"
)

type proofOptions struct {
	nonce string
	now   time.Time
}

type ProofOption func(*proofOptions)

func WithNonce(nonce string) ProofOption {
	return func(o *proofOptions) { o.nonce = nonce }
}

func WithNowTime(now time.Time) ProofOption {
	return func(o *proofOptions) { o.now = now }
}

// Proof signs a DPoP proof for one request. When accessToken is set the proof is bound
// to it through the ath claim.
func (kp *KeyPair) Proof(method, rawURL, accessToken string, opts ...ProofOption) (string, error) {
	o := proofOptions{now: time.Now()}
	for _, opt := range opts {
		opt(&o)
	}

	htu, err := TargetURI(rawURL)
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{
		"htm": method,
		"htu": htu,
		"iat": o.now.Unix(),
		"jti": uuid.NewString(),
	}
	if accessToken != "" {
		sum := sha256.Sum256([]byte(accessToken))
		claims["ath"] = base64.RawURLEncoding.EncodeToString(sum[:])
	}
	if o.nonce != "" {
		claims["nonce"] = o.nonce
	}

	token := jwt.NewWithClaims(kp.GetSigningMethod(), claims)
	token.Header["typ"] = proofType
	jwk := kp.ToJWK()
	token.Header["jwk"] = jwk.Public()

	signed, err := token.SignedString(kp.PrivateKey)
	if err != nil {
		return "", errors.Wrap(err, "[KeyPair.Proof] failed to sign proof")
	}
	return signed, nil
}

// TargetURI is the htu value for rawURL: the URL without query and fragment.
func TargetURI(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "[TargetURI] invalid url %q", rawURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
