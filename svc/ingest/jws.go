package ingest

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PayloadVerifier checks a compact JWS and decodes its payload into claims.
type PayloadVerifier interface {
	Verify(signed string, claims jwt.Claims) error
}

// X5CVerifier verifies App Store signed payloads: the certificate chain in
// the x5c header must lead to one of the trusted roots, and the leaf key
// must have produced the ES256 signature.
type X5CVerifier struct {
	roots *x509.CertPool
	now   func() time.Time
}

func NewX5CVerifier(roots *x509.CertPool) *X5CVerifier {
	return &X5CVerifier{roots: roots, now: time.Now}
}

// WithClock sets the time at which certificate validity is checked.
func (v *X5CVerifier) WithClock(now func() time.Time) *X5CVerifier {
	v.now = now
	return v
}

func (v *X5CVerifier) Verify(signed string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(signed, claims, v.keyFunc); err != nil {
		return errors.Join(ErrVerification, err)
	}
	return nil
}

func (v *X5CVerifier) keyFunc(t *jwt.Token) (any, error) {
	chain, ok := t.Header["x5c"].([]any)
	if !ok || len(chain) == 0 {
		return nil, errors.New("missing x5c certificate chain")
	}

	certs := make([]*x509.Certificate, 0, len(chain))
	for i, item := range chain {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("x5c[%d] is not a string", i)
		}
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d]: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d]: %w", i, err)
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}
	_, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, err
	}

	key, ok := certs[0].PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("leaf certificate key is not ECDSA")
	}
	return key, nil
}

// UnverifiedDecoder decodes payloads without checking signatures. Only for
// local development against sandbox notifications.
type UnverifiedDecoder struct{}

func (UnverifiedDecoder) Verify(signed string, claims jwt.Claims) error {
	if _, _, err := jwt.NewParser().ParseUnverified(signed, claims); err != nil {
		return errors.Join(ErrMalformed, err)
	}
	return nil
}

// LoadRoots reads PEM or DER certificates from path into a pool.
func LoadRoots(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read root certificates: %w", err)
	}
	pool := x509.NewCertPool()
	if pool.AppendCertsFromPEM(data) {
		return pool, nil
	}
	if block, _ := pem.Decode(data); block == nil {
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			return nil, fmt.Errorf("parse root certificate: %w", err)
		}
		pool.AddCert(cert)
		return pool, nil
	}
	return nil, errors.New("no certificates found in " + path)
}
