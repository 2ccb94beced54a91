package security

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/pkcs12"
)

// Signer produces a signature over a digest of document bytes.
type Signer interface {
	// Sign signs the SHA-256 digest and returns the signature bytes.
	Sign(digest []byte) ([]byte, error)
	// Certificate returns the signing certificate.
	Certificate() *x509.Certificate
}

// RSASigner signs with an RSA key using PKCS#1 v1.5 over SHA-256.
type RSASigner struct {
	priv *rsa.PrivateKey
	cert *x509.Certificate
}

func NewRSASigner(priv *rsa.PrivateKey, cert *x509.Certificate) *RSASigner {
	return &RSASigner{priv: priv, cert: cert}
}

// LoadPKCS12 opens a .p12/.pfx keystore and returns a signer for the
// RSA key inside it.
func LoadPKCS12(data []byte, password string) (*RSASigner, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("security: decode pkcs12: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("security: pkcs12 key is not RSA")
	}
	return &RSASigner{priv: rsaKey, cert: cert}, nil
}

// LoadPEM builds a signer from a PEM-encoded private key and
// certificate. PKCS#1 and PKCS#8 key encodings are both accepted.
func LoadPEM(keyPEM, certPEM []byte) (*RSASigner, error) {
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, errors.New("security: no PEM block in key data")
	}
	var key *rsa.PrivateKey
	if k, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes); err == nil {
		key = k
	} else {
		k, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("security: parse private key: %w", err)
		}
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("security: PEM key is not RSA")
		}
		key = rsaKey
	}
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, errors.New("security: no PEM block in certificate data")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("security: parse certificate: %w", err)
	}
	return &RSASigner{priv: key, cert: cert}, nil
}

func (s *RSASigner) Sign(digest []byte) ([]byte, error) {
	if len(digest) != sha256.Size {
		return nil, errors.New("security: digest must be SHA-256")
	}
	return rsa.SignPKCS1v15(nil, s.priv, crypto.SHA256, digest)
}

func (s *RSASigner) Certificate() *x509.Certificate { return s.cert }

// SignatureSize returns the byte length of signatures produced with the
// certificate's RSA key.
func SignatureSize(certDER []byte) (int, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return 0, fmt.Errorf("security: parse certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return 0, errors.New("security: certificate key is not RSA")
	}
	return pub.Size(), nil
}

// CertificateCommonName extracts the subject CN from a DER certificate.
func CertificateCommonName(certDER []byte) (string, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return "", err
	}
	return cert.Subject.CommonName, nil
}

// VerifySignature checks sig against digest using the public key of the
// DER-encoded certificate.
func VerifySignature(certDER, digest, sig []byte) error {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("security: parse certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("security: certificate key is not RSA")
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, sig); err != nil {
		return fmt.Errorf("security: signature mismatch: %w", err)
	}
	return nil
}
