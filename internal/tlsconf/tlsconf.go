// Package tlsconf derives deterministic TLS credentials from the mesh's
// security key, used to optionally wrap the WebSocket broker's listener.
//
// The private key is derived deterministically via HKDF so every node with
// the same security key produces the same keypair. The certificate is
// generated with crypto/rand (not deterministic), so the client config's
// VerifyPeerCertificate checks the server's public key directly rather than
// pinning the certificate itself. The server config does not request or
// verify client certificates.
//
// For a client dialing with the returned client config:
// Same key → public keys match → handshake succeeds, traffic encrypted.
// Different keys → public keys differ → handshake fails closed.
// No certificate distribution, no CA, no PKI.
//
// Key derivation:
//
//	HKDF-SHA256(ikm=securityKey, salt="unimesh-clip-tls-v1", info="private-key")
//	→ 64 bytes → reduced mod curve order → deterministic ECDSA P-256 key
package tlsconf

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"time"

	"golang.org/x/crypto/hkdf"
)

// ServerName is the fixed SNI/CN used on both ends; only the derived public
// key is actually checked, so the name itself carries no trust.
const ServerName = "unimesh-clip"

// ServerConfig returns a *tls.Config suitable for tls.NewListener and the
// matching client *tls.Config for dialing peers, both derived from key.
func ServerConfig(key string) (serverCfg, clientCfg *tls.Config, err error) {
	priv, err := deriveKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("tlsconf: derive key: %w", err)
	}

	certPEM, err := selfSignedCert(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("tlsconf: cert: %w", err)
	}

	keyPEM, err := marshalKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("tlsconf: marshal key: %w", err)
	}

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("tlsconf: key pair: %w", err)
	}

	serverCfg = &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		MinVersion:   tls.VersionTLS13,
	}

	// Derive the expected public key bytes once for the peer verifier.
	expectedPub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("tlsconf: marshal pubkey: %w", err)
	}

	clientCfg = &tls.Config{
		// Skip normal cert chain verification — we verify the public key instead.
		InsecureSkipVerify: true, //nolint:gosec
		ServerName:         ServerName,
		MinVersion:         tls.VersionTLS13,
		// VerifyPeerCertificate checks that the peer's public key matches the
		// key derived from our security key. A different security key yields
		// a different key and the connection is rejected.
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("tlsconf: peer presented no certificate")
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("tlsconf: parse peer cert: %w", err)
			}
			pub, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
			if err != nil {
				return fmt.Errorf("tlsconf: marshal peer pubkey: %w", err)
			}
			if !bytes.Equal(pub, expectedPub) {
				return fmt.Errorf("tlsconf: peer public key does not match security key")
			}
			return nil
		},
	}

	return serverCfg, clientCfg, nil
}

// deriveKey derives a deterministic ECDSA P-256 private key from the security key.
func deriveKey(securityKey string) (*ecdsa.PrivateKey, error) {
	r := hkdf.New(sha256.New, []byte(securityKey), []byte("unimesh-clip-tls-v1"), []byte("private-key"))
	buf := make([]byte, 64)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("hkdf read: %w", err)
	}

	curve := elliptic.P256()
	N := curve.Params().N
	k := new(big.Int).SetBytes(buf)
	k.Mod(k, new(big.Int).Sub(N, big.NewInt(1)))
	k.Add(k, big.NewInt(1)) // ensure k ∈ [1, N-1]

	key := new(ecdsa.PrivateKey)
	key.PublicKey.Curve = curve
	key.D = k
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(k.Bytes())
	return key, nil
}

// selfSignedCert generates a self-signed certificate for key using crypto/rand.
// The cert contents don't matter for authentication — only the public key is
// verified by peers.
func selfSignedCert(key *ecdsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: ServerName},
		DNSNames:              []string{ServerName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(100 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), nil
}

func marshalKey(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
