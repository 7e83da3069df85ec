// Package certs provisions the self-signed certificate used by serve --tls.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	certFileName = "server.crt"
	keyFileName  = "server.key"
)

// DefaultValidity is how long a generated certificate stays valid.
const DefaultValidity = 365 * 24 * time.Hour

// FileManager keeps a certificate and key pair in a directory, generating a
// fresh pair when none exists or the stored one no longer fits.
type FileManager struct {
	now      func() time.Time
	dir      string
	hosts    []string
	validity time.Duration
}

// Option configures a FileManager.
type Option func(*FileManager)

// WithHosts sets the DNS names and IPs the certificate must cover.
func WithHosts(hosts ...string) Option {
	return func(m *FileManager) {
		if len(hosts) > 0 {
			m.hosts = hosts
		}
	}
}

// WithValidity sets the lifetime of generated certificates.
func WithValidity(d time.Duration) Option {
	return func(m *FileManager) {
		if d > 0 {
			m.validity = d
		}
	}
}

// NewFileManager creates a FileManager storing its pair under dir.
func NewFileManager(dir string, opts ...Option) *FileManager {
	m := &FileManager{
		dir:      dir,
		hosts:    []string{"localhost", "127.0.0.1", "::1"},
		validity: DefaultValidity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CertFile returns the path of the PEM certificate.
func (m *FileManager) CertFile() string {
	return filepath.Join(m.dir, certFileName)
}

// KeyFile returns the path of the PEM private key.
func (m *FileManager) KeyFile() string {
	return filepath.Join(m.dir, keyFileName)
}

// Certificate loads the stored pair, regenerating it when missing, expired
// or not valid for every configured host.
func (m *FileManager) Certificate() (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(m.CertFile(), m.KeyFile())
	switch {
	case err == nil:
		verr := m.verify(cert)
		if verr == nil {
			return cert, nil
		}
		slog.Info("Regenerating TLS certificate", "reason", verr, "dir", m.dir)
	case errors.Is(err, os.ErrNotExist):
		slog.Info("Generating TLS certificate", "dir", m.dir)
	default:
		slog.Warn("Stored TLS certificate unreadable, regenerating", "error", err, "dir", m.dir)
	}
	return m.generate()
}

// TLSConfig returns a server configuration presenting Certificate.
func (m *FileManager) TLSConfig() (*tls.Config, error) {
	cert, err := m.Certificate()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (m *FileManager) generate() (tls.Certificate, error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate directory: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := m.now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"margin-intel"}, CommonName: m.hosts[0]},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(m.validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range m.hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to marshal private key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(m.CertFile(), certPEM, 0o600); err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(m.KeyFile(), keyPEM, 0o600); err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to write private key: %w", err)
	}

	return tls.X509KeyPair(certPEM, keyPEM)
}

// verify reports why a stored certificate cannot be reused.
func (m *FileManager) verify(cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return errors.New("no certificate in file")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	now := m.now()
	if now.Before(leaf.NotBefore) {
		return errors.New("certificate not yet valid")
	}
	if now.After(leaf.NotAfter) {
		return errors.New("certificate has expired")
	}
	for _, h := range m.hosts {
		if err := leaf.VerifyHostname(h); err != nil {
			return fmt.Errorf("certificate does not cover %s: %w", h, err)
		}
	}
	return nil
}
