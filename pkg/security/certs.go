package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	certFile = "cert.pem"
	keyFile  = "key.pem"

	// Agent certificate validity: 10 years. The agent is reinstalled far
	// more often than that.
	certValidity = 10 * 365 * 24 * time.Hour

	keySize = 2048
)

// CertPaths returns the cert.pem and key.pem paths under dir.
func CertPaths(dir string) (certPath, keyPath string) {
	return filepath.Join(dir, certFile), filepath.Join(dir, keyFile)
}

// EnsureCertificate loads the agent's TLS certificate from dir, generating
// and persisting a self-signed one when either PEM file is missing. The
// files are on disk before this returns, so the HTTPS listener and the
// orchestrator registration can both rely on them.
func EnsureCertificate(dir, hostname string, extraIPs []net.IP) (*tls.Certificate, error) {
	certPath, keyPath := CertPaths(dir)

	if fileExists(certPath) && fileExists(keyPath) {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		return &cert, nil
	}

	cert, err := generateSelfSigned(hostname, extraIPs)
	if err != nil {
		return nil, err
	}
	if err := saveCertificate(cert, certPath, keyPath); err != nil {
		return nil, err
	}
	return cert, nil
}

// generateSelfSigned creates a self-signed server certificate with the
// hostname as common name and SANs covering the hostname, loopback and any
// externally observed addresses.
func generateSelfSigned(hostname string, extraIPs []net.IP) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	ips := append([]net.IP{net.IPv4(127, 0, 0, 1)}, extraIPs...)

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"SiegeUp Host Agent"},
			CommonName:   hostname,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(certValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{hostname},
		IPAddresses: ips,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// saveCertificate writes the PEM pair with owner-only permissions.
func saveCertificate(cert *tls.Certificate, certPath, keyPath string) error {
	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Certificate[0],
	})
	if err := os.WriteFile(certPath, certPEM, 0600); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}

	key, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("private key is not RSA")
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	return nil
}

// OutboundIP returns the host's externally observed IPv4 by preparing a UDP
// socket toward a public address. No packet is sent.
func OutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("failed to detect outbound address: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
