package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	certFile = "dev.crt"
	keyFile  = "dev.key"

	validity = 30 * 24 * time.Hour
)

// Assets points at a development certificate and its key.
type Assets struct {
	CertPath  string
	KeyPath   string
	Hosts     []string
	Generated bool
}

// DevHosts returns the names a development certificate must cover: the
// given hosts plus localhost and loopback addresses. Wildcard bind
// addresses are dropped.
func DevHosts(hosts ...string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, h := range append(hosts, "localhost", "127.0.0.1", "::1") {
		h = strings.TrimSpace(h)
		if h == "" || h == "0.0.0.0" || h == "::" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// LoadOrGenerate reuses dir/dev.crt and dir/dev.key when they are present,
// unexpired and valid for every host. Otherwise it writes a new self-signed
// certificate. Generation is guarded by a lock file so concurrent starts
// in the same project do not clobber each other.
func LoadOrGenerate(dir string, hosts []string) (*Assets, error) {
	certPath := filepath.Join(dir, certFile)
	keyPath := filepath.Join(dir, keyFile)

	if ok, err := usable(certPath, keyPath, hosts); err != nil {
		return nil, err
	} else if ok {
		return &Assets{CertPath: certPath, KeyPath: keyPath, Hosts: hosts}, nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cert directory: %w", err)
	}
	unlock, err := acquireLock(dir)
	if err != nil {
		return nil, fmt.Errorf("acquiring cert generation lock: %w", err)
	}
	defer unlock()

	// Re-check after acquiring the lock; another process may have won.
	if ok, err := usable(certPath, keyPath, hosts); err != nil {
		return nil, err
	} else if ok {
		return &Assets{CertPath: certPath, KeyPath: keyPath, Hosts: hosts}, nil
	}

	return GenerateSelfSigned(dir, hosts)
}

// GenerateSelfSigned writes a new ECDSA P-256 certificate for hosts.
func GenerateSelfSigned(dir string, hosts []string) (*Assets, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "devserver",
			Organization: []string{"devserver development certificate"},
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}

	certPath := filepath.Join(dir, certFile)
	keyPath := filepath.Join(dir, keyFile)
	// Key first: a readable certificate implies its key is complete.
	if err := writeKeyFile(keyPath, key); err != nil {
		return nil, fmt.Errorf("writing key: %w", err)
	}
	if err := writePEMFile(certPath, "CERTIFICATE", der); err != nil {
		return nil, fmt.Errorf("writing certificate: %w", err)
	}
	return &Assets{CertPath: certPath, KeyPath: keyPath, Hosts: hosts, Generated: true}, nil
}

// TLSConfig builds a server config serving the development certificate.
func TLSConfig(a *Assets) (*tls.Config, error) {
	pair, err := tls.LoadX509KeyPair(a.CertPath, a.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{pair},
	}, nil
}

// usable reports whether the cert at certPath exists alongside its key,
// has not expired and verifies for every host.
func usable(certPath, keyPath string, hosts []string) (bool, error) {
	for _, p := range []string{certPath, keyPath} {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, fmt.Errorf("checking %s: %w", p, err)
		}
	}
	cert, err := readCert(certPath)
	if err != nil {
		// A corrupt cert is replaced rather than treated as fatal.
		return false, nil
	}
	if time.Now().After(cert.NotAfter) {
		return false, nil
	}
	for _, h := range hosts {
		if err := cert.VerifyHostname(h); err != nil {
			return false, nil
		}
	}
	return true, nil
}

const staleLockAge = 5 * time.Minute

// acquireLock creates an exclusive lock file in dir and returns its unlock
// function. Lock files older than staleLockAge are removed as abandoned.
func acquireLock(dir string) (func(), error) {
	lockPath := filepath.Join(dir, ".lock")
	for i := 0; i < 10; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > staleLockAge {
				os.Remove(lockPath)
				continue
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("could not acquire cert generation lock at %s after 5s", lockPath)
}

func readCert(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cert file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM data in %s", path)
	}
	return x509.ParseCertificate(block.Bytes)
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}
	return serial, nil
}

func writePEMFile(path, blockType string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: data})
}

func writeKeyFile(path string, key *ecdsa.PrivateKey) error {
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshaling EC private key: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
}
