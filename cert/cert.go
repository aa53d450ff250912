// Package cert loads the certificate chain and private key served by the
// TLS based listeners. Key and chain are resolved independently: a custom
// file wins when configured, otherwise the embedded default is used.
package cert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Material is a resolved certificate chain and private key, both DER encoded.
type Material struct {
	Chain [][]byte
	Key   []byte

	signer crypto.PrivateKey
}

// LoadError reports a custom key or certificate file that could not be used.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s failed: %s", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Resolve returns the material for one listener. Relative paths are joined
// to baseDir. An empty path selects the embedded default for that half; a
// configured path that cannot be read or parsed is an error, never a
// fallback.
func Resolve(keyPath string, certPath string, baseDir string) (*Material, error) {
	d, err := Default()
	if err != nil {
		return nil, err
	}
	m := &Material{
		Chain:  d.Chain,
		Key:    d.Key,
		signer: d.signer,
	}
	if keyPath != "" {
		p := resolvePath(keyPath, baseDir)
		der, signer, err := loadKey(p)
		if err != nil {
			return nil, &LoadError{Path: p, Err: err}
		}
		m.Key, m.signer = der, signer
	}
	if certPath != "" {
		p := resolvePath(certPath, baseDir)
		chain, err := loadChain(p)
		if err != nil {
			return nil, &LoadError{Path: p, Err: err}
		}
		m.Chain = chain
	}
	return m, nil
}

// TLSCertificate builds the value placed in tls.Config.Certificates.
func (m *Material) TLSCertificate() tls.Certificate {
	chain := make([][]byte, len(m.Chain))
	copy(chain, m.Chain)
	c := tls.Certificate{
		Certificate: chain,
		PrivateKey:  m.signer,
	}
	if leaf, err := x509.ParseCertificate(chain[0]); err == nil {
		c.Leaf = leaf
	}
	return c
}

func resolvePath(path string, baseDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func loadKey(path string) ([]byte, crypto.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return parseKey(raw)
}

func loadChain(path string) ([][]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseChain(raw)
}

func parseChain(raw []byte) ([][]byte, error) {
	var chain [][]byte
	for {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		chain = append(chain, block.Bytes)
	}
	if len(chain) == 0 {
		return nil, errors.New("no certificate found")
	}
	return chain, nil
}

func parseKey(raw []byte) ([]byte, crypto.PrivateKey, error) {
	for {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			return nil, nil, errors.New("no private key found")
		}
		var (
			key any
			err error
		)
		switch block.Type {
		case "PRIVATE KEY":
			key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		case "RSA PRIVATE KEY":
			key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		case "EC PRIVATE KEY":
			key, err = x509.ParseECPrivateKey(block.Bytes)
		default:
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", block.Type, err)
		}
		switch key.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey, ed25519.PrivateKey:
			return block.Bytes, key, nil
		default:
			return nil, nil, fmt.Errorf("unsupported private key type: %T", key)
		}
	}
}
