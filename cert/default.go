package cert

import (
	_ "embed"
	"fmt"
	"sync"
)

var (
	//go:embed default/cert.pem
	defaultCertPEM []byte
	//go:embed default/key.pem
	defaultKeyPEM []byte
)

var (
	defaultOnce     sync.Once
	defaultMaterial *Material
	defaultErr      error
)

// Default returns the built-in self-signed material for dns.example.com.
// It is parsed once per process and must not be modified.
func Default() (*Material, error) {
	defaultOnce.Do(func() {
		chain, err := parseChain(defaultCertPEM)
		if err != nil {
			defaultErr = fmt.Errorf("default certificate: %w", err)
			return
		}
		key, signer, err := parseKey(defaultKeyPEM)
		if err != nil {
			defaultErr = fmt.Errorf("default private key: %w", err)
			return
		}
		defaultMaterial = &Material{
			Chain:  chain,
			Key:    key,
			signer: signer,
		}
	})
	return defaultMaterial, defaultErr
}
