// Package signer resolves the opaque key references carried in queue
// commands into signing keys. Raw hex keys are still accepted for
// compatibility with older producers; the reference form is the seam for a
// KMS-backed implementation.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// EnvRefPrefix marks a key reference resolved from the process environment.
const EnvRefPrefix = "env:"

// Resolver resolves a key reference into a signing key.
type Resolver interface {
	Resolve(ref string) (*ecdsa.PrivateKey, error)
}

// EnvResolver resolves "env:NAME" references against environment variables
// and falls back to treating the reference as a raw hex-encoded key.
type EnvResolver struct{}

// NewEnvResolver creates an environment-backed key resolver.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

// Resolve returns the private key the reference designates.
func (r *EnvResolver) Resolve(ref string) (*ecdsa.PrivateKey, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty key reference")
	}

	material := ref
	if strings.HasPrefix(ref, EnvRefPrefix) {
		name := strings.TrimPrefix(ref, EnvRefPrefix)
		material = os.Getenv(name)
		if material == "" {
			return nil, fmt.Errorf("key reference %q resolves to an empty environment variable", ref)
		}
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(material, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid key material: %w", err)
	}

	return key, nil
}
