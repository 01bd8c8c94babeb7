package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Signer is a pluggable signing capability supplied by the caller. The
// client never assumes a concrete implementation; hardware tokens or remote
// KMS signers satisfy the same interface.
type Signer interface {
	// Sign returns the base64 signature over msg.
	Sign(msg []byte) (string, error)
	// PublicKey returns the base64 public key matching the signing key.
	PublicKey() (string, error)
	// Algorithm names the signature scheme, e.g. "ED25519".
	Algorithm() string
}

// AlgorithmEd25519 is the algorithm name attached to ed25519 signatures.
const AlgorithmEd25519 = "ED25519"

// Ed25519Signer signs canonical events with an in-memory ed25519 key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer wraps an existing private key.
func NewEd25519Signer(priv ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("audit: invalid ed25519 private key length %d", len(priv))
	}
	return &Ed25519Signer{priv: priv}, nil
}

// GenerateEd25519Signer creates a signer with a fresh random key. Intended
// for tests and development.
func GenerateEd25519Signer() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("audit: generate ed25519 key: %w", err)
	}
	return &Ed25519Signer{priv: priv}, nil
}

// Sign returns the base64 ed25519 signature over msg.
func (s *Ed25519Signer) Sign(msg []byte) (string, error) {
	sig := ed25519.Sign(s.priv, msg)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// PublicKey returns the base64 public key.
func (s *Ed25519Signer) PublicKey() (string, error) {
	pub, ok := s.priv.Public().(ed25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("audit: unexpected public key type")
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

// Algorithm returns the signature scheme name.
func (s *Ed25519Signer) Algorithm() string {
	return AlgorithmEd25519
}

// publicKeyPayload builds the public_key field for a submission: the bare
// key when no extra metadata is present, otherwise a canonical JSON object
// carrying the key, algorithm and caller-supplied info.
func publicKeyPayload(signer Signer, info map[string]any) (string, error) {
	key, err := signer.PublicKey()
	if err != nil {
		return "", err
	}
	if len(info) == 0 {
		return key, nil
	}
	payload := make(map[string]any, len(info)+2)
	for k, v := range info {
		payload[k] = v
	}
	payload["key"] = key
	payload["algorithm"] = signer.Algorithm()
	return canonString(payload)
}
