package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrBadSignature = errors.New("auth: signature does not match wallet")

type SignatureVerifier interface {
	Verify(wallet, message, signature string) error
}

// Ed25519Verifier treats the wallet id as a hex public key and expects a
// base64 signature over the raw message bytes.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(wallet, message, signature string) error {
	pub, err := hex.DecodeString(strings.TrimSpace(wallet))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return errors.New("auth: wallet is not an ed25519 public key")
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return errors.New("auth: malformed signature")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig) {
		return ErrBadSignature
	}
	return nil
}
