package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"battles/internal/cache"
)

var ErrNonceInvalid = errors.New("auth: nonce missing, expired or already used")

// NonceStore issues single-use login challenges.
type NonceStore struct {
	Store cache.Store
	TTL   time.Duration
}

type Challenge struct {
	Wallet    string    `json:"wallet"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginMessage is the exact text the wallet signs.
func LoginMessage(wallet, nonce string) string {
	return fmt.Sprintf("Sign in to Battles\nWallet: %s\nNonce: %s", wallet, nonce)
}

func (n NonceStore) ttl() time.Duration {
	if n.TTL <= 0 {
		return 5 * time.Minute
	}
	return n.TTL
}

func (n NonceStore) Issue(ctx context.Context, wallet string) (Challenge, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return Challenge{}, errors.New("wallet required")
	}
	nonce := uuid.NewString()
	if err := n.Store.Set(ctx, nonceKey(wallet), []byte(nonce), n.ttl()); err != nil {
		return Challenge{}, err
	}
	return Challenge{
		Wallet:    wallet,
		Nonce:     nonce,
		Message:   LoginMessage(wallet, nonce),
		ExpiresAt: time.Now().UTC().Add(n.ttl()),
	}, nil
}

// Consume removes the wallet's outstanding nonce and checks it matches.
// A wrong guess still burns the nonce.
func (n NonceStore) Consume(ctx context.Context, wallet, nonce string) error {
	v, ok, err := n.Store.Take(ctx, nonceKey(strings.TrimSpace(wallet)))
	if err != nil {
		return err
	}
	if !ok || string(v) != strings.TrimSpace(nonce) {
		return ErrNonceInvalid
	}
	return nil
}

func nonceKey(wallet string) string { return "nonce:" + wallet }
