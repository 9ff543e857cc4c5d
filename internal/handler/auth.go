package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"battles/internal/auth"
	"battles/internal/ledger"
	"battles/internal/repository"
)

// AuthHandler signs wallets in: issue a nonce, check the signed message,
// hand back a JWT. The first login pays the join bonus.
type AuthHandler struct {
	Nonces   auth.NonceStore
	Verifier auth.SignatureVerifier
	JWT      auth.JWT
	Repo     repository.Repository
	Ledger   *ledger.Ledger
	Logger   *zap.Logger
	// RateLimit guards both endpoints; nil disables it.
	RateLimit gin.HandlerFunc
}

func (h *AuthHandler) Register(r *gin.Engine) {
	group := r.Group("/api/auth")
	if h.RateLimit != nil {
		group.Use(h.RateLimit)
	}
	group.GET("/nonce", h.nonce)
	group.POST("/verify", h.verify)
}

// @Summary Issue a login nonce
// @Tags auth
// @Param wallet query string true "wallet public key"
// @Success 200 {object} apiResponse
// @Router /api/auth/nonce [get]
func (h *AuthHandler) nonce(c *gin.Context) {
	wallet := strings.TrimSpace(c.Query("wallet"))
	if wallet == "" {
		Error(c, http.StatusBadRequest, "wallet required", nil)
		return
	}
	ch, err := h.Nonces.Issue(c.Request.Context(), wallet)
	if err != nil {
		Error(c, http.StatusInternalServerError, "failed to issue nonce", nil)
		return
	}
	Ok(c, ch, nil)
}

type verifyLoginRequest struct {
	Wallet    string `json:"wallet"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// @Summary Exchange a signed nonce for a token
// @Tags auth
// @Param body body verifyLoginRequest true "wallet, nonce and base64 signature"
// @Success 200 {object} apiResponse
// @Router /api/auth/verify [post]
func (h *AuthHandler) verify(c *gin.Context) {
	var req verifyLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	req.Wallet = strings.TrimSpace(req.Wallet)
	if req.Wallet == "" || strings.TrimSpace(req.Nonce) == "" || strings.TrimSpace(req.Signature) == "" {
		Error(c, http.StatusBadRequest, "wallet, nonce and signature required", nil)
		return
	}
	ctx := c.Request.Context()
	if err := h.Nonces.Consume(ctx, req.Wallet, req.Nonce); err != nil {
		if errors.Is(err, auth.ErrNonceInvalid) {
			Error(c, http.StatusUnauthorized, err.Error(), nil)
			return
		}
		Error(c, http.StatusInternalServerError, "nonce lookup failed", nil)
		return
	}
	if err := h.Verifier.Verify(req.Wallet, auth.LoginMessage(req.Wallet, strings.TrimSpace(req.Nonce)), req.Signature); err != nil {
		Error(c, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	token, expiresAt, err := h.JWT.Sign(req.Wallet)
	if err != nil {
		Error(c, http.StatusInternalServerError, "failed to issue token", nil)
		return
	}
	if h.Repo != nil {
		if err := h.Repo.TouchParticipantLogin(ctx, req.Wallet, time.Now().UTC()); err != nil && h.Logger != nil {
			h.Logger.Warn("touch login failed", zap.String("participant", req.Wallet), zap.Error(err))
		}
	}
	bonus := false
	if h.Ledger != nil {
		bonus, err = h.Ledger.AwardJoinBonusIfNew(ctx, req.Wallet)
		if err != nil && h.Logger != nil {
			h.Logger.Warn("join bonus failed", zap.String("participant", req.Wallet), zap.Error(err))
		}
	}
	Ok(c, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"wallet":     req.Wallet,
		"join_bonus": bonus,
	}, nil)
}
