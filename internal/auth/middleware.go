package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const walletKey = "auth.wallet"

// Identity resolves a bearer JWT when present. A missing or unparseable
// token leaves the request anonymous, since cron callers send their shared
// secret in the same header.
func Identity(j JWT) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c.GetHeader("Authorization"))
		if tok == "" {
			c.Next()
			return
		}
		claims, err := j.Verify(tok)
		if err != nil {
			c.Next()
			return
		}
		c.Set(walletKey, claims.Wallet)
		c.Next()
	}
}

// Wallet returns the authenticated participant id, if any.
func Wallet(c *gin.Context) (string, bool) {
	v, ok := c.Get(walletKey)
	if !ok {
		return "", false
	}
	w, ok := v.(string)
	return w, ok && w != ""
}

func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := Wallet(c); !ok {
			abort(c, http.StatusUnauthorized, "authentication required")
			return
		}
		c.Next()
	}
}

type Admins map[string]struct{}

func NewAdmins(wallets []string) Admins {
	out := Admins{}
	for _, w := range wallets {
		if w = strings.TrimSpace(w); w != "" {
			out[w] = struct{}{}
		}
	}
	return out
}

func (a Admins) IsAdmin(c *gin.Context) bool {
	w, ok := Wallet(c)
	if !ok {
		return false
	}
	_, ok = a[w]
	return ok
}

func RequireAdmin(a Admins) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.IsAdmin(c) {
			abort(c, http.StatusForbidden, "admin only")
			return
		}
		c.Next()
	}
}

// HasSecret reports whether the request carries the shared cron secret.
func HasSecret(c *gin.Context, secret string) bool {
	if secret == "" {
		return false
	}
	tok := bearerToken(c.GetHeader("Authorization"))
	return tok != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(secret)) == 1
}

func RequireSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			abort(c, http.StatusServiceUnavailable, "cron secret not configured")
			return
		}
		if !HasSecret(c, secret) {
			abort(c, http.StatusUnauthorized, "invalid cron secret")
			return
		}
		c.Next()
	}
}

// RequireAdminOrSecret admits admins and cron callers.
func RequireAdminOrSecret(a Admins, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.IsAdmin(c) || HasSecret(c, secret) {
			c.Next()
			return
		}
		abort(c, http.StatusForbidden, "admin or cron secret required")
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": msg})
}

func bearerToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	parts := strings.SplitN(v, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
