package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/syncline-dev/syncline/internal/access"
	"github.com/syncline-dev/syncline/internal/vault"
)

const principalKey = "syncline.principal"

// Auth resolves the request's bearer credential to a principal. A missing
// header leaves the caller anonymous; the access gate then decides. A
// presented but unknown token is rejected outright, indistinguishable on
// the wire from an explicit deny.
func Auth(tokens map[string]access.Principal) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Set(principalKey, access.Anonymous)
			c.Next()
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		principal, ok := lookupToken(tokens, token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// lookupToken scans the token table with constant-time comparison per
// entry, so response timing does not leak token prefixes.
func lookupToken(tokens map[string]access.Principal, presented string) (access.Principal, bool) {
	for token, principal := range tokens {
		if vault.VerifyToken(presented, token) {
			return principal, true
		}
	}
	return access.Principal{}, false
}

func principalFrom(c *gin.Context) access.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(access.Principal); ok {
			return p
		}
	}
	return access.Anonymous
}
