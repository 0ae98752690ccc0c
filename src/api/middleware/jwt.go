package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// OperatorKey is the gin context key holding the subject of the verified
// operator token. Handlers read it through Operator to attribute writes in
// logs and audit lines.
const OperatorKey = "operator"

// JWT rejects requests without a valid HS256 bearer token signed with
// secret. Tokens must carry a subject.
func JWT(secret []byte) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (interface{}, error) { return secret, nil }
	return func(c *gin.Context) {
		tokenStr, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || tokenStr == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		var claims jwt.RegisteredClaims
		token, err := parser.ParseWithClaims(tokenStr, &claims, keyFunc)
		if err != nil || !token.Valid || claims.Subject == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(OperatorKey, claims.Subject)
		c.Next()
	}
}

// Operator returns the token subject set by JWT, or "" on open routes.
func Operator(c *gin.Context) string {
	return c.GetString(OperatorKey)
}
