package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("s3cret")

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func serve(bearer string) (*httptest.ResponseRecorder, string) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var seen string
	r.GET("/", JWT(secret), func(c *gin.Context) {
		seen = Operator(c)
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, seen
}

func TestJWTSetsOperator(t *testing.T) {
	tok := sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "ops", "exp": time.Now().Add(time.Hour).Unix()})
	w, op := serve(tok)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "ops", op)
}

func TestJWTRejects(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	cases := map[string]string{
		"missing":      "",
		"wrong key":    sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "ops", "exp": exp}),
		"no subject":   sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"exp": exp}),
		"expired":      sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "ops", "exp": time.Now().Add(-time.Hour).Unix()}),
		"wrong method": sign(t, jwt.SigningMethodHS512, secret, jwt.MapClaims{"sub": "ops", "exp": exp}),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			w, op := serve(tok)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Empty(t, op)
		})
	}
}
