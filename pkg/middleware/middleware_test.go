package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kimi/pkg/utils"
)

func newRouter(tokens *utils.TokenManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceIDMiddleware(), CORSMiddleware())
	auth := r.Group("/", JWTAuthMiddleware(tokens))
	auth.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id")+" "+c.GetString("Role"))
	})
	auth.GET("/admin", RoleMiddleware("ADMIN", "ARBITRE"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuthMiddleware(t *testing.T) {
	tokens := utils.NewTokenManager("secret", time.Hour)
	r := newRouter(tokens)
	id := uuid.New()

	token, err := tokens.CreateToken(id, "BUYER")
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id.String()+" BUYER", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "").Code)

	forged, err := utils.NewTokenManager("other", time.Hour).CreateToken(id, "ADMIN")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", forged).Code)
}

func TestRoleMiddleware(t *testing.T) {
	tokens := utils.NewTokenManager("secret", time.Hour)
	r := newRouter(tokens)

	buyer, _ := tokens.CreateToken(uuid.New(), "BUYER")
	arbitre, _ := tokens.CreateToken(uuid.New(), "ARBITRE")

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/admin", buyer).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/admin", arbitre).Code)
}

func TestTraceIDMiddleware(t *testing.T) {
	r := newRouter(utils.NewTokenManager("secret", time.Hour))

	w := do(r, http.MethodGet, "/me", "")
	_, err := uuid.Parse(w.Header().Get(TraceHeader))
	assert.NoError(t, err)

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(TraceHeader, incoming)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, incoming, w.Header().Get(TraceHeader))
	assert.Contains(t, w.Body.String(), incoming)
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(utils.NewTokenManager("secret", time.Hour))
	w := do(r, http.MethodOptions, "/me", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}
