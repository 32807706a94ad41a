package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/services"
	apperrors "connectsphere/pkg/errors"
	"connectsphere/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter() (*gin.Engine, services.AuthService) {
	gin.SetMode(gin.TestMode)
	auth := services.NewAuthService("test-secret", time.Minute, "connectsphere")
	cl := logger.NewContextLogger(zap.NewNop())

	router := gin.New()
	router.Use(RecoveryMiddleware(cl), TracingMiddleware(), ErrorHandlerMiddleware(cl))

	api := router.Group("/api", AuthMiddleware(auth))
	api.GET("/me", func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": id})
	})
	api.GET("/missing", func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFoundError("call session"))
	})
	api.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("disk on fire"))
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("unexpected")
	})
	return router, auth
}

func do(router http.Handler, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	router, auth := newRouter()

	w := do(router, "/api/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")

	assert.Equal(t, http.StatusUnauthorized, do(router, "/api/me", "garbage").Code)

	token, err := auth.GenerateToken(domain.UserID("alice"), "Alice")
	require.NoError(t, err)
	w = do(router, "/api/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"alice"}`, w.Body.String())
}

func TestErrorHandlerMiddleware(t *testing.T) {
	router, auth := newRouter()
	token, err := auth.GenerateToken(domain.UserID("alice"), "Alice")
	require.NoError(t, err)

	w := do(router, "/api/missing", token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")

	w = do(router, "/api/boom", token)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestRecoveryMiddleware(t *testing.T) {
	router, _ := newRouter()
	w := do(router, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = bearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = bearerToken("Bearer ")
	assert.False(t, ok)
}
