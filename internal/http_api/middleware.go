package http_api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/keypay/keypay/internal/models"
)

const (
	RequestIDHeader = "X-Request-ID"

	ctxRequestID = "request_id"
	ctxPrincipal = "principal"
)

// requestID tags every request with an id, reusing a sane incoming one.
func (s *HTTPServer) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// authenticate requires a bearer token and stores the resolved principal.
func (s *HTTPServer) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Missing authorization token",
			})
			return
		}

		principal, err := s.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, models.ErrUnauthorized) {
				s.logger.Errorw("Failed to authenticate request", "error", err, "request_id", c.GetString(ctxRequestID))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
			})
			return
		}

		c.Set(ctxPrincipal, principal)
		c.Next()
	}
}

// bearerToken accepts both "Bearer <token>" and a raw token, as PocketBase clients send either.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func principal(c *gin.Context) *models.Principal {
	if v, ok := c.Get(ctxPrincipal); ok {
		if p, ok := v.(*models.Principal); ok {
			return p
		}
	}
	return nil
}

// AdminTokenAuth accepts a single static token and maps it to a superuser.
// It backs the postgres store, which has no user accounts of its own.
type AdminTokenAuth struct {
	Token string
}

func (a AdminTokenAuth) Authenticate(_ context.Context, token string) (*models.Principal, error) {
	if a.Token == "" || subtle.ConstantTimeCompare([]byte(a.Token), []byte(token)) != 1 {
		return nil, models.ErrUnauthorized
	}
	return &models.Principal{ID: "admin", IsSuperAdmin: true}, nil
}
