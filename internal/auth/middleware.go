package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "authUserID"

// AnonymousUser owns every session when the gateway runs without a JWT secret.
const AnonymousUser = "anonymous"

// tokenQueryParam carries the token for websocket upgrades, where browsers cannot set headers.
const tokenQueryParam = "access_token"

// GetUserID retrieves the authenticated subject from context.
func GetUserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(userIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Middleware picks JWTMiddleware when secret is set and AnonymousMiddleware otherwise.
func Middleware(secret, audience string) gin.HandlerFunc {
	if strings.TrimSpace(secret) == "" {
		return AnonymousMiddleware()
	}
	return JWTMiddleware(secret, audience)
}

// AnonymousMiddleware attributes every request to AnonymousUser.
func AnonymousMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		setUser(c, AnonymousUser)
		c.Next()
	}
}

// JWTMiddleware validates bearer tokens and injects user identity.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	audience = strings.TrimSpace(audience)

	return func(c *gin.Context) {
		tokenString, err := extractToken(c)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			unauthorized(c, "invalid token")
			return
		}

		if audience != "" && !containsAudience(claims.Audience, audience) {
			unauthorized(c, "invalid audience")
			return
		}

		if claims.Subject == "" {
			unauthorized(c, "missing subject")
			return
		}

		setUser(c, claims.Subject)
		c.Next()
	}
}

func setUser(c *gin.Context, userID string) {
	c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), userID))
	c.Set(string(userIDKey), userID)
}

func extractToken(c *gin.Context) (string, error) {
	header := c.Request.Header.Get("Authorization")
	if header == "" && c.IsWebsocket() {
		if token := strings.TrimSpace(c.Query(tokenQueryParam)); token != "" {
			return token, nil
		}
	}
	return extractBearerToken(header)
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

func containsAudience(claims jwt.ClaimStrings, expected string) bool {
	for _, aud := range claims {
		if aud == expected {
			return true
		}
	}
	return false
}
