package server

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "questdeck-agent"

// Auth methods recorded on the request context
const (
	AuthMethodAPIKey = "api_key"
	AuthMethodJWT    = "jwt"
)

// JWTClaims are the claims of tokens issued to observers
type JWTClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// AuthService checks the API key and issues/validates HS256 tokens
type AuthService struct {
	apiKey    string
	jwtSecret []byte
	now       func() time.Time
}

// NewAuthService creates an auth service
func NewAuthService(apiKey, jwtSecret string) *AuthService {
	return &AuthService{
		apiKey:    apiKey,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

// ValidateAPIKey reports whether key is the configured API key
func (a *AuthService) ValidateAPIKey(key string) bool {
	return key != "" && key == a.apiKey
}

// GenerateToken issues a token for role valid for duration
func (a *AuthService) GenerateToken(role string, duration time.Duration) (string, error) {
	now := a.now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// ValidateToken parses and verifies a token issued by this agent
func (a *AuthService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// Authenticate accepts either the API key or a valid token and returns the method used
func (a *AuthService) Authenticate(token string) (string, *JWTClaims, error) {
	if token == "" {
		return "", nil, errors.New("missing authentication token")
	}
	if a.ValidateAPIKey(token) {
		return AuthMethodAPIKey, nil, nil
	}
	claims, err := a.ValidateToken(token)
	if err != nil {
		return "", nil, errors.New("invalid authentication token")
	}
	return AuthMethodJWT, claims, nil
}

// ExtractToken reads the token from the Authorization header, falling back to the token query
// parameter used by browsers for SSE and websocket connections
func ExtractToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		return authHeader
	}
	return c.Query("token")
}
