package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/khryptorgraphics/imagepipe/internal/config"
)

// JWTService handles JWT token operations for the HTTP gateway.
type JWTService struct {
	privateKey    *rsa.PrivateKey
	publicKey     *rsa.PublicKey
	issuer        string
	audience      string
	expiration    time.Duration
	refreshExpiry time.Duration
}

// Claims represents JWT claims structure for a gateway caller.
type Claims struct {
	UserID      string            `json:"user_id"`
	Username    string            `json:"username"`
	Role        string            `json:"role"`
	Permissions []string          `json:"permissions"`
	Metadata    map[string]string `json:"metadata"`
	jwt.RegisteredClaims
}

// TokenPair represents access and refresh tokens.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

// NewJWTService creates a new JWT service instance, generating an RSA
// signing key. Auth is a new ambient surface for the HTTP gateway — the
// core pipeline has no notion of a caller (SPEC_FULL.md §4).
func NewJWTService(cfg *config.AuthConfig) (*JWTService, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	service := &JWTService{
		privateKey:    privateKey,
		publicKey:     &privateKey.PublicKey,
		issuer:        "imagepipe",
		audience:      "imagepipe-clients",
		expiration:    24 * time.Hour,
		refreshExpiry: 7 * 24 * time.Hour,
	}

	if cfg != nil {
		if cfg.Issuer != "" {
			service.issuer = cfg.Issuer
		}
		if cfg.Audience != "" {
			service.audience = cfg.Audience
		}
		if cfg.TokenExpiry > 0 {
			service.expiration = cfg.TokenExpiry
		}
	}

	return service, nil
}

// GenerateToken creates a new JWT token for the given caller.
func (j *JWTService) GenerateToken(userID, username, role string, permissions []string) (*TokenPair, error) {
	now := time.Now()
	expiresAt := now.Add(j.expiration)
	refreshExpiresAt := now.Add(j.refreshExpiry)

	claims := &Claims{
		UserID:      userID,
		Username:    username,
		Role:        role,
		Permissions: permissions,
		Metadata:    make(map[string]string),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   userID,
			Audience:  []string{j.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%s_%d", userID, now.Unix()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	accessToken, err := token.SignedString(j.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshClaims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   userID,
			Audience:  []string{j.audience + "-refresh"},
			ExpiresAt: jwt.NewNumericDate(refreshExpiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%s_refresh_%d", userID, now.Unix()),
		},
	}

	refreshToken := jwt.NewWithClaims(jwt.SigningMethodRS256, refreshClaims)
	refreshTokenString, err := refreshToken.SignedString(j.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshTokenString,
		ExpiresAt:    expiresAt,
		TokenType:    "Bearer",
	}, nil
}

// ValidateToken validates and parses a JWT token.
func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, errors.New("token has expired")
	}

	return claims, nil
}

// RefreshToken creates a new access token from a valid refresh token.
func (j *JWTService) RefreshToken(refreshTokenString string) (*TokenPair, error) {
	claims, err := j.ValidateToken(refreshTokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != j.audience+"-refresh" {
		return nil, errors.New("not a refresh token")
	}
	return j.GenerateToken(claims.UserID, claims.Username, claims.Role, claims.Permissions)
}

// GetPublicKey returns the public key for token verification.
func (j *JWTService) GetPublicKey() *rsa.PublicKey {
	return j.publicKey
}

// SetPrivateKey sets a custom private key (for testing or custom key
// management).
func (j *JWTService) SetPrivateKey(key *rsa.PrivateKey) {
	j.privateKey = key
	j.publicKey = &key.PublicKey
}

// HasPermission checks if the claims contain a specific permission.
func (c *Claims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// IsAdmin checks if the caller has the admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// IsOperator checks if the caller has the operator role or higher.
func (c *Claims) IsOperator() bool {
	return c.Role == RoleAdmin || c.Role == RoleOperator
}

// GetMetadata safely retrieves a metadata value.
func (c *Claims) GetMetadata(key string) (string, bool) {
	if c.Metadata == nil {
		return "", false
	}
	value, exists := c.Metadata[key]
	return value, exists
}

// SetMetadata safely sets a metadata value.
func (c *Claims) SetMetadata(key, value string) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[key] = value
}

// Predefined roles for the image-pipeline gateway.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleReader   = "reader"
)

// Predefined permissions guarding gateway routes (SPEC_FULL.md §4).
const (
	PermissionCacheRead      = "cache:read"
	PermissionCachePurge     = "cache:purge"
	PermissionPrefetchManage = "prefetch:manage"
	PermissionSystemManage   = "system:manage"
)

// GetRolePermissions returns the default permission set for a role.
func GetRolePermissions(role string) []string {
	switch role {
	case RoleAdmin:
		return []string{PermissionCacheRead, PermissionCachePurge, PermissionPrefetchManage, PermissionSystemManage}
	case RoleOperator:
		return []string{PermissionCacheRead, PermissionCachePurge, PermissionPrefetchManage}
	case RoleReader:
		return []string{PermissionCacheRead}
	default:
		return []string{}
	}
}
