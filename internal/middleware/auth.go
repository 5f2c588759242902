package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"boxoffice/internal/authz"
	"boxoffice/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const principalKey = "principal"

var errInvalidClaims = errors.New("invalid claims")

// IssueToken signs an HS256 access token carrying the principal as "sub" and "role".
func IssueToken(secret, issuer string, p authz.Principal, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(p.ID, 10),
		"role": string(p.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates the token and returns the principal it carries.
func ParseToken(secret, issuer, raw string) (authz.Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return authz.Principal{}, err
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return authz.Principal{}, errInvalidClaims
	}

	var id int64
	switch sub := claims["sub"].(type) {
	case string:
		id, err = strconv.ParseInt(sub, 10, 64)
		if err != nil {
			return authz.Principal{}, fmt.Errorf("%w: sub", errInvalidClaims)
		}
	case float64:
		id = int64(sub)
	default:
		return authz.Principal{}, fmt.Errorf("%w: sub", errInvalidClaims)
	}

	role, _ := claims["role"].(string)
	p := authz.Principal{ID: id, Role: authz.Role(role)}
	if !p.Role.Valid() {
		return authz.Principal{}, fmt.Errorf("%w: role", errInvalidClaims)
	}
	return p, nil
}

// JWTAuth validates a Bearer token and puts the principal into the gin and
// request contexts.
func JWTAuth(secret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		p, err := ParseToken(secret, issuer, strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			logger.WithContext(c.Request.Context()).Debug("Rejected token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(principalKey, p)
		ctx := authz.ContextWithPrincipal(c.Request.Context(), p)
		ctx = logger.ContextWithPrincipalID(ctx, p.ID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireRole must run after JWTAuth.
func RequireRole(roles ...authz.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := Principal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// Principal returns the principal stored by JWTAuth.
func Principal(c *gin.Context) (authz.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return authz.Principal{}, false
	}
	p, ok := v.(authz.Principal)
	return p, ok
}
