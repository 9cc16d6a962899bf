package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

var (
	errAuthDisabled = errors.New("token verification is not configured")
	errMissingToken = errors.New("authentication required")
)

const userKey = "user"

// Claims are carried by externally issued HS256 tokens.
type Claims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type identity struct {
	ID       string
	Username string
	Verified bool
}

type verifier struct {
	secret []byte
}

func newVerifier(secret string) *verifier {
	return &verifier{secret: []byte(secret)}
}

func (v *verifier) parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errMissingToken
	}
	if len(v.secret) == 0 {
		return nil, errAuthDisabled
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, errors.New("token has no user id")
	}
	return claims, nil
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := s.auth.parse(bearerToken(c))
		if err != nil {
			log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("rejected request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(userKey, identity{ID: claims.ID, Username: displayName(claims.Username, claims.ID), Verified: true})
		c.Next()
	}
}

func currentUser(c *gin.Context) identity {
	if value, ok := c.Get(userKey); ok {
		if user, ok := value.(identity); ok {
			return user
		}
	}
	return identity{}
}

// resolveIdentity picks the acting user for a websocket message. A verified
// token wins over the handshake user id, which wins over the payload.
func resolveIdentity(conn identity, payloadUserID string) string {
	if conn.Verified || conn.ID != "" {
		return conn.ID
	}
	return strings.TrimSpace(payloadUserID)
}
