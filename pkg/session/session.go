package session

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"lending/pkg/models"
)

const (
	CookieName = "session"
	contextKey = "reader"
	issuer     = "lending"
)

var ErrInvalidToken = errors.New("invalid session token")

// Loader restores the principal for a reader id stored in a session.
type Loader func(id uint) (models.Principal, bool)

// Manager issues and verifies HS256 session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	loader Loader
	now    func() time.Time
}

func NewManager(secret string, ttl time.Duration, secure bool, loader Loader) *Manager {
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		secure: secure,
		loader: loader,
		now:    time.Now,
	}
}

// Issue signs a token whose subject is the reader id.
func (m *Manager) Issue(readerID uint) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(readerID), 10),
		Issuer:    issuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return token, nil
}

// Parse verifies the token and returns the reader id it was issued for.
func (m *Manager) Parse(token string) (uint, error) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Issuer != issuer {
		return 0, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	return uint(id), nil
}

// Login issues a token for readerID and stores it in an HttpOnly cookie.
func (m *Manager) Login(c *gin.Context, readerID uint) (string, error) {
	token, err := m.Issue(readerID)
	if err != nil {
		return "", err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(m.ttl.Seconds()), "/", "", m.secure, true)
	return token, nil
}

func (m *Manager) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", m.secure, true)
}

// Middleware resolves the current reader from the session cookie or a bearer token.
// Requests without a valid session continue anonymously.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token, _ = c.Cookie(CookieName)
		}
		if token == "" {
			c.Next()
			return
		}

		id, err := m.Parse(token)
		if err != nil {
			c.Next()
			return
		}
		if principal, ok := m.loader(id); ok {
			SetCurrent(c, principal)
		}
		c.Next()
	}
}

// RequireReader aborts with 401 unless Middleware resolved a reader.
func RequireReader() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := Current(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "ERROR",
				"message": "login required",
			})
			return
		}
		c.Next()
	}
}

func SetCurrent(c *gin.Context, p models.Principal) {
	c.Set(contextKey, p)
}

// Current returns the reader attached to the request, if any.
func Current(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
