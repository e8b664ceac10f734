package echoapi

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/folha/core"
)

const (
	RoleAdmin = "admin"

	tokenContextKey = "adminToken"
)

// Claims represents the authorization claims transmitted via a JWT.
// The credential is stateless: no server-side session store, so a restart
// never invalidates outstanding tokens.
type Claims struct {
	jwt.StandardClaims
	Role string `json:"role,omitempty"`
}

func newJWTConfig(conf *core.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    tokenContextKey,
		Claims:        new(Claims),
	}
}

// GetAdminClaims builds the claims issued on a successful admin login.
// Expiry follows conf.Server.JWTExpirationDelta; tokens are only refreshed by
// re-login.
func GetAdminClaims(conf *core.Config) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   RoleAdmin,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Role: RoleAdmin,
	}
}

// authenticate checks the supplied password against the configured admin
// password. It fails closed when the admin password or signing secret is
// unset. conf.AdminPassword may be a bcrypt hash or plaintext; both
// comparisons are constant-time.
func authenticate(pwd string, conf *core.Config) error {
	if conf.AdminPassword == "" || conf.SecretKey == "" {
		return core.NewConfigError("admin password or secret key not configured; refusing login")
	}

	if strings.HasPrefix(conf.AdminPassword, "$2") {
		if err := bcrypt.CompareHashAndPassword([]byte(conf.AdminPassword), []byte(pwd)); err != nil {
			return errWrongPassword
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(conf.AdminPassword), []byte(pwd)) != 1 {
		return errWrongPassword
	}
	return nil
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(claims *Claims, conf *core.Config) (string, error) {
	method := jwt.GetSigningMethod(middleware.AlgorithmHS256)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(tokenContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}
