package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
)

const (
	contextTokenKey = "userToken"
	contextActorKey = "actor"

	jwtAudience = "EduPath"
)

// Claims represents the authorization claims transmitted via a JWT.
// Tokens are issued by the gateway for users and by the services themselves for sibling calls.
type Claims struct {
	jwt.StandardClaims
	Username string   `json:"username,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

func jwtConfig(secret string) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(secret),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	}
}

// NewClaims returns the claims of actor, valid for conf.Server.JWTExpirationDelta.
func NewClaims(actor core.Actor, conf *core.Config) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   actor.ID,
			Audience:  jwtAudience,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Username: actor.Username,
		Email:    actor.Email,
		Roles:    actor.Roles,
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(claims *Claims, secret string) (string, error) {
	method := jwt.GetSigningMethod(middleware.AlgorithmHS256)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// ServiceActor is the identity a service uses to call its siblings.
func ServiceActor(service string) core.Actor {
	return core.Actor{ID: service + "-service", Username: service, Roles: []string{core.RoleService + service}}
}

// ServiceTokenFunc returns a function minting a fresh service token on each call.
func ServiceTokenFunc(conf *core.Config) func() (string, error) {
	actor := ServiceActor(conf.Service)
	return func() (string, error) {
		return GenerateToken(NewClaims(actor, conf), conf.SecretKey)
	}
}

func (c Claims) Actor() core.Actor {
	return core.Actor{ID: c.Subject, Username: c.Username, Email: c.Email, Roles: c.Roles}
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextActor(ctx echo.Context) (core.Actor, error) {
	if actor, ok := ctx.Get(contextActorKey).(core.Actor); ok {
		return actor, nil
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return core.Actor{}, err
	}
	actor := claims.Actor()
	ctx.Set(contextActorKey, actor)
	return actor, nil
}

// canAccessStudent reports whether the context actor may read the records of studentID.
func canAccessStudent(ctx echo.Context, studentID string) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if actor.IsStaff() || actor.ID == studentID {
		return nil
	}
	return errHttpForbidden
}
