package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"crm-sync/domain/dto"
	"crm-sync/domain/model"
	"crm-sync/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

const (
	sessionKey = "auth_session"
	// SessionCookie carries the session token for browser routes.
	SessionCookie = "session"
)

// SessionClaims is the session token issued by the identity service. The
// subject is the user id.
type SessionClaims struct {
	OrganizationID string `json:"org_id"`
	Role           string `json:"role,omitempty"`
	jwt.StandardClaims
}

type AuthConfig struct {
	SecretKey string
	// LoginPath is where unauthenticated browser requests are sent.
	LoginPath string
}

// Auth rejects API requests without a valid session with 401.
func Auth(cfg AuthConfig) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		session, err := parseSession(ctx, cfg.SecretKey)
		if err != nil {
			res := dto.Res{ResponseCode: "401", ResponseMessage: message(err)}
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, res)
			return
		}
		ctx.Set(sessionKey, session)
		ctx.Next()
	}
}

// BrowserAuth redirects unauthenticated page requests to the login page.
func BrowserAuth(cfg AuthConfig) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		session, err := parseSession(ctx, cfg.SecretKey)
		if err != nil {
			logger.GetLogger().WithField("path", ctx.Request.URL.Path).WithField("error", err).Debug("Redirecting unauthenticated request to login")
			q := url.Values{"next": {ctx.Request.URL.RequestURI()}}
			ctx.Redirect(http.StatusFound, cfg.LoginPath+"?"+q.Encode())
			ctx.Abort()
			return
		}
		ctx.Set(sessionKey, session)
		ctx.Next()
	}
}

// SessionFrom returns the session stored by Auth or BrowserAuth.
func SessionFrom(ctx *gin.Context) (model.AuthSession, bool) {
	v, ok := ctx.Get(sessionKey)
	if !ok {
		return model.AuthSession{}, false
	}
	session, ok := v.(model.AuthSession)
	return session, ok
}

// SetSession stores an already resolved session on the request.
func SetSession(ctx *gin.Context, session model.AuthSession) {
	ctx.Set(sessionKey, session)
}

func parseSession(ctx *gin.Context, secretKey string) (model.AuthSession, error) {
	raw := bearerToken(ctx.GetHeader("Authorization"))
	if raw == "" {
		if c, err := ctx.Cookie(SessionCookie); err == nil {
			raw = c
		}
	}
	if raw == "" {
		return model.AuthSession{}, errors.New("missing session token")
	}
	if secretKey == "" {
		return model.AuthSession{}, errors.New("session secret not configured")
	}

	var claims SessionClaims
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	token, err := parser.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secretKey), nil
	})
	if err != nil {
		return model.AuthSession{}, err
	}
	if !token.Valid || claims.Subject == "" || claims.OrganizationID == "" {
		return model.AuthSession{}, errors.New("session token missing subject or organization")
	}
	return model.AuthSession{UserID: claims.Subject, OrganizationID: claims.OrganizationID, Role: claims.Role}, nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func message(err error) string {
	var ve *jwt.ValidationError
	if errors.As(err, &ve) {
		if ve.Errors&jwt.ValidationErrorMalformed != 0 {
			return "That's not even a token"
		} else if ve.Errors&(jwt.ValidationErrorExpired|jwt.ValidationErrorNotValidYet) != 0 {
			// Token is either expired or not active yet
			return "Timing is everything"
		}
		return fmt.Sprintf("Couldn't handle this token:%v", err)
	}
	return "Unauthorized"
}
