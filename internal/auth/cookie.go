package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderSessionToken returns the re-signed token to bearer-token clients.
const HeaderSessionToken = "X-Session-Token"

// Refresher re-signs a caller's token after its session changed and writes the cookie.
type Refresher struct {
	jwt        *JWTService
	cookieName string
	secure     bool
	now        func() time.Time
}

// NewRefresher creates a token refresher for the named session cookie.
func NewRefresher(jwt *JWTService, cookieName string, secure bool) *Refresher {
	return &Refresher{jwt: jwt, cookieName: cookieName, secure: secure, now: time.Now}
}

// Refresh signs a token for caller's current session state and sends it back
// as both the session cookie and the X-Session-Token header.
func (r *Refresher) Refresh(c *gin.Context, caller *Caller) (string, error) {
	token, err := r.jwt.Generate(caller.Session, caller.Email())
	if err != nil {
		return "", err
	}
	maxAge := int(caller.Session.ExpiresAt.Sub(r.now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(r.cookieName, token, maxAge, "/", "", r.secure, true)
	c.Header(HeaderSessionToken, token)
	return token, nil
}
