/*
session.go - Cookie-backed session management

PURPOSE:
  Authenticated-but-stateless sessions: the user ID travels in an
  encrypted, authenticated cookie (gorilla/securecookie), so the server
  keeps no session table. Logout just expires the cookie.

SECURITY:
  Cookies are HttpOnly and SameSite=Lax. The hash and block keys come
  from configuration; rotating them invalidates all sessions at once.

SEE ALSO:
  - handlers.go: auth endpoints and the middleware that reads sessions
  - config/config.go: key sourcing
*/
package api

import (
	"net/http"

	"github.com/gorilla/securecookie"

	"github.com/warp/turf-engine/booking"
)

const sessionCookie = "turf_session"

type SessionManager struct {
	sc *securecookie.SecureCookie
}

func NewSessionManager(hashKey, blockKey []byte) *SessionManager {
	return &SessionManager{sc: securecookie.New(hashKey, blockKey)}
}

// SetUser writes a fresh session cookie for the given user.
func (s *SessionManager) SetUser(w http.ResponseWriter, userID booking.UserID) error {
	value := map[string]string{"uid": string(userID)}
	encoded, err := s.sc.Encode(sessionCookie, value)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie.
func (s *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// UserID extracts the authenticated user from the request, if any.
func (s *SessionManager) UserID(r *http.Request) (booking.UserID, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	value := map[string]string{}
	if err := s.sc.Decode(sessionCookie, c.Value, &value); err != nil {
		return "", false
	}
	uid := value["uid"]
	if uid == "" {
		return "", false
	}
	return booking.UserID(uid), true
}
