package utils

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	CookieUserID = "userId"
	QueryUserID  = "userId"

	cookieMaxAge = 24 * 30 * time.Hour
)

// ParticipantID resolves the resume hint of a websocket request: the userId
// query parameter first, then the userId cookie. Hints that are not UUIDs
// are ignored and a fresh id is issued. The second value reports whether
// the hint was used.
func ParticipantID(r *http.Request) (string, bool) {
	if id, ok := parseID(r.URL.Query().Get(QueryUserID)); ok {
		return id, true
	}

	cookie, err := r.Cookie(CookieUserID)
	if err == nil {
		if id, ok := parseID(decodeCookie(cookie.Value)); ok {
			return id, true
		}
	}

	return uuid.NewString(), false
}

// ParticipantCookie builds the cookie that remembers the participant id for
// the next connection.
func ParticipantCookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieUserID,
		Value:    base64.StdEncoding.EncodeToString([]byte(id)),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(cookieMaxAge),
	}
}

// ParticipantHeader carries the participant cookie on a websocket upgrade
// response.
func ParticipantHeader(id string) http.Header {
	h := http.Header{}
	h.Add("Set-Cookie", ParticipantCookie(id).String())
	return h
}

func decodeCookie(value string) string {
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return value
	}
	return string(decoded)
}

// parseID accepts canonical UUIDs only. Participant ids become document
// field paths, so anything else is refused.
func parseID(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
