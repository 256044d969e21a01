package http

import (
	"net/http"
	"strings"
)

// handleEvents authenticates with the "token" query parameter, since browsers
// cannot set headers on websocket handshakes, or with a bearer header.
func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		respondJSON(w, http.StatusNotFound, errorBody{Error: "event feed disabled"})
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		var err error
		if token, err = bearerToken(r); err != nil {
			respondError(w, r, err)
			return
		}
	}
	claims, err := a.auth.Tokens().Validate(token)
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.events.ServeWS(w, r, claims.UserID)
}
