package server

import (
	"chat-app/services"
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type sessionKey struct{}

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type authResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

func (g *Gateway) newSession() *services.AuthService {
	return services.NewAuthService(g.log, g.deps.Users, g.deps.Issuer)
}

// sessionFrom returns the session restored by requireAuth.
func sessionFrom(ctx context.Context) *services.AuthService {
	session, _ := ctx.Value(sessionKey{}).(*services.AuthService)
	return session
}

// bearerToken reads the Authorization header, or the token query parameter
// since browsers cannot set headers on websocket handshakes.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

// requireAuth lets a request through only when its token restores a signed-in session.
func (g *Gateway) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		session := g.newSession()
		if err := session.SignInWithToken(token); err != nil {
			g.log.Debug("Rejected token", "path", r.URL.Path, "error", err)
			writeError(w, statusFor(err), "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

// Register handles POST /auth/register
func (g *Gateway) Register(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	session := g.newSession()
	token, err := session.Register(body.Email, body.Password, body.DisplayName)
	if err != nil {
		g.log.Info("Registration refused", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toAuthResponse(token, session))
}

// Login handles POST /auth/login
func (g *Gateway) Login(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	session := g.newSession()
	token, err := session.Login(body.Email, body.Password)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAuthResponse(token, session))
}

func toAuthResponse(token services.Token, session *services.AuthService) authResponse {
	response := authResponse{Token: token.String(), Name: session.GetUserName()}
	if user := session.GetCurrentUser(); user != nil {
		response.UserID = user.ID
	}
	return response
}
