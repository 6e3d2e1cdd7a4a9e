package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/apexlabs/apex-keys/internal/config"
	"github.com/apexlabs/apex-keys/internal/models"
	"github.com/apexlabs/apex-keys/internal/store"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

// AuthHandler issues and refreshes admin dashboard sessions.
type AuthHandler struct {
	cfg   *config.Config
	audit store.AuditStore
}

func NewAuthHandler(cfg *config.Config, audit store.AuditStore) *AuthHandler {
	return &AuthHandler{cfg: cfg, audit: audit}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Login checks the operator credentials and returns a token pair.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if h.cfg.AdminUsername == "" || h.cfg.AdminPasswordHash == "" {
		writeError(w, http.StatusServiceUnavailable, "Admin credentials not configured")
		return
	}

	usernameOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.cfg.AdminUsername)) == 1
	passwordOK := bcrypt.CompareHashAndPassword([]byte(h.cfg.AdminPasswordHash), []byte(req.Password)) == nil
	if !usernameOK || !passwordOK {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	h.respondWithTokens(w, r, req.Username)
}

// Refresh exchanges a refresh token for a new access token.
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	claims, err := ParseAdminToken(req.RefreshToken, h.cfg.JWTRefreshSecret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	access, err := h.signToken(claims.Username, h.cfg.JWTSecret, accessTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     access,
		ExpiresIn: int(accessTokenTTL.Seconds()),
	})
}

func (h *AuthHandler) respondWithTokens(w http.ResponseWriter, r *http.Request, username string) {
	access, err := h.signToken(username, h.cfg.JWTSecret, accessTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	refresh, err := h.signToken(username, h.cfg.JWTRefreshSecret, refreshTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	_ = h.audit.Append(r.Context(), models.AuditEntry{
		Action: "admin_login", Detail: username,
		AdminIP: clientIP(r), Timestamp: time.Now(),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:        access,
		RefreshToken: refresh,
		ExpiresIn:    int(accessTokenTTL.Seconds()),
	})
}

func (h *AuthHandler) signToken(username, secret string, ttl time.Duration) (string, error) {
	claims := AdminClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "apex-keys",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func (h *AuthHandler) getDiscordOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		RedirectURL:  h.cfg.PublicURL + "/api/v1/auth/discord/callback",
		ClientID:     h.cfg.DiscordClientID,
		ClientSecret: h.cfg.DiscordClientSecret,
		Scopes:       []string{"identify"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://discord.com/api/oauth2/authorize",
			TokenURL: "https://discord.com/api/oauth2/token",
		},
	}
}

// DiscordOAuthLogin starts the optional Discord login flow for operators.
// GET /api/v1/auth/discord/login
func (h *AuthHandler) DiscordOAuthLogin(w http.ResponseWriter, r *http.Request) {
	if h.cfg.DiscordClientID == "" {
		writeError(w, http.StatusNotFound, "Discord login not configured")
		return
	}
	url := h.getDiscordOAuthConfig().AuthCodeURL("apex-admin-state")
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// DiscordOAuthCallback finishes the Discord login flow. Only allow-listed
// Discord account IDs get a session.
// GET /api/v1/auth/discord/callback
func (h *AuthHandler) DiscordOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.FormValue("state") != "apex-admin-state" {
		writeError(w, http.StatusBadRequest, "Invalid state")
		return
	}
	code := r.FormValue("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "Code not found")
		return
	}

	oauthCfg := h.getDiscordOAuthConfig()
	ctx := r.Context()
	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to exchange token")
		return
	}

	client := oauthCfg.Client(ctx, token)
	resp, err := client.Get("https://discord.com/api/users/@me")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch user info")
		return
	}
	defer resp.Body.Close()

	var discordUser struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&discordUser); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to decode user info")
		return
	}

	allowed := false
	for _, id := range h.cfg.AdminDiscordIDs {
		if id == discordUser.ID {
			allowed = true
			break
		}
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "Discord account not authorized")
		return
	}

	access, err := h.signToken("discord:"+discordUser.Username, h.cfg.JWTSecret, accessTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	_ = h.audit.Append(ctx, models.AuditEntry{
		Action: "admin_login", Detail: "discord:" + discordUser.Username,
		AdminIP: clientIP(r), Timestamp: time.Now(),
	})

	http.Redirect(w, r, fmt.Sprintf("%s/oauth/callback?token=%s", h.cfg.DashboardURL, access), http.StatusFound)
}
