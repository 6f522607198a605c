package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shotasten/union-board/internal/config"
	"github.com/shotasten/union-board/internal/rest"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

type googleAuthRedirect struct {
	RedirectUrl string `json:"redirectUrl"`
}

// GoogleAuth holds the OAuth token of the single account that owns the shared
// calendar. The token lives in a one-row table.
type GoogleAuth struct {
	db          *pgxpool.Pool
	oauthConfig *oauth2.Config
}

func NewGoogleAuth(db *pgxpool.Pool, cfg config.Application) *GoogleAuth {
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.Google.ClientId,
		ClientSecret: cfg.Google.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.Host + "/api/integrations/google/auth/callback",
		Scopes:       []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope},
	}

	return &GoogleAuth{db: db, oauthConfig: oauthConfig}
}

// OAuthLogin godoc
// @Summary Start the Google OAuth flow for the shared calendar account
// @Produce json
// @Param finalUrl query string false "URL to return to after the callback"
// @Success 200 {object} googleAuthRedirect
// @Failure 500 {object} rest.ErrorResponse
// @Router /api/integrations/google/auth/login [get]
func (g *GoogleAuth) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stateNonce := uuid.New().String()
	finalUrl := r.URL.Query().Get("finalUrl")

	// A new login replaces any previous token.
	_, err := g.db.Exec(ctx, `INSERT INTO google_calendar_auth (id, nonce) VALUES (1, $1)
			ON CONFLICT (id) DO UPDATE SET nonce = EXCLUDED.nonce, access_token = '', refresh_token = '', expiry = 0`,
		stateNonce)
	if err != nil {
		log.Errorf("failed to store Google auth nonce: %v", err)
		rest.WriteError(w, http.StatusInternalServerError, "Failed to handle Google authentication", "")
		return
	}

	log.Tracef("Redirecting to Google auth URL with nonce: %s", stateNonce)
	u := g.oauthConfig.AuthCodeURL(finalUrl+"|"+stateNonce, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	encodeErr := json.NewEncoder(w).Encode(googleAuthRedirect{
		RedirectUrl: u,
	})
	if encodeErr != nil {
		http.Error(w, encodeErr.Error(), http.StatusInternalServerError)
	}
}

// OAuthCallback godoc
// @Summary Complete the Google OAuth flow and store the token
// @Param code query string true "Authorization code"
// @Param state query string true "State returned by Google"
// @Success 302
// @Router /api/integrations/google/auth/callback [get]
func (g *GoogleAuth) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")
	state := r.FormValue("state")

	parts := strings.SplitN(state, "|", 2)
	if len(parts) != 2 {
		rest.WriteError(w, http.StatusBadRequest, "Invalid OAuth state", "")
		return
	}
	finalUrl := parts[0]
	nonce := parts[1]

	token, err := g.oauthConfig.Exchange(r.Context(), code)
	if err != nil {
		log.Errorf("unable to exchange code for token: %v", err)
		http.Redirect(w, r, finalUrl+"?success=false", http.StatusFound)
		return
	}

	if err := g.storeToken(r.Context(), nonce, token); err != nil {
		log.Error(err)
		http.Redirect(w, r, finalUrl+"?success=false", http.StatusFound)
		return
	}
	log.Debug("Successfully stored Google auth token for nonce: ", nonce)
	http.Redirect(w, r, finalUrl+"?success=true", http.StatusFound)
}

func (g *GoogleAuth) storeToken(ctx context.Context, nonce string, token *oauth2.Token) error {
	tag, err := g.db.Exec(ctx, `UPDATE google_calendar_auth SET access_token = $1, refresh_token = $2, expiry = $3 WHERE nonce = $4`,
		token.AccessToken, token.RefreshToken, token.Expiry.Unix(), nonce)
	if err != nil {
		return fmt.Errorf("unable to store Google auth token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no pending Google login for nonce %s", nonce)
	}
	return nil
}

func (g *GoogleAuth) getToken(ctx context.Context) (*oauth2.Token, error) {
	var token oauth2.Token
	var expiryTimestamp int64
	err := g.db.QueryRow(ctx, `SELECT access_token, refresh_token, expiry FROM google_calendar_auth WHERE id = 1`).
		Scan(&token.AccessToken, &token.RefreshToken, &expiryTimestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("unable to retrieve Google auth token: %w", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, nil
	}

	token.Expiry = time.Unix(expiryTimestamp, 0)
	return &token, nil
}

// getClient returns nil when no account is connected.
func (g *GoogleAuth) getClient(ctx context.Context) (*http.Client, error) {
	token, err := g.getToken(ctx)
	if err != nil {
		log.Error(err)
		return nil, err
	}
	if token == nil {
		return nil, nil
	}
	// The client outlives the request that created it.
	return g.oauthConfig.Client(context.Background(), token), nil
}

// OAuthLogout godoc
// @Summary Disconnect the Google account
// @Success 204
// @Failure 500 {object} rest.ErrorResponse
// @Router /api/integrations/google/auth/logout [delete]
func (g *GoogleAuth) OAuthLogout(w http.ResponseWriter, r *http.Request) {
	_, err := g.db.Exec(r.Context(), `DELETE FROM google_calendar_auth WHERE id = 1`)
	if err != nil {
		log.Errorf("failed to delete Google auth row: %v", err)
		rest.WriteError(w, http.StatusInternalServerError, "Failed to handle Google authentication", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
