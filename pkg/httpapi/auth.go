package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/stormstack/thunder/pkg/errs"
)

// authTokenResponse mirrors the OAuth2 token response shape clients
// already expect from IdentityService; the control plane only relays it.
type authTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	if h.deps.Verifier == nil {
		RespondError(w, errs.New(errs.KindUnavailable, "identity service is not configured"))
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, errs.New(errs.KindInvalidArgument, "decoding login request: %v", err))
		return
	}
	if req.Username == "" || req.Password == "" {
		RespondError(w, errs.New(errs.KindInvalidArgument, "username and password are required"))
		return
	}

	tok, err := h.deps.Verifier.PasswordLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusOK, tokenResponseFrom(tok))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	if h.deps.Verifier == nil {
		RespondError(w, errs.New(errs.KindUnavailable, "identity service is not configured"))
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, errs.New(errs.KindInvalidArgument, "decoding refresh request: %v", err))
		return
	}
	if req.RefreshToken == "" {
		RespondError(w, errs.New(errs.KindInvalidArgument, "refresh_token is required"))
		return
	}

	tok, err := h.deps.Verifier.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusOK, tokenResponseFrom(tok))
}

func tokenResponseFrom(tok *oauth2.Token) authTokenResponse {
	resp := authTokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	return resp
}
