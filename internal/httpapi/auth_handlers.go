package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/auth"
	"pulseops.app/internal/otp"
	"pulseops.app/internal/pii"
)

type otpRequest struct {
	Phone   string `json:"whatsapp_number"`
	Purpose string `json:"purpose"`
}

type otpVerifyRequest struct {
	RequestID string `json:"request_id"`
	Code      string `json:"otp"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         *userPayload `json:"user,omitempty"`
}

type userPayload struct {
	UserID       string          `json:"user_id"`
	ClinicID     string          `json:"clinic_id"`
	Role         string          `json:"role"`
	DoctorID     string          `json:"doctor_id,omitempty"`
	Phone        string          `json:"whatsapp_number"`
	Scope        string          `json:"data_access_scope"`
	Permissions  []string        `json:"permissions"`
	Capabilities map[string]bool `json:"capabilities"`
}

func (a *API) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	if a.deps.OTP == nil {
		writeError(w, r, apperr.New(apperr.CodeServiceUnavailable, "otp service is not configured"))
		return
	}
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		writeError(w, r, apperr.Required("whatsapp_number"))
		return
	}
	if req.Purpose == "" {
		req.Purpose = string(otp.PurposeLogin)
	}
	purpose, err := otp.ParsePurpose(req.Purpose)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ch, err := a.deps.OTP.Request(r.Context(), req.Phone, purpose)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusAccepted, ch)
}

func (a *API) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	if a.deps.OTP == nil {
		writeError(w, r, apperr.New(apperr.CodeServiceUnavailable, "otp service is not configured"))
		return
	}
	var req otpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.deps.Limiter.CheckAndRecord(r.Context(), "login:"+clientIP(r), a.loginPerHour, time.Hour); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, r, apperr.Required("otp"))
		return
	}
	rec, err := a.deps.OTP.Verify(r.Context(), strings.TrimSpace(req.RequestID), strings.TrimSpace(req.Code))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rec.Purpose != otp.PurposeLogin {
		writeData(w, http.StatusOK, map[string]any{
			"verified":        true,
			"purpose":         rec.Purpose,
			"whatsapp_number": a.maskPhone(rec.Phone),
		})
		return
	}
	a.login(w, r, rec.Phone)
}

func (a *API) login(w http.ResponseWriter, r *http.Request, phone string) {
	if a.deps.Directory == nil || a.deps.Tokens == nil {
		writeError(w, r, apperr.New(apperr.CodeServiceUnavailable, "login is not configured"))
		return
	}
	acct, err := a.deps.Directory.AccountByPhone(r.Context(), phone)
	if errors.Is(err, auth.ErrAccountNotFound) {
		writeError(w, r, apperr.New(apperr.CodeInvalidCredentials, ""))
		return
	}
	if err != nil {
		writeError(w, r, apperr.Unavailable("directory", err))
		return
	}
	if acct.Status != auth.StatusActive {
		writeError(w, r, apperr.New(apperr.CodeAccountInactive, "").With("status", string(acct.Status)))
		return
	}
	pair, err := a.deps.Tokens.IssuePair(r.Context(), acct.Seed())
	if err != nil {
		writeError(w, r, err)
		return
	}
	claims, err := a.deps.Tokens.Verify(r.Context(), pair.Access.Token, auth.KindAccess)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := a.tokenResponse(pair.Access)
	resp.RefreshToken = pair.Refresh.Token
	resp.User = a.userPayload(claims)
	writeData(w, http.StatusOK, resp)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if a.deps.Tokens == nil {
		writeError(w, r, apperr.New(apperr.CodeServiceUnavailable, "token service is not configured"))
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, apperr.Required("refresh_token"))
		return
	}
	issued, err := a.deps.Tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, a.tokenResponse(issued))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.TokenFromContext(r.Context())
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := a.deps.Tokens.Logout(r.Context(), token, req.RefreshToken); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"logged_out": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, apperr.InvalidToken("missing identity"))
		return
	}
	writeData(w, http.StatusOK, a.userPayload(claims))
}

func (a *API) tokenResponse(t auth.IssuedToken) tokenResponse {
	return tokenResponse{
		AccessToken: t.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(t.ExpiresAt.Sub(t.IssuedAt).Seconds()),
		ExpiresAt:   t.ExpiresAt,
	}
}

func (a *API) userPayload(c auth.IdentityClaims) *userPayload {
	return &userPayload{
		UserID:      c.UserID,
		ClinicID:    c.ClinicID,
		Role:        string(c.Role),
		DoctorID:    c.DoctorID,
		Phone:       a.maskPhone(c.Phone),
		Scope:       string(c.Scope),
		Permissions: permissionNames(c.Permissions()),
		Capabilities: map[string]bool{
			"manage_doctors":      auth.CanManageDoctor(c),
			"manage_subscription": auth.CanManageSubscription(c),
			"view_analytics":      auth.CanViewAnalytics(c),
		},
	}
}

func (a *API) maskPhone(phone string) string {
	if a.deps.PII != nil {
		return a.deps.PII.MaskPhone(phone)
	}
	return pii.MaskPhone(phone)
}
