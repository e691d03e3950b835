package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/audit"
	"pulseops.app/internal/auth"
	"pulseops.app/internal/pii"
)

const maxReasonLength = 500

type roleEntry struct {
	Role        string   `json:"role"`
	Scope       string   `json:"data_access_scope"`
	Permissions []string `json:"permissions"`
}

type roleCatalog struct {
	Roles       []roleEntry `json:"roles"`
	Permissions []string    `json:"permissions"`
}

func permissionNames(perms []auth.Permission) []string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return names
}

// handleRoles exposes the static role catalog to administrators.
func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	out := make([]roleEntry, 0, len(auth.Roles))
	for _, role := range auth.Roles {
		out = append(out, roleEntry{
			Role:        string(role),
			Scope:       string(auth.ScopeFor(role)),
			Permissions: permissionNames(auth.PermissionsFor(role).Sorted()),
		})
	}
	writeData(w, http.StatusOK, roleCatalog{Roles: out, Permissions: permissionNames(auth.AllPermissions())})
}

func resourceFrom(r *http.Request) auth.Resource {
	return auth.Resource{
		ClinicID:  chi.URLParam(r, "clinicID"),
		DoctorID:  chi.URLParam(r, "doctorID"),
		PatientID: chi.URLParam(r, "patientID"),
	}
}

// handlePatientAccess reports whether the caller may reach the patient
// association addressed by the path.
func (a *API) handlePatientAccess(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	res := resourceFrom(r)
	if err := a.deps.Guard.CheckDataIsolation(r.Context(), claims, res); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"access":     "granted",
		"clinic_id":  res.ClinicID,
		"doctor_id":  res.DoctorID,
		"patient_id": res.PatientID,
	})
}

func (a *API) handleQueueAccess(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	res := resourceFrom(r)
	if err := a.deps.Guard.CheckDataIsolation(r.Context(), claims, res); err != nil {
		writeError(w, r, err)
		return
	}
	if !auth.CanAccessQueue(claims, res.DoctorID) {
		writeError(w, r, apperr.InsufficientPermissions(string(auth.PermManageAllQueues), string(auth.PermManageOwnQueue)))
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"access":    "granted",
		"clinic_id": res.ClinicID,
		"doctor_id": res.DoctorID,
	})
}

// handleVisitAccess gates the visit history of a doctor. Admins read every
// doctor's visits; doctors only their own.
func (a *API) handleVisitAccess(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	res := resourceFrom(r)
	if err := a.deps.Guard.CheckDataIsolation(r.Context(), claims, res); err != nil {
		writeError(w, r, err)
		return
	}
	if !auth.CanAccessVisitRecord(claims, res.DoctorID) {
		writeError(w, r, apperr.InsufficientPermissions(string(auth.PermViewAllVisitRecords), string(auth.PermViewOwnVisitHistory)))
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"access":    "granted",
		"clinic_id": res.ClinicID,
		"doctor_id": res.DoctorID,
	})
}

type accountStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// handleAccountStatus moves an account of the caller's clinic to a new
// lifecycle state. Changing another administrator requires the ADMIN role.
func (a *API) handleAccountStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.ClaimsFromContext(ctx)
	clinicID := chi.URLParam(r, "clinicID")
	userID := chi.URLParam(r, "userID")

	var req accountStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Status == "" {
		writeError(w, r, apperr.Required("status"))
		return
	}
	status, err := auth.ParseUserStatus(req.Status)
	if err != nil {
		writeError(w, r, apperr.InvalidInput("status", "unknown account status"))
		return
	}
	reason := pii.SanitizeInput(req.Reason, maxReasonLength)

	if err := a.deps.Guard.CheckDataIsolation(ctx, claims, auth.Resource{ClinicID: clinicID}); err != nil {
		writeError(w, r, err)
		return
	}
	target, err := a.deps.Directory.AccountByID(ctx, userID)
	switch {
	case errors.Is(err, auth.ErrAccountNotFound):
		writeError(w, r, apperr.InvalidInput("user_id", "unknown account"))
		return
	case err != nil:
		writeError(w, r, apperr.Unavailable("directory", err))
		return
	}
	if target.ClinicID != claims.ClinicID {
		writeError(w, r, apperr.New(apperr.CodeClinicAccessDenied, "").
			With("user_clinic_id", claims.ClinicID).
			With("resource_clinic_id", target.ClinicID))
		return
	}
	if target.Role == auth.RoleAdmin {
		if err := a.deps.Guard.RequireRole(ctx, claims, auth.RoleAdmin); err != nil {
			writeError(w, r, err)
			return
		}
	}

	err = a.deps.Trail.Scope(ctx, audit.CategoryDataAccess, "account_status_change", claims.Actor(), func(ctx context.Context) error {
		a.deps.Trail.Record(ctx, audit.CategoryDataAccess, "account_status_target", claims.Actor(), audit.OutcomeSuccess, map[string]any{
			"target_user_id": target.UserID,
			"from":           string(target.Status),
			"to":             string(status),
			"reason":         reason,
		})
		return a.deps.Directory.SetStatus(ctx, target.UserID, status)
	})
	if err != nil {
		writeError(w, r, apperr.Unavailable("directory", err))
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"user_id":         target.UserID,
		"status":          string(status),
		"previous_status": string(target.Status),
	})
}

type doctorEntry struct {
	UserID   string `json:"user_id"`
	DoctorID string `json:"doctor_id"`
	Phone    string `json:"whatsapp_number"`
	Status   string `json:"status"`
}

// handleListDoctors lists the doctors of a clinic visible to the caller:
// every doctor for CLINIC_ALL identities, only themselves otherwise.
func (a *API) handleListDoctors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.ClaimsFromContext(ctx)
	clinicID := chi.URLParam(r, "clinicID")
	if err := a.deps.Guard.CheckDataIsolation(ctx, claims, auth.Resource{ClinicID: clinicID}); err != nil {
		writeError(w, r, err)
		return
	}
	accounts, err := a.deps.Directory.ClinicAccounts(ctx, clinicID)
	if err != nil {
		writeError(w, r, apperr.Unavailable("directory", err))
		return
	}
	doctors := make([]auth.Account, 0, len(accounts))
	for _, acct := range accounts {
		if acct.Role == auth.RoleDoctor {
			doctors = append(doctors, acct)
		}
	}
	visible := auth.FilterByScope(claims, doctors,
		func(acct auth.Account) string { return acct.ClinicID },
		func(acct auth.Account) string { return acct.DoctorID },
	)
	out := make([]doctorEntry, 0, len(visible))
	for _, acct := range visible {
		out = append(out, doctorEntry{
			UserID:   acct.UserID,
			DoctorID: acct.DoctorID,
			Phone:    a.maskPhone(acct.Phone),
			Status:   string(acct.Status),
		})
	}
	writeData(w, http.StatusOK, out)
}
