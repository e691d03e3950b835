package auth

import (
	"context"
	"strings"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/audit"
	"pulseops.app/internal/obs"
)

// Resource describes the tenancy coordinates of the data a request touches.
type Resource struct {
	ClinicID  string
	DoctorID  string
	PatientID string
}

// Guard enforces permission, role and data-isolation checks. Every decision
// is written to the audit trail.
type Guard struct {
	trail *audit.Trail
}

// NewGuard builds a Guard. A nil trail disables auditing.
func NewGuard(trail *audit.Trail) *Guard {
	return &Guard{trail: trail}
}

// RequirePermission fails with INSUFFICIENT_PERMISSIONS unless claims hold perm.
func (g *Guard) RequirePermission(ctx context.Context, claims IdentityClaims, perm Permission) error {
	allowed := claims.HasPermission(perm)
	g.decide(ctx, claims, "permission", allowed, map[string]any{"permission": string(perm)})
	if !allowed {
		return apperr.InsufficientPermissions(string(perm))
	}
	return nil
}

// RequireAnyPermission passes when claims hold at least one of perms.
func (g *Guard) RequireAnyPermission(ctx context.Context, claims IdentityClaims, perms ...Permission) error {
	names := make([]string, len(perms))
	allowed := false
	for i, p := range perms {
		names[i] = string(p)
		if claims.HasPermission(p) {
			allowed = true
		}
	}
	g.decide(ctx, claims, "any_permission", allowed, map[string]any{"permissions": names})
	if !allowed {
		return apperr.InsufficientPermissions(names...)
	}
	return nil
}

// RequireRole fails with ROLE_REQUIRED unless claims carry role.
func (g *Guard) RequireRole(ctx context.Context, claims IdentityClaims, role Role) error {
	allowed := claims.Role == role
	g.decide(ctx, claims, "role", allowed, map[string]any{"required_role": string(role)})
	if !allowed {
		return apperr.New(apperr.CodeRoleRequired, "").With("required_role", string(role))
	}
	return nil
}

// CheckDataIsolation enforces tenancy boundaries:
// the clinic must always match; a doctor may only reach resources of their
// own doctor id; for patient-scoped resources the doctor must own the
// association. Admins bypass the doctor and patient boundaries only.
func (g *Guard) CheckDataIsolation(ctx context.Context, claims IdentityClaims, res Resource) error {
	res.ClinicID = strings.TrimSpace(res.ClinicID)
	res.DoctorID = strings.TrimSpace(res.DoctorID)
	res.PatientID = strings.TrimSpace(res.PatientID)

	details := map[string]any{"resource_clinic_id": res.ClinicID}
	if res.DoctorID != "" {
		details["resource_doctor_id"] = res.DoctorID
	}
	if res.PatientID != "" {
		details["resource_patient_id"] = res.PatientID
	}

	if res.ClinicID == "" || res.ClinicID != claims.ClinicID {
		g.isolation(ctx, claims, "clinic", false, details)
		return apperr.New(apperr.CodeClinicAccessDenied, "").
			With("user_clinic_id", claims.ClinicID).
			With("resource_clinic_id", res.ClinicID)
	}

	if claims.IsDoctor() && res.DoctorID != "" && res.DoctorID != claims.DoctorID {
		if res.PatientID != "" {
			g.isolation(ctx, claims, "patient", false, details)
			return apperr.New(apperr.CodePatientAccessDenied, "").
				With("user_doctor_id", claims.DoctorID).
				With("resource_doctor_id", res.DoctorID)
		}
		g.isolation(ctx, claims, "doctor", false, details)
		return apperr.New(apperr.CodeDoctorAccessDenied, "").
			With("user_doctor_id", claims.DoctorID).
			With("resource_doctor_id", res.DoctorID)
	}

	boundary := "clinic"
	switch {
	case res.PatientID != "" && res.DoctorID != "":
		boundary = "patient"
	case res.DoctorID != "":
		boundary = "doctor"
	}
	g.isolation(ctx, claims, boundary, true, details)
	return nil
}

func (g *Guard) decide(ctx context.Context, claims IdentityClaims, check string, allowed bool, details map[string]any) {
	obs.AuthzDecision(check, allowed)
	details["check"] = check
	g.trail.Record(ctx, audit.CategoryPermission, "permission_check", claims.Actor(), outcome(allowed), details)
}

func (g *Guard) isolation(ctx context.Context, claims IdentityClaims, boundary string, allowed bool, details map[string]any) {
	obs.AuthzDecision("isolation_"+boundary, allowed)
	details["boundary"] = boundary
	g.trail.Record(ctx, audit.CategoryDataAccess, "data_isolation_check", claims.Actor(), outcome(allowed), details)
}

func outcome(allowed bool) audit.Outcome {
	if allowed {
		return audit.OutcomeGranted
	}
	return audit.OutcomeDenied
}
