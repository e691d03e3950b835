package auth

// CanManageDoctor reports whether claims may administer doctor records.
func CanManageDoctor(claims IdentityClaims) bool {
	return claims.HasPermission(PermManageDoctors)
}

// CanAccessQueue reports whether claims may operate the queue of doctorID.
func CanAccessQueue(claims IdentityClaims, doctorID string) bool {
	if claims.HasPermission(PermManageAllQueues) {
		return true
	}
	return claims.HasPermission(PermManageOwnQueue) && claims.DoctorID != "" && claims.DoctorID == doctorID
}

// CanAccessVisitRecord reports whether claims may read a visit written by doctorID.
func CanAccessVisitRecord(claims IdentityClaims, doctorID string) bool {
	if claims.HasPermission(PermViewAllVisitRecords) {
		return true
	}
	return claims.HasPermission(PermViewOwnVisitHistory) && claims.DoctorID != "" && claims.DoctorID == doctorID
}

// CanManageSubscription reports whether claims may change billing plans.
func CanManageSubscription(claims IdentityClaims) bool {
	return claims.HasPermission(PermManageSubscription)
}

// CanViewAnalytics reports whether claims may read clinic-wide analytics.
func CanViewAnalytics(claims IdentityClaims) bool {
	return claims.HasPermission(PermViewClinicAnalytics)
}

// AccessibleDoctorIDs narrows clinicDoctorIDs to the doctors claims may see.
// CLINIC_ALL identities get the input back unchanged.
func AccessibleDoctorIDs(claims IdentityClaims, clinicDoctorIDs []string) []string {
	if claims.Scope == ScopeClinicAll {
		return clinicDoctorIDs
	}
	for _, id := range clinicDoctorIDs {
		if id == claims.DoctorID {
			return []string{id}
		}
	}
	return []string{}
}

// FilterByScope keeps the items claims may read. doctorOf returns the owning
// doctor id of an item; clinicOf its clinic id.
func FilterByScope[T any](claims IdentityClaims, items []T, clinicOf, doctorOf func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if clinicOf(item) != claims.ClinicID {
			continue
		}
		if claims.Scope == ScopeDoctorOwn && doctorOf(item) != claims.DoctorID {
			continue
		}
		out = append(out, item)
	}
	return out
}
