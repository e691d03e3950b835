package auth

import (
	"fmt"
	"sort"
)

// Role is the fixed role a user is created with.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleDoctor Role = "DOCTOR"
)

// Roles lists every known role.
var Roles = []Role{RoleAdmin, RoleDoctor}

// ParseRole maps a wire value onto a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleDoctor:
		return Role(s), nil
	}
	return "", fmt.Errorf("auth: unknown role %q", s)
}

// DataAccessScope bounds which rows a role may read inside its clinic.
type DataAccessScope string

const (
	ScopeClinicAll DataAccessScope = "CLINIC_ALL"
	ScopeDoctorOwn DataAccessScope = "DOCTOR_OWN"
)

// Permission is a capability tag.
type Permission string

// Doctor management.
const (
	PermManageDoctors  Permission = "manage_doctors"
	PermViewAllDoctors Permission = "view_all_doctors"
	PermAddDoctor      Permission = "add_doctor"
	PermEditDoctor     Permission = "edit_doctor"
	PermRemoveDoctor   Permission = "remove_doctor"
)

// Queue management.
const (
	PermViewAllQueues   Permission = "view_all_queues"
	PermManageAllQueues Permission = "manage_all_queues"
	PermStartAnyQueue   Permission = "start_any_queue"
	PermPauseAnyQueue   Permission = "pause_any_queue"
	PermCloseAnyQueue   Permission = "close_any_queue"

	PermViewOwnQueue     Permission = "view_own_queue"
	PermManageOwnQueue   Permission = "manage_own_queue"
	PermStartOwnQueue    Permission = "start_own_queue"
	PermPauseOwnQueue    Permission = "pause_own_queue"
	PermCloseOwnQueue    Permission = "close_own_queue"
	PermCallNextPatient  Permission = "call_next_patient"
	PermSkipPatient      Permission = "skip_patient"
	PermManageOwnTokens  Permission = "manage_own_tokens"
	PermCreateToken      Permission = "create_token"
	PermUpdateTokenState Permission = "update_token_status"
	PermCancelToken      Permission = "cancel_token"
	PermViewTokenHistory Permission = "view_token_history"
)

// Patient association.
const (
	PermViewAllPatientAssociations Permission = "view_all_patient_associations"
	PermViewOwnPatients            Permission = "view_own_patients"
	PermManageOwnAssociations      Permission = "manage_own_patient_associations"
	PermAddPatientAssociation      Permission = "add_patient_association"
	PermUpdatePatientAssociation   Permission = "update_patient_association"
	PermRemovePatientAssociation   Permission = "remove_patient_association"
	PermExportPatientData          Permission = "export_patient_data"
	PermManagePatientPrivacy       Permission = "manage_patient_privacy"
)

// Medical documentation.
const (
	PermViewAllVisitRecords Permission = "view_all_visit_records"
	PermViewAllMedicalNotes Permission = "view_all_medical_notes"
	PermViewDoctorNotes     Permission = "view_doctor_notes"
	PermAddVisitNotes       Permission = "add_visit_notes"
	PermEditVisitNotes      Permission = "edit_visit_notes"
	PermAddDiagnosis        Permission = "add_diagnosis"
	PermEditDiagnosis       Permission = "edit_diagnosis"
	PermAddPrescription     Permission = "add_prescription"
	PermEditPrescription    Permission = "edit_prescription"
	PermAddPrivateNotes     Permission = "add_private_notes"
	PermViewOwnVisitHistory Permission = "view_own_visit_history"
)

// Financial.
const (
	PermViewSubscription   Permission = "view_subscription"
	PermManageSubscription Permission = "manage_subscription"
	PermManagePayments     Permission = "manage_payments"
	PermViewRevenue        Permission = "view_revenue"
	PermViewBillingHistory Permission = "view_billing_history"
	PermDownloadReports    Permission = "download_reports"
	PermManagePricing      Permission = "manage_pricing"
	PermViewOwnRevenue     Permission = "view_own_revenue"
)

// System administration.
const (
	PermConfigureWhatsApp   Permission = "configure_whatsapp"
	PermManageSettings      Permission = "manage_settings"
	PermManageUsers         Permission = "manage_users"
	PermViewAuditLogs       Permission = "view_audit_logs"
	PermManageClinicProfile Permission = "manage_clinic_profile"
	PermSendPatientMessages Permission = "send_patient_messages"
	PermManageNotifications Permission = "manage_patient_notifications"
)

// Analytics.
const (
	PermViewClinicAnalytics   Permission = "view_clinic_analytics"
	PermViewDoctorPerformance Permission = "view_doctor_performance"
	PermGenerateReports       Permission = "generate_reports"
	PermExportAnalytics       Permission = "export_analytics"
	PermViewOwnStatistics     Permission = "view_own_statistics"
	PermViewOwnPerformance    Permission = "view_own_performance"
)

// Tags that no role is ever granted. They name the boundaries enforced by
// CheckDataIsolation and exist so tests can assert they stay ungranted.
const (
	PermViewOtherDoctorPatients Permission = "view_other_doctor_patients"
	PermViewOtherDoctorNotes    Permission = "view_other_doctor_notes"
	PermViewCrossClinicPatients Permission = "view_cross_clinic_patient_data"
	PermManageOtherQueues       Permission = "manage_other_queues"
	PermViewOtherDoctorRevenue  Permission = "view_other_doctor_revenue"
)

// PermissionSet is an immutable-by-convention set of permissions.
type PermissionSet map[Permission]struct{}

func newPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the members in lexical order.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s PermissionSet) clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

var adminPermissions = newPermissionSet(
	PermManageDoctors, PermViewAllDoctors, PermAddDoctor, PermEditDoctor, PermRemoveDoctor,
	PermViewAllQueues, PermManageAllQueues, PermStartAnyQueue, PermPauseAnyQueue, PermCloseAnyQueue,
	PermViewAllPatientAssociations, PermViewAllVisitRecords, PermViewAllMedicalNotes,
	PermViewDoctorNotes, PermExportPatientData, PermManagePatientPrivacy,
	PermViewSubscription, PermManageSubscription, PermManagePayments, PermViewRevenue,
	PermViewBillingHistory, PermDownloadReports, PermManagePricing,
	PermConfigureWhatsApp, PermManageSettings, PermManageUsers, PermViewAuditLogs, PermManageClinicProfile,
	PermViewClinicAnalytics, PermViewDoctorPerformance, PermGenerateReports, PermExportAnalytics,
)

var doctorPermissions = newPermissionSet(
	PermViewOwnQueue, PermManageOwnQueue, PermStartOwnQueue, PermPauseOwnQueue, PermCloseOwnQueue,
	PermCallNextPatient, PermSkipPatient,
	PermManageOwnTokens, PermCreateToken, PermUpdateTokenState, PermCancelToken, PermViewTokenHistory,
	PermViewOwnPatients, PermManageOwnAssociations, PermAddPatientAssociation,
	PermUpdatePatientAssociation, PermRemovePatientAssociation,
	PermAddVisitNotes, PermEditVisitNotes, PermAddDiagnosis, PermEditDiagnosis,
	PermAddPrescription, PermEditPrescription, PermAddPrivateNotes, PermViewOwnVisitHistory,
	PermViewOwnStatistics, PermViewOwnPerformance, PermViewOwnRevenue,
	PermSendPatientMessages, PermManageNotifications,
)

var adminOnly = newPermissionSet(
	PermManageDoctors, PermManageSubscription, PermViewRevenue, PermConfigureWhatsApp, PermManageSettings,
)

var deniedToDoctor = newPermissionSet(
	PermViewOtherDoctorPatients, PermViewOtherDoctorNotes, PermViewCrossClinicPatients,
	PermManageOtherQueues, PermViewOtherDoctorRevenue,
	PermManageDoctors, PermManageSubscription, PermViewRevenue, PermManageSettings, PermConfigureWhatsApp,
)

// Empty today.
var sharedPermissions = newPermissionSet()

var (
	patientManagement = []Permission{
		PermViewOwnPatients, PermManageOwnAssociations, PermAddPatientAssociation,
		PermUpdatePatientAssociation, PermRemovePatientAssociation, PermViewAllPatientAssociations,
	}
	medicalDocumentation = []Permission{
		PermAddVisitNotes, PermEditVisitNotes, PermAddDiagnosis, PermEditDiagnosis,
		PermAddPrescription, PermEditPrescription, PermAddPrivateNotes,
		PermViewOwnVisitHistory, PermViewAllVisitRecords, PermViewAllMedicalNotes,
	}
	queueManagement = []Permission{
		PermViewOwnQueue, PermManageOwnQueue, PermStartOwnQueue, PermPauseOwnQueue, PermCloseOwnQueue,
		PermViewAllQueues, PermManageAllQueues, PermStartAnyQueue, PermPauseAnyQueue, PermCloseAnyQueue,
	}
)

// AdminOnly returns the capabilities a doctor must never hold.
func AdminOnly() PermissionSet { return adminOnly.clone() }

// DeniedToDoctor returns the tags explicitly outside a doctor's reach.
func DeniedToDoctor() PermissionSet { return deniedToDoctor.clone() }

// SharedPermissions returns the tags that may appear in both role sets.
func SharedPermissions() PermissionSet { return sharedPermissions.clone() }

// PatientManagement, MedicalDocumentation and QueueManagement return the
// permission families handlers accept any member of.
func PatientManagement() []Permission { return append([]Permission(nil), patientManagement...) }

func MedicalDocumentation() []Permission { return append([]Permission(nil), medicalDocumentation...) }

func QueueManagement() []Permission { return append([]Permission(nil), queueManagement...) }

// PermissionsFor returns a fresh copy of the catalog set for role.
// An unknown role is a programming error and panics.
func PermissionsFor(role Role) PermissionSet {
	switch role {
	case RoleAdmin:
		return adminPermissions.clone()
	case RoleDoctor:
		return doctorPermissions.clone()
	}
	panic(fmt.Sprintf("auth: no permission set for role %q", role))
}

// ScopeFor returns the data-access scope of role. Panics on unknown roles.
func ScopeFor(role Role) DataAccessScope {
	switch role {
	case RoleAdmin:
		return ScopeClinicAll
	case RoleDoctor:
		return ScopeDoctorOwn
	}
	panic(fmt.Sprintf("auth: no data scope for role %q", role))
}

// AllPermissions lists every declared tag, granted or not.
func AllPermissions() []Permission {
	set := adminPermissions.clone()
	for p := range doctorPermissions {
		set[p] = struct{}{}
	}
	for p := range deniedToDoctor {
		set[p] = struct{}{}
	}
	return set.Sorted()
}
