package auth

import (
	"net/http"
	"strings"

	"healthcare-gateway/middleware/requestctx"
)

const APIPrefix = "/api/v1"

const (
	NamespaceAuth          = APIPrefix + "/auth"
	NamespaceAppointments  = APIPrefix + "/appointments"
	NamespacePatients      = APIPrefix + "/patients"
	NamespaceProviders     = APIPrefix + "/providers"
	NamespaceBilling       = APIPrefix + "/billing"
	NamespaceNotifications = APIPrefix + "/notifications"
)

var (
	doctorNamespaces  = []string{NamespaceAppointments, NamespacePatients, NamespaceProviders}
	patientNamespaces = []string{NamespaceAppointments, NamespacePatients, NamespaceBilling}

	selfService = map[string]bool{
		NamespaceAuth + "/me":     true,
		NamespaceAuth + "/logout": true,
	}

	publicExact = map[string]bool{
		"/health":                   true,
		"/api/health":               true,
		"/metrics":                  true,
		NamespaceAuth + "/login":    true,
		NamespaceAuth + "/register": true,
		NamespaceAuth + "/token":    true,
	}
	// WebSocket upgrades carry their token in the query; the relay checks it.
	publicPrefixes = []string{"/ws/"}
)

// IsPublic reports whether path is served without a bearer token.
func IsPublic(path string) bool {
	if publicExact[strings.TrimSuffix(path, "/")] {
		return true
	}
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Authorize evaluates the access rules in order, first match wins. The table
// is kept literally, gaps included: doctors get no billing access, and
// notifications are open to every authenticated caller.
func Authorize(id requestctx.Identity, path, method string) bool {
	switch {
	case id.Role == requestctx.RoleAdmin:
		return true
	case under(path, NamespaceNotifications):
		return true
	case under(path, NamespaceProviders) && method == http.MethodGet:
		return true
	case id.Role == requestctx.RoleDoctor && underAny(path, doctorNamespaces):
		return true
	case id.Role == requestctx.RolePatient && underAny(path, patientNamespaces):
		return true
	case selfService[strings.TrimSuffix(path, "/")]:
		return true
	}
	return false
}

// under reports whether path is ns itself or below it. "/api/v1/billingx" is
// not under "/api/v1/billing".
func under(path, ns string) bool {
	return path == ns || strings.HasPrefix(path, ns+"/")
}

func underAny(path string, namespaces []string) bool {
	for _, ns := range namespaces {
		if under(path, ns) {
			return true
		}
	}
	return false
}
