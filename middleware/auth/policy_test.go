package auth

import (
	"net/http"
	"testing"

	"healthcare-gateway/middleware/requestctx"

	"github.com/stretchr/testify/assert"
)

func TestAuthorize_RuleTable(t *testing.T) {
	admin := requestctx.Identity{UserID: 1, Role: requestctx.RoleAdmin}
	doctor := requestctx.Identity{UserID: 2, Role: requestctx.RoleDoctor}
	patient := requestctx.Identity{UserID: 3, Role: requestctx.RolePatient}
	nobody := requestctx.Identity{UserID: 4}

	cases := []struct {
		name   string
		id     requestctx.Identity
		method string
		path   string
		want   bool
	}{
		{"admin anything", admin, http.MethodDelete, "/api/v1/labs/1", true},
		{"admin billing", admin, http.MethodPost, "/api/v1/billing", true},

		{"notifications for roleless", nobody, http.MethodGet, "/api/v1/notifications/3", true},
		{"notifications for patient", patient, http.MethodPost, "/api/v1/notifications", true},

		{"provider read for roleless", nobody, http.MethodGet, "/api/v1/providers/42", true},
		{"provider write for roleless", nobody, http.MethodPost, "/api/v1/providers", false},
		{"provider write for patient", patient, http.MethodPut, "/api/v1/providers/42", false},
		{"provider write for doctor", doctor, http.MethodPut, "/api/v1/providers/42", true},

		{"doctor appointments", doctor, http.MethodPost, "/api/v1/appointments", true},
		{"doctor patients", doctor, http.MethodGet, "/api/v1/patients/9", true},
		{"doctor billing denied", doctor, http.MethodGet, "/api/v1/billing/1", false},

		{"patient appointments", patient, http.MethodGet, "/api/v1/appointments/1", true},
		{"patient patients", patient, http.MethodPut, "/api/v1/patients/3", true},
		{"patient billing", patient, http.MethodGet, "/api/v1/billing/invoices", true},
		{"patient unlisted namespace", patient, http.MethodGet, "/api/v1/labs/1", false},

		{"me for roleless", nobody, http.MethodGet, "/api/v1/auth/me", true},
		{"logout for doctor", doctor, http.MethodPost, "/api/v1/auth/logout", true},
		{"other auth route denied", patient, http.MethodGet, "/api/v1/auth/users", false},

		{"roleless billing denied", nobody, http.MethodGet, "/api/v1/billing", false},
		{"namespace prefix is segment aware", patient, http.MethodGet, "/api/v1/billingx", false},
		{"unknown role gets nothing", requestctx.Identity{UserID: 5, Role: "nurse"}, http.MethodGet, "/api/v1/patients", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Authorize(tc.id, tc.path, tc.method))
		})
	}
}

func TestIsPublic(t *testing.T) {
	for _, p := range []string{
		"/health", "/api/health", "/metrics",
		"/api/v1/auth/login", "/api/v1/auth/register", "/api/v1/auth/token", "/api/v1/auth/login/",
		"/ws/notifications/7",
	} {
		assert.True(t, IsPublic(p), p)
	}
	for _, p := range []string{
		"/", "/api/v1/auth/me", "/api/v1/providers", "/api/v1/auth/login/extra", "/healthz",
	} {
		assert.False(t, IsPublic(p), p)
	}
}
