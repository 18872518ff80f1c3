package ticketing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certops/certdash/internal/logging"
)

func testCredentials() *Credentials {
	return &Credentials{
		Instance:        "acme",
		ClientID:        "client-id",
		ClientSecret:    "client-secret",
		Username:        "svc-certs",
		Password:        "hunter2",
		Caller:          "svc-certs",
		BusinessService: "Certificate Management",
		ServiceOffering: "Certificate Management",
		Company:         "Acme B.V.",
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(testCredentials(), logging.NewNopLogger())
	c.baseURL = srv.URL
	return c, srv
}

func TestCreateIncident(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/oauth_token.do", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "client-id", user)
		assert.Equal(t, "client-secret", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "svc-certs", r.PostForm.Get("username"))
		assert.Equal(t, "hunter2", r.PostForm.Get("password"))
		assert.Equal(t, "useraccount", r.PostForm.Get("scope"))

		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-123"})
	})

	mux.HandleFunc("/api/x_lsmcb_sca/sc", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "incident", payload["interface"])
		assert.Equal(t, "certificate_monitoring", payload["sender"])
		assert.Equal(t, "Certificate Expiring: api.example.com (PROD)", payload["short_description"])
		assert.Equal(t, "cert-1", payload["correlation_id"])
		assert.Equal(t, "cert-1", payload["u_certificate_id"])
		assert.Equal(t, "Acme B.V.", payload["company"])
		assert.Equal(t, "2", payload["priority"])
		assert.Equal(t, "5", payload["u_days_until_expiry"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]string{"number": "INC0012345"}})
	})

	client, _ := newTestClient(t, mux)

	number, err := client.CreateIncident(context.Background(), Incident{
		ShortDescription: "Certificate Expiring: api.example.com (PROD)",
		Description:      "details",
		CorrelationID:    "cert-1",
		Priority:         "2",
		CertificateID:    "cert-1",
		ExpiryDate:       "2026-09-05",
		Environment:      "PROD",
		Application:      "billing",
		DaysUntilExpiry:  5,
	})
	require.NoError(t, err)
	assert.Equal(t, "INC0012345", number)
}

func TestCreateIncident_TokenRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth_token.do", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	})

	client, _ := newTestClient(t, mux)

	_, err := client.CreateIncident(context.Background(), Incident{CorrelationID: "cert-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestCreateIncident_MissingToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth_token.do", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	})

	client, _ := newTestClient(t, mux)

	_, err := client.CreateIncident(context.Background(), Incident{CorrelationID: "cert-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access_token")
}

func TestCreateIncident_APIFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth_token.do", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
	})
	mux.HandleFunc("/api/x_lsmcb_sca/sc", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	client, _ := newTestClient(t, mux)

	_, err := client.CreateIncident(context.Background(), Incident{CorrelationID: "cert-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestCreateIncident_MissingNumber(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth_token.do", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
	})
	mux.HandleFunc("/api/x_lsmcb_sca/sc", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]string{}})
	})

	client, _ := newTestClient(t, mux)

	_, err := client.CreateIncident(context.Background(), Incident{CorrelationID: "cert-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no incident number")
}
