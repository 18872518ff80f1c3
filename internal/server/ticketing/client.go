package ticketing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/certops/certdash/internal/logging"
)

const (
	tokenPath    = "/oauth_token.do"
	incidentPath = "/api/x_lsmcb_sca/sc"

	requestTimeout = 30 * time.Second
)

// Incident carries the certificate-derived fields of a new ServiceNow
// incident. The credential-derived routing fields are filled in by the
// client.
type Incident struct {
	ShortDescription string
	Description      string
	CorrelationID    string
	Priority         string

	CertificateID   string
	ExpiryDate      string
	Environment     string
	Application     string
	DaysUntilExpiry int
}

// Client talks to one ServiceNow instance over its scripted REST API.
// An OAuth token is fetched per incident; creation is infrequent enough
// that caching tokens is not worth tracking their expiry.
type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      *Credentials
	logger     logging.Logger
}

var _ IncidentCreator = (*Client)(nil)

func NewClient(creds *Credentials, logger logging.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    fmt.Sprintf("https://%s.service-now.com", creds.Instance),
		creds:      creds,
		logger:     logger.With("module", "servicenow"),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// token performs the OAuth2 password grant against the instance.
func (c *Client) token(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.creds.Username},
		"password":   {c.creds.Password},
		"scope":      {"useraccount"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.creds.ClientID + ":" + c.creds.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response: no access_token")
	}
	return tok.AccessToken, nil
}

type incidentRequest struct {
	Interface        string `json:"interface"`
	Sender           string `json:"sender"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	Caller           string `json:"caller"`
	CorrelationID    string `json:"correlation_id"`
	BusinessService  string `json:"business_service"`
	ServiceOffering  string `json:"service_offering"`
	Company          string `json:"company"`
	Priority         string `json:"priority"`

	CertificateID   string `json:"u_certificate_id"`
	ExpiryDate      string `json:"u_expiry_date"`
	Environment     string `json:"u_environment"`
	Application     string `json:"u_application"`
	DaysUntilExpiry string `json:"u_days_until_expiry"`
}

type incidentResponse struct {
	Result struct {
		Number string `json:"number"`
	} `json:"result"`
}

// CreateIncident creates a renewal incident and returns its number
// (e.g. INC0012345).
func (c *Client) CreateIncident(ctx context.Context, inc Incident) (string, error) {
	accessToken, err := c.token(ctx)
	if err != nil {
		return "", err
	}

	payload := incidentRequest{
		Interface:        "incident",
		Sender:           "certificate_monitoring",
		ShortDescription: inc.ShortDescription,
		Description:      inc.Description,
		Caller:           c.creds.Caller,
		CorrelationID:    inc.CorrelationID,
		BusinessService:  c.creds.BusinessService,
		ServiceOffering:  c.creds.ServiceOffering,
		Company:          c.creds.Company,
		Priority:         inc.Priority,
		CertificateID:    inc.CertificateID,
		ExpiryDate:       inc.ExpiryDate,
		Environment:      inc.Environment,
		Application:      inc.Application,
		DaysUntilExpiry:  fmt.Sprintf("%d", inc.DaysUntilExpiry),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode incident: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+incidentPath, strings.NewReader(string(data)))
	if err != nil {
		return "", fmt.Errorf("build incident request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("incident request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("incident request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out incidentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode incident response: %w", err)
	}
	if out.Result.Number == "" {
		return "", fmt.Errorf("incident response: no incident number")
	}

	c.logger.Info(ctx, "incident created", "number", out.Result.Number, "correlationID", inc.CorrelationID)
	return out.Result.Number, nil
}
