// Package ticketing integrates the inventory with ServiceNow: creating
// renewal incidents for expiring certificates and processing assignment
// webhooks back into certificate status updates.
package ticketing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the slice of the Secrets Manager client the package uses.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Credentials holds the ServiceNow connection settings stored as a JSON
// secret. Caller, BusinessService, ServiceOffering and Company are routing
// fields copied into every incident.
type Credentials struct {
	Instance     string `json:"instance"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Username     string `json:"username"`
	Password     string `json:"password"`

	Caller          string `json:"caller"`
	BusinessService string `json:"business_service"`
	ServiceOffering string `json:"service_offering"`
	Company         string `json:"company"`
}

type webhookSecret struct {
	WebhookSecret string `json:"webhook_secret"`
}

// Secrets fetches and caches ServiceNow secrets. Secret values rotate rarely;
// a process restart picks up new values.
type Secrets struct {
	client SecretsAPI

	mu      sync.Mutex
	creds   map[string]*Credentials
	webhook map[string]string
}

func NewSecrets(client SecretsAPI) *Secrets {
	return &Secrets{
		client:  client,
		creds:   make(map[string]*Credentials),
		webhook: make(map[string]string),
	}
}

// Credentials returns the ServiceNow credentials stored under the given
// secret name.
func (s *Secrets) Credentials(ctx context.Context, name string) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.creds[name]; ok {
		return c, nil
	}

	raw, err := s.fetch(ctx, name)
	if err != nil {
		return nil, err
	}

	var c Credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse secret %s: %w", name, err)
	}
	if c.Instance == "" {
		return nil, fmt.Errorf("secret %s: missing instance", name)
	}
	if c.Caller == "" {
		c.Caller = c.Username
	}

	s.creds[name] = &c
	return &c, nil
}

// WebhookSecret returns the shared signing key for incoming webhooks, stored
// as {"webhook_secret": "..."} under the given secret name.
func (s *Secrets) WebhookSecret(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.webhook[name]; ok {
		return v, nil
	}

	raw, err := s.fetch(ctx, name)
	if err != nil {
		return "", err
	}

	var w webhookSecret
	if err := json.Unmarshal(raw, &w); err != nil {
		return "", fmt.Errorf("parse secret %s: %w", name, err)
	}

	s.webhook[name] = w.WebhookSecret
	return w.WebhookSecret, nil
}

func (s *Secrets) fetch(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s: empty value", name)
	}
	return []byte(*out.SecretString), nil
}
