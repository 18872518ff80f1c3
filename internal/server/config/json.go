package config

import (
	"encoding/json"
	"os"

	"github.com/certops/certdash/internal/flagx"
	"github.com/certops/certdash/internal/timex"
)

// JsonConfig is the intermediate DTO for reading JSON configuration files.
// It uses timex.Duration for interval fields, which parses both string
// values such as "24h" and integer nanoseconds. After unmarshalling, its
// fields are copied into the runtime Config struct.
type JsonConfig struct {
	EndpointAddrHTTP string `json:"endpoint_addr_http"`

	StoreBackend      string `json:"store_backend"`
	DatabaseDSN       string `json:"database_dsn"`
	CertificatesTable string `json:"certificates_table"`
	LogsTable         string `json:"logs_table"`
	AccountIndexName  string `json:"account_index_name"`
	ServerIndexName   string `json:"server_index_name"`

	ACMRegions          []string `json:"acm_regions"`
	UploadBucket        string   `json:"upload_bucket"`
	LogsBucket          string   `json:"logs_bucket"`
	WindowsScanDocument string   `json:"windows_scan_document"`
	LinuxScanDocument   string   `json:"linux_scan_document"`

	NotifierBackend string `json:"notifier_backend"`
	SenderEmail     string `json:"sender_email"`
	SMTPHost        string `json:"smtp_host"`
	SMTPPort        string `json:"smtp_port"`
	SMTPUsername    string `json:"smtp_username"`
	SMTPPassword    string `json:"smtp_password"`

	SnowSecretName    string `json:"snow_secret_name"`
	WebhookSecretName string `json:"webhook_secret_name"`
	TicketingDryRun   *bool  `json:"ticketing_dry_run"`

	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`

	ThresholdDays int            `json:"threshold_days"`
	SyncInterval  timex.Duration `json:"sync_interval"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; when neither is set, no JSON file is loaded. Keys absent from the
// file leave the current values untouched.
//
// If the file cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.StoreBackend, c.StoreBackend)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.CertificatesTable, c.CertificatesTable)
	setString(&config.LogsTable, c.LogsTable)
	setString(&config.AccountIndexName, c.AccountIndexName)
	setString(&config.ServerIndexName, c.ServerIndexName)
	if len(c.ACMRegions) > 0 {
		config.ACMRegions = c.ACMRegions
	}
	setString(&config.UploadBucket, c.UploadBucket)
	setString(&config.LogsBucket, c.LogsBucket)
	setString(&config.WindowsScanDocument, c.WindowsScanDocument)
	setString(&config.LinuxScanDocument, c.LinuxScanDocument)
	setString(&config.NotifierBackend, c.NotifierBackend)
	setString(&config.SenderEmail, c.SenderEmail)
	setString(&config.SMTPHost, c.SMTPHost)
	setString(&config.SMTPPort, c.SMTPPort)
	setString(&config.SMTPUsername, c.SMTPUsername)
	setString(&config.SMTPPassword, c.SMTPPassword)
	setString(&config.SnowSecretName, c.SnowSecretName)
	setString(&config.WebhookSecretName, c.WebhookSecretName)
	if c.TicketingDryRun != nil {
		config.TicketingDryRun = *c.TicketingDryRun
	}
	setString(&config.SecretKey, c.SecretKey)
	if c.AccessTokenValidityDuration != 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Std()
	}
	if c.ThresholdDays != 0 {
		config.ThresholdDays = c.ThresholdDays
	}
	if c.SyncInterval != 0 {
		config.SyncInterval = c.SyncInterval.Std()
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
