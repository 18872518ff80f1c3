// Package serverscan discovers certificates installed on managed EC2
// instances through SSM Run Command. Windows agents report text blocks from
// the machine certificate stores, Linux agents report a JSON array built
// from the files under /etc/ssl and /etc/pki.
package serverscan

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/certops/certdash/internal/server/models"
)

// Instance describes one SSM-managed server.
type Instance struct {
	ID           string
	Name         string
	Platform     string // Windows or Linux
	PlatformName string
	IPAddress    string
}

var (
	subjectRe    = regexp.MustCompile(`Subject\s*:\s*(.+)`)
	issuerRe     = regexp.MustCompile(`Issuer\s*:\s*(.+)`)
	validUntilRe = regexp.MustCompile(`Valid Until\s*:\s*(.+)`)
	thumbprintRe = regexp.MustCompile(`Thumbprint\s*:\s*(.+)`)
	cnRe         = regexp.MustCompile(`CN=([^,]+)`)
)

const windowsBlockSeparator = "----------------------------------------"

// CommonNameFromSubject pulls the CN out of an X.509 subject line, falling
// back to the whole subject when there is none.
func CommonNameFromSubject(subject string) string {
	if m := cnRe.FindStringSubmatch(subject); m != nil {
		return strings.TrimSpace(m[1])
	}
	return subject
}

// ParseWindowsOutput parses the text blocks emitted by the Windows scan
// document. Blocks missing a subject, expiry, or thumbprint are skipped.
func ParseWindowsOutput(output string, inst Instance, account string) []*models.PartialCertificate {
	var records []*models.PartialCertificate

	for _, block := range strings.Split(output, windowsBlockSeparator) {
		if strings.TrimSpace(block) == "" {
			continue
		}

		subject := matchField(subjectRe, block)
		validUntil := matchField(validUntilRe, block)
		thumbprint := matchField(thumbprintRe, block)
		if subject == "" || validUntil == "" || thumbprint == "" {
			continue
		}

		expiry, ok := parseWindowsDate(validUntil)
		if !ok {
			continue
		}

		issuer := matchField(issuerRe, block)
		records = append(records, newScanRecord(inst, account, scanResult{
			commonName: CommonNameFromSubject(subject),
			subject:    subject,
			issuer:     issuer,
			thumbprint: thumbprint,
			expiry:     expiry,
		}))
	}

	return records
}

// linuxCert matches the JSON produced by the Linux scan document.
type linuxCert struct {
	Subject     string `json:"subject"`
	Issuer      string `json:"issuer"`
	NotAfter    string `json:"notAfter"`
	Fingerprint string `json:"fingerprint"`
	Path        string `json:"path"`
}

// ParseLinuxOutput parses the JSON array emitted by the Linux scan document.
// Invalid JSON yields no records; entries with unparseable dates or missing
// fingerprints are skipped.
func ParseLinuxOutput(output string, inst Instance, account string) []*models.PartialCertificate {
	var certs []linuxCert
	if err := json.Unmarshal([]byte(output), &certs); err != nil {
		return nil
	}

	var records []*models.PartialCertificate
	for _, c := range certs {
		if c.Fingerprint == "" {
			continue
		}
		// openssl -enddate format, e.g. "Apr  5 00:00:00 2027 GMT"
		t, err := time.Parse("Jan _2 15:04:05 2006 MST", c.NotAfter)
		if err != nil {
			continue
		}
		records = append(records, newScanRecord(inst, account, scanResult{
			commonName: CommonNameFromSubject(c.Subject),
			subject:    c.Subject,
			issuer:     c.Issuer,
			thumbprint: c.Fingerprint,
			expiry:     midnightUTC(t),
			filePath:   c.Path,
		}))
	}
	return records
}

type scanResult struct {
	commonName string
	subject    string
	issuer     string
	thumbprint string
	expiry     time.Time
	filePath   string
}

func newScanRecord(inst Instance, account string, res scanResult) *models.PartialCertificate {
	environment := EnvironmentFromServerName(inst.Name)
	record := &models.PartialCertificate{
		Source:        models.SourceServerScan,
		ServerID:      inst.ID,
		Thumbprint:    res.thumbprint,
		AccountNumber: account,
		CommonName:    res.commonName,

		CertificateName: strptr(res.commonName),
		Subject:         strptr(res.subject),
		Issuer:          strptr(res.issuer),
		Environment:     strptr(environment),
		ServerName:      strptr(inst.Name),
		ServerPlatform:  strptr(inst.PlatformName),
		FilePath:        strptr(res.filePath),
	}
	expiry := res.expiry
	record.ExpiryDate = &expiry
	return record
}

var windowsDateLayouts = []string{
	"1/2/2006 3:04:05 PM",
	"1/2/2006",
}

func parseWindowsDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(windowsDateLayouts[0], value); err == nil {
		return midnightUTC(t), true
	}
	// Some locales emit a bare date followed by extra tokens.
	if fields := strings.Fields(value); len(fields) > 0 {
		if t, err := time.Parse(windowsDateLayouts[1], fields[0]); err == nil {
			return midnightUTC(t), true
		}
	}
	return time.Time{}, false
}

// EnvironmentFromServerName infers the environment from naming conventions.
func EnvironmentFromServerName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case containsAny(lower, "prod", "prd", "production"):
		return "PROD"
	case containsAny(lower, "test", "tst", "qa", "uat"):
		return "TEST"
	case containsAny(lower, "dev", "development"):
		return "DEV"
	case containsAny(lower, "stg", "stage", "staging"):
		return "STAGING"
	default:
		return "UNKNOWN"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func matchField(re *regexp.Regexp, block string) string {
	if m := re.FindStringSubmatch(block); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func strptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
