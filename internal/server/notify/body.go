package notify

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/certops/certdash/internal/server/inventory"
	"github.com/certops/certdash/internal/server/models"
)

// urgentDays marks the cutoff below which an expiring certificate is
// highlighted as urgent in the HTML table.
const urgentDays = 7

// ExpiryAlert builds the batched notification for one recipient about
// certificates expiring within the threshold window.
func ExpiryAlert(recipient string, certs []*models.Certificate, thresholdDays int, today time.Time) Message {
	return Message{
		To:       []string{recipient},
		Subject:  fmt.Sprintf("Certificate Expiry Alert - %d Certificate(s) Expiring Soon", len(certs)),
		TextBody: expiryText(certs, thresholdDays, today),
		HTMLBody: expiryHTML(certs, thresholdDays, today),
	}
}

// StatusChangeAlert notifies the certificate owner that the lifecycle status
// was changed through the dashboard.
func StatusChangeAlert(recipient string, cert *models.Certificate, oldStatus models.Status) Message {
	subject := fmt.Sprintf("Certificate Status Changed - %s", cert.CommonName)
	text := fmt.Sprintf(`Certificate Status Change

Certificate: %s
Environment: %s
Expiry Date: %s
Previous Status: %s
New Status: %s

This is an automated message from the certificate management system.
`, orUnknown(cert.CommonName), orUnknown(cert.Environment),
		cert.ExpiryDate.Format("2006-01-02"), oldStatus, cert.Status)

	html := fmt.Sprintf(`<html><body>
<h2>Certificate Status Change</h2>
<p>The status of <strong>%s</strong> changed from <strong>%s</strong> to <strong>%s</strong>.</p>
<p>Environment: %s<br>Expiry date: %s</p>
<p>This is an automated message from the certificate management system.</p>
</body></html>`,
		template.HTMLEscapeString(cert.CommonName),
		template.HTMLEscapeString(string(oldStatus)),
		template.HTMLEscapeString(string(cert.Status)),
		template.HTMLEscapeString(orUnknown(cert.Environment)),
		cert.ExpiryDate.Format("2006-01-02"))

	return Message{
		To:       []string{recipient},
		Subject:  subject,
		TextBody: text,
		HTMLBody: html,
	}
}

func expiryText(certs []*models.Certificate, thresholdDays int, today time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Certificate Expiry Alert

This is an automated notification that %d certificate(s) are expiring within the next %d days.

Please take immediate action to renew the following certificates:

`, len(certs), thresholdDays)

	for _, cert := range certs {
		fmt.Fprintf(&b, `Certificate: %s
Environment: %s
Application: %s
Expiry Date: %s
Days Until Expiry: %d
Status: %s
---
`, orUnknown(displayName(cert)), orUnknown(cert.Environment), orUnknown(cert.Application),
			cert.ExpiryDate.Format("2006-01-02"),
			inventory.DaysUntil(cert.ExpiryDate, today), cert.Status)
	}

	b.WriteString(`
Next Steps:
1. Create a ServiceNow ticket for certificate renewal
2. Update the certificate status to "Renewal in Progress" in the dashboard
3. Coordinate with the certificate authority for renewal
4. Upload the new certificate once renewed

This is an automated message from the certificate management system.
`)
	return b.String()
}

var expiryHTMLTemplate = template.Must(template.New("expiry").Parse(`<html>
<head>
<style>
body { font-family: Arial, sans-serif; margin: 20px; }
.header { background-color: #f44336; color: white; padding: 15px; border-radius: 5px; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
th { background-color: #f2f2f2; }
tr.urgent td { border-left: 4px solid #f44336; }
tr.warning td { border-left: 4px solid #ff9800; }
.footer { background-color: #e0e0e0; padding: 10px; margin-top: 20px; border-radius: 5px; }
</style>
</head>
<body>
<div class="header">
<h2>Certificate Expiry Alert</h2>
<p>{{.Count}} certificate(s) are expiring within the next {{.ThresholdDays}} days.</p>
</div>
<table>
<tr><th>Certificate Name</th><th>Environment</th><th>Application</th><th>Expiry Date</th><th>Days Until Expiry</th><th>Owner</th><th>Status</th></tr>
{{range .Rows}}<tr class="{{.Urgency}}"><td>{{.Name}}</td><td>{{.Environment}}</td><td>{{.Application}}</td><td>{{.ExpiryDate}}</td><td>{{.Days}}</td><td>{{.Owner}}</td><td>{{.Status}}</td></tr>
{{end}}</table>
<div class="footer">
<h4>Next Steps:</h4>
<ol>
<li>Create a ServiceNow ticket for certificate renewal</li>
<li>Update the certificate status to "Renewal in Progress" in the dashboard</li>
<li>Coordinate with the certificate authority for renewal</li>
<li>Upload the new certificate once renewed</li>
</ol>
<p><strong>Important:</strong> This is an automated message from the certificate management system.</p>
</div>
</body>
</html>`))

type expiryRow struct {
	Name        string
	Environment string
	Application string
	ExpiryDate  string
	Days        int
	Owner       string
	Status      models.Status
	Urgency     string
}

func expiryHTML(certs []*models.Certificate, thresholdDays int, today time.Time) string {
	rows := make([]expiryRow, 0, len(certs))
	for _, cert := range certs {
		days := inventory.DaysUntil(cert.ExpiryDate, today)
		urgency := "warning"
		if days < urgentDays {
			urgency = "urgent"
		}
		rows = append(rows, expiryRow{
			Name:        orUnknown(displayName(cert)),
			Environment: orUnknown(cert.Environment),
			Application: orUnknown(cert.Application),
			ExpiryDate:  cert.ExpiryDate.Format("2006-01-02"),
			Days:        days,
			Owner:       orUnknown(cert.OwnerEmail),
			Status:      cert.Status,
			Urgency:     urgency,
		})
	}

	var b strings.Builder
	err := expiryHTMLTemplate.Execute(&b, struct {
		Count         int
		ThresholdDays int
		Rows          []expiryRow
	}{len(certs), thresholdDays, rows})
	if err != nil {
		// The template is static; execution can only fail on a broken writer.
		return expiryText(certs, thresholdDays, today)
	}
	return b.String()
}

func displayName(cert *models.Certificate) string {
	if cert.CertificateName != "" {
		return cert.CertificateName
	}
	return cert.CommonName
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
