// Package excel imports certificate inventories from uploaded spreadsheets.
// Real-world sheets arrive with wildly inconsistent column headers and date
// formats, so parsing is tolerant: headers are matched against a synonym
// table and dates are tried against every format seen in production exports.
package excel

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/certops/certdash/internal/common"
	"github.com/certops/certdash/internal/server/models"
)

// Column synonyms, keyed by canonical field name. Matching is done on
// lowercased headers with spaces collapsed to underscores.
var columnSynonyms = map[string][]string{
	"SerialNumber":    {"sn", "serial_number", "serialnumber", "number"},
	"CertificateName": {"certificate_name", "certificatename", "cert_name", "name", "certificate"},
	"CommonName":      {"common_name", "commonname", "cn", "domain", "fqdn"},
	"ExpiryDate":      {"exp_date", "expiry_date", "expirydate", "expiration_date", "expires", "expiry"},
	"AccountNumber":   {"account_number", "accountnumber", "account", "acc_number"},
	"Application":     {"application", "app", "service", "system"},
	"Environment":     {"env", "environment", "stage"},
	"Type":            {"type", "certificate_type", "cert_type", "ssl_type"},
	"OwnerEmail":      {"owner_email", "owneremail", "owner", "contact_email", "contact"},
	"SupportEmail":    {"support_email", "supportemail", "support"},
	"IncidentNumber":  {"incident_number", "incidentnumber", "incident", "ticket_number"},
	"Notes":           {"notes", "note", "comments", "renewal_log", "log"},
	"Issuer":          {"issuer", "issued_by", "ca"},
	"Region":          {"region", "aws_region"},
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"2006/01/02",
	"2 January 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01-02-06", // excelize default number format for date cells
}

// ParseDate tries each known layout and returns midnight UTC of the parsed
// calendar date. Unparseable input is reported, never silently defaulted.
func ParseDate(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, common.ErrInvalidDate
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", common.ErrInvalidDate, value)
}

// canonicalColumn resolves one header cell to a canonical field name, or ""
// when the column is not recognized (such columns are ignored).
func canonicalColumn(header string) string {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(header)), " ", "_")
	for name, variants := range columnSynonyms {
		if normalized == strings.ToLower(name) {
			return name
		}
		for _, v := range variants {
			if normalized == v {
				return name
			}
		}
	}
	return ""
}

// RowError reports one spreadsheet row that could not be turned into a
// candidate record. Row is the 1-based sheet row.
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// Parse reads the first sheet of an .xlsx document. The first row is the
// header; every following non-empty row yields one candidate record.
// Rows with an unparseable expiry date are reported in the error slice and
// skipped, the rest of the sheet still imports.
func Parse(r io.Reader) ([]*models.PartialCertificate, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	columns := make([]string, len(rows[0]))
	for i, header := range rows[0] {
		columns[i] = canonicalColumn(header)
	}

	var records []*models.PartialCertificate
	var rowErrs []RowError

	for i, row := range rows[1:] {
		sheetRow := i + 2
		fields := make(map[string]string)
		for j, cell := range row {
			if j >= len(columns) || columns[j] == "" {
				continue
			}
			value := strings.TrimSpace(cell)
			if value != "" {
				fields[columns[j]] = value
			}
		}
		if len(fields) == 0 {
			continue
		}

		record, err := buildRecord(fields)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: sheetRow, Err: err})
			continue
		}
		records = append(records, record)
	}

	return records, rowErrs, nil
}

func buildRecord(fields map[string]string) (*models.PartialCertificate, error) {
	expiry, err := ParseDate(fields["ExpiryDate"])
	if err != nil {
		return nil, err
	}

	commonName := fields["CommonName"]
	if commonName == "" {
		// Older sheets carry the domain in the name column.
		commonName = fields["CertificateName"]
	}

	record := &models.PartialCertificate{
		Source:        models.SourceExcel,
		AccountNumber: fields["AccountNumber"],
		CommonName:    commonName,
		ExpiryDate:    &expiry,

		CertificateName: optional(fields, "CertificateName"),
		SerialNumber:    optional(fields, "SerialNumber"),
		Application:     optional(fields, "Application"),
		Environment:     optional(fields, "Environment"),
		Type:            optional(fields, "Type"),
		Issuer:          optional(fields, "Issuer"),
		Region:          optional(fields, "Region"),

		OwnerEmail:     optional(fields, "OwnerEmail"),
		SupportEmail:   optional(fields, "SupportEmail"),
		IncidentNumber: optional(fields, "IncidentNumber"),
		Notes:          optional(fields, "Notes"),
	}
	return record, nil
}

func optional(fields map[string]string, name string) *string {
	if v, ok := fields[name]; ok {
		return &v
	}
	return nil
}
