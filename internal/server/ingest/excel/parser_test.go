package excel

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/certops/certdash/internal/common"
	"github.com/certops/certdash/internal/server/models"
)

func buildWorkbook(t *testing.T, rows [][]interface{}) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

func TestParse_HeaderSynonyms(t *testing.T) {
	wb := buildWorkbook(t, [][]interface{}{
		{"SN", "Certificate Name", "Expiry Date", "Account Number", "Owner Email", "env", "ticket_number"},
		{"001", "api.example.com", "2026-12-31", "123456789012", "owner@example.com", "prod", "INC0010001"},
	})

	records, rowErrs, err := Parse(wb)
	require.NoError(t, err)
	require.Empty(t, rowErrs)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, models.SourceExcel, r.Source)
	assert.Equal(t, "123456789012", r.AccountNumber)
	assert.Equal(t, "api.example.com", r.CommonName) // falls back to the name column
	require.NotNil(t, r.ExpiryDate)
	assert.Equal(t, time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), *r.ExpiryDate)
	require.NotNil(t, r.SerialNumber)
	assert.Equal(t, "001", *r.SerialNumber)
	require.NotNil(t, r.OwnerEmail)
	assert.Equal(t, "owner@example.com", *r.OwnerEmail)
	require.NotNil(t, r.Environment)
	assert.Equal(t, "prod", *r.Environment)
	require.NotNil(t, r.IncidentNumber)
	assert.Equal(t, "INC0010001", *r.IncidentNumber)
}

func TestParse_BadDateRowSkipped(t *testing.T) {
	wb := buildWorkbook(t, [][]interface{}{
		{"common_name", "account", "expiry"},
		{"good.example.com", "123456789012", "2026-12-31"},
		{"bad.example.com", "123456789012", "sometime next year"},
		{"also-good.example.com", "123456789012", "31/12/2026"},
	})

	records, rowErrs, err := Parse(wb)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Len(t, rowErrs, 1)

	assert.Equal(t, 3, rowErrs[0].Row)
	assert.True(t, errors.Is(rowErrs[0], common.ErrInvalidDate))
	assert.Equal(t, "good.example.com", records[0].CommonName)
	assert.Equal(t, "also-good.example.com", records[1].CommonName)
}

func TestParse_EmptyRowsIgnored(t *testing.T) {
	wb := buildWorkbook(t, [][]interface{}{
		{"common_name", "account_number", "expiry_date"},
		{"", "", ""},
		{"one.example.com", "123456789012", "2026-06-01"},
	})

	records, rowErrs, err := Parse(wb)
	require.NoError(t, err)
	require.Empty(t, rowErrs)
	require.Len(t, records, 1)
}

func TestParse_NotAWorkbook(t *testing.T) {
	_, _, err := Parse(bytes.NewReader([]byte("definitely not xlsx")))
	require.Error(t, err)
}

func TestParseDate_Formats(t *testing.T) {
	want := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	for _, input := range []string{
		"2026-04-15",
		"15/04/2026",
		"15-04-2026",
		"2026/04/15",
		"15 April 2026",
		"April 15, 2026",
		"15 Apr 2026",
	} {
		got, err := ParseDate(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}
}

func TestParseDate_Invalid(t *testing.T) {
	for _, input := range []string{"", "soon", "99/99/9999"} {
		_, err := ParseDate(input)
		assert.ErrorIs(t, err, common.ErrInvalidDate, "input %q", input)
	}
}
