// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package export renders chat transcripts and analysis reports as PDF.
package export

import (
	_ "embed"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-pdf/fpdf"

	"github.com/your-org/str-analyzer/internal/analysis"
	"github.com/your-org/str-analyzer/internal/store"
)

const (
	timestampLayout = "Jan 2, 2006 3:04 PM"
	pageMargin      = 20.0
	lineHeight      = 6.0
	fontFamily      = "DejaVu"
)

// Embedded UTF-8 fonts so text outside Latin-1 prints as typed
var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	regularFont []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	boldFont []byte
)

// Options control PDF rendering
type Options struct {
	// AssistantName labels advisor turns
	AssistantName string
	// Location is the time zone timestamps are printed in
	Location *time.Location
	// Uncompressed leaves page streams readable
	Uncompressed bool
}

func (o Options) withDefaults() Options {
	if o.AssistantName == "" {
		o.AssistantName = "Advisor"
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// TranscriptFilename is the download name of a chat transcript
func TranscriptFilename(chatID string) string {
	return fmt.Sprintf("chat-%s.pdf", chatID)
}

// ReportFilename is the download name of an analysis report
func ReportFilename(chatID string) string {
	return fmt.Sprintf("property-analysis-%s.pdf", chatID)
}

// Entry is one printed transcript turn
type Entry struct {
	Header string
	Body   string
}

// TranscriptEntries returns the printable turns of a chat. Hidden turns are
// left out.
func TranscriptEntries(messages []store.Message, opts Options) []Entry {
	opts = opts.withDefaults()

	entries := make([]Entry, 0, len(messages))
	for _, m := range messages {
		if m.Hidden {
			continue
		}
		sender := opts.AssistantName
		if m.Role == store.RoleUser {
			sender = "You"
		}
		entries = append(entries, Entry{
			Header: fmt.Sprintf("%s - %s", sender, m.CreatedAt.In(opts.Location).Format(timestampLayout)),
			Body:   m.Content,
		})
	}
	return entries
}

// Transcript writes a chat as a PDF
func Transcript(w io.Writer, title string, messages []store.Message, opts Options) error {
	opts = opts.withDefaults()
	pdf := newDocument(title, opts)

	pdf.SetFont(fontFamily, "B", 16)
	pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
	pdf.Ln(8)

	for _, e := range TranscriptEntries(messages, opts) {
		pdf.SetFont(fontFamily, "B", 12)
		pdf.CellFormat(0, 8, e.Header, "", 1, "L", false, 0, "")
		pdf.SetFont(fontFamily, "", 12)
		pdf.MultiCell(0, lineHeight, e.Body, "", "L", false)
		pdf.Ln(6)
	}

	return render(pdf, w)
}

// MetricRow is one line of the report's figures table
type MetricRow struct {
	Label string
	Value string
}

// ReportRows formats the headline figures of an analysis
func ReportRows(r analysis.Record) []MetricRow {
	return []MetricRow{
		{"Total Startup Cost", formatMoney(r.TotalStartupCost.Value)},
		{"Months to Repay", fmt.Sprintf("%.2f months", r.MonthsToRepay.Value)},
		{"Debt Repaid Monthly", formatPercent(r.PercentDebtRepaidMonthly.Value)},
		{"Annual ROI", formatPercent(r.AnnualROI.Value)},
		{"Net Annual Income", formatMoney(r.NetAnnualIncome.Value)},
		{"Net Monthly Income", formatMoney(r.NetMonthlyIncome.Value)},
	}
}

// Report writes an analysis as a PDF
func Report(w io.Writer, r analysis.Record, opts Options) error {
	opts = opts.withDefaults()
	const title = "Property Analysis Report"
	pdf := newDocument(title, opts)

	pdf.SetFont(fontFamily, "B", 18)
	pdf.CellFormat(0, 12, title, "", 1, "C", false, 0, "")

	subtitle := r.Location
	if r.PropertyType != "" {
		subtitle = strings.TrimSpace(subtitle + " (" + r.PropertyType + ")")
	}
	if subtitle != "" {
		pdf.SetFont(fontFamily, "", 13)
		pdf.CellFormat(0, 8, subtitle, "", 1, "C", false, 0, "")
	}
	pdf.Ln(8)

	pdf.SetFont(fontFamily, "B", 14)
	pdf.CellFormat(0, 9, "Key Figures", "", 1, "L", false, 0, "")
	for _, row := range ReportRows(r) {
		pdf.SetFont(fontFamily, "", 12)
		pdf.CellFormat(90, 8, row.Label, "B", 0, "L", false, 0, "")
		pdf.SetFont(fontFamily, "B", 12)
		pdf.CellFormat(0, 8, row.Value, "B", 1, "R", false, 0, "")
	}

	if len(r.Warnings) > 0 {
		pdf.Ln(6)
		pdf.SetFont(fontFamily, "B", 14)
		pdf.CellFormat(0, 9, "Warnings", "", 1, "L", false, 0, "")
		pdf.SetFont(fontFamily, "", 12)
		for _, warning := range r.Warnings {
			pdf.MultiCell(0, lineHeight, "- "+warning.Message, "", "L", false)
		}
	}

	if strings.TrimSpace(r.AIAnalysis) != "" {
		pdf.Ln(6)
		pdf.SetFont(fontFamily, "B", 14)
		pdf.CellFormat(0, 9, opts.AssistantName+" Analysis", "", 1, "L", false, 0, "")
		pdf.SetFont(fontFamily, "", 12)
		pdf.MultiCell(0, lineHeight, r.AIAnalysis, "", "L", false)
	}

	return render(pdf, w)
}

func newDocument(title string, opts Options) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetCreator("str-analyzer", true)
	pdf.SetCompression(!opts.Uncompressed)
	pdf.AddUTF8FontFromBytes(fontFamily, "", regularFont)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", boldFont)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.AddPage()
	return pdf
}

func render(pdf *fpdf.Fpdf, w io.Writer) error {
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to build pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}

func formatMoney(v float64) string {
	s := "$" + humanize.FormatFloat("#,###.##", math.Abs(v))
	if v < 0 {
		return "-" + s
	}
	return s
}

func formatPercent(v float64) string {
	return humanize.FormatFloat("#,###.##", v) + "%"
}
