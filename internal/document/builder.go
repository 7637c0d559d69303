package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"greendrake/offerdesk/internal/ident"
)

// OfferDetails is the content rendered onto the details page.
type OfferDetails struct {
	BuyerName     string
	PropertyID    ident.ID
	PropertyTitle string
	Amount        float64
	GeneratedAt   time.Time
}

// IBuilder produces offer PDFs.
type IBuilder interface {
	Build(ctx context.Context, details OfferDetails, templateKey string) ([]byte, error)
}

// TemplateSource loads template PDFs by storage key.
type TemplateSource interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

var disableConfigDir sync.Once

// Builder renders a details page and appends it to the property's template.
type Builder struct {
	templates TemplateSource
	printer   *message.Printer
}

// NewBuilder creates a Builder reading templates from src.
func NewBuilder(src TemplateSource) *Builder {
	disableConfigDir.Do(api.DisableConfigDir)
	return &Builder{
		templates: src,
		printer:   message.NewPrinter(language.AmericanEnglish),
	}
}

// FormatAmount renders amount as US currency with thousands separators.
func (b *Builder) FormatAmount(amount float64) string {
	return b.printer.Sprintf("$%.2f", amount)
}

// Build returns the details page alone when templateKey is empty, otherwise
// the template pages followed by the details page.
func (b *Builder) Build(ctx context.Context, details OfferDetails, templateKey string) ([]byte, error) {
	page, err := b.renderDetails(details)
	if err != nil {
		return nil, fmt.Errorf("failed to render offer details: %w", err)
	}
	if templateKey == "" {
		return page, nil
	}
	if b.templates == nil {
		return nil, errors.New("no template source configured")
	}

	tpl, err := b.templates.Download(ctx, templateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", templateKey, err)
	}

	merged, err := merge(tpl, page)
	if err != nil {
		return nil, fmt.Errorf("failed to merge template %s: %w", templateKey, err)
	}
	return merged, nil
}

func (b *Builder) renderDetails(d OfferDetails) ([]byte, error) {
	generated := d.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Offer Details", true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, tr("Offer Details for "+d.BuyerName), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 12)
	rows := [][2]string{
		{"Property ID", d.PropertyID.String()},
		{"Property", d.PropertyTitle},
		{"Offer Amount", b.FormatAmount(d.Amount)},
		{"Date", generated.Format("January 2, 2006")},
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(45, 8, tr(row[0]+":"), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 12)
		pdf.CellFormat(0, 8, tr(row[1]), "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func merge(docs ...[]byte) ([]byte, error) {
	readers := make([]io.ReadSeeker, 0, len(docs))
	for _, d := range docs {
		readers = append(readers, bytes.NewReader(d))
	}
	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, model.NewDefaultConfiguration()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// PageCount returns the number of pages in a PDF.
func PageCount(data []byte) (int, error) {
	disableConfigDir.Do(api.DisableConfigDir)
	return api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
}
