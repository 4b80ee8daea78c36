// Package invoice renders sale invoices and stores them where the HTTP
// layer can serve them.
package invoice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctionhub/internal/clock"
)

// Party is a buyer or seller as printed on the invoice.
type Party struct {
	Name  string
	Email string
}

// Input describes one completed sale.
type Input struct {
	AuctionID   string
	ItemName    string
	Description string
	Buyer       Party
	Seller      Party
	Amount      decimal.Decimal
}

// Generator produces an invoice document and returns a URL it can be
// retrieved from.
type Generator interface {
	Generate(ctx context.Context, in Input) (string, error)
}

// PDF writes invoices as PDF files into a directory.
type PDF struct {
	dir       string
	urlPrefix string
	clock     clock.Clock
}

// NewPDF returns a PDF generator writing into dir and producing URLs
// under urlPrefix. dir is created if missing.
func NewPDF(dir, urlPrefix string, clk clock.Clock) (*PDF, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating invoice dir: %w", err)
	}
	return &PDF{dir: dir, urlPrefix: strings.TrimSuffix(urlPrefix, "/"), clock: clk}, nil
}

// Dir returns the directory invoices are written to.
func (p *PDF) Dir() string { return p.dir }

// FileName returns the invoice file name for an auction.
func FileName(auctionID string) string {
	return "invoice-" + auctionID + ".pdf"
}

func (p *PDF) Generate(ctx context.Context, in Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	issued := p.clock.Now().UTC()

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle("Invoice "+in.AuctionID, true)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 22)
	doc.CellFormat(0, 12, "INVOICE", "", 1, "C", false, 0, "")
	doc.Ln(4)

	doc.SetFont("Helvetica", "", 11)
	doc.CellFormat(0, 6, "Invoice date: "+issued.Format(time.DateOnly), "", 1, "L", false, 0, "")
	doc.CellFormat(0, 6, "Auction: "+in.AuctionID, "", 1, "L", false, 0, "")
	doc.Ln(4)

	section(doc, "Seller", in.Seller)
	section(doc, "Buyer", in.Buyer)

	doc.SetFont("Helvetica", "B", 12)
	doc.CellFormat(0, 8, "Item", "B", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 11)
	doc.CellFormat(0, 6, in.ItemName, "", 1, "L", false, 0, "")
	if in.Description != "" {
		doc.MultiCell(0, 5, in.Description, "", "L", false)
	}
	doc.Ln(6)

	doc.SetFont("Helvetica", "B", 14)
	doc.CellFormat(0, 10, "Total: $"+in.Amount.StringFixed(2), "T", 1, "R", false, 0, "")

	name := FileName(in.AuctionID)
	if err := doc.OutputFileAndClose(filepath.Join(p.dir, name)); err != nil {
		return "", fmt.Errorf("writing invoice %s: %w", name, err)
	}
	return p.urlPrefix + "/" + name, nil
}

func section(doc *fpdf.Fpdf, title string, party Party) {
	doc.SetFont("Helvetica", "B", 12)
	doc.CellFormat(0, 8, title, "B", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 11)
	doc.CellFormat(0, 6, party.Name, "", 1, "L", false, 0, "")
	doc.CellFormat(0, 6, party.Email, "", 1, "L", false, 0, "")
	doc.Ln(4)
}
