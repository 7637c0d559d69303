package email

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Composed is a rendered outbound message.
type Composed struct {
	MessageID string // without angle brackets
	Raw       []byte
}

// NormalizeMessageID strips whitespace and surrounding angle brackets.
// For headers listing several ids only the first is kept.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	if fields := strings.Fields(id); len(fields) > 0 {
		id = fields[0]
	}
	return strings.TrimSuffix(strings.TrimPrefix(id, "<"), ">")
}

// OfferHTML is the HTML body: the text paragraph plus a PDF link.
func OfferHTML(body, pdfURL string) string {
	var b strings.Builder
	for _, para := range strings.Split(strings.TrimSpace(body), "\n\n") {
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		b.WriteString("</p>")
	}
	if pdfURL != "" {
		fmt.Fprintf(&b, `<p><a href="%s">Download Offer PDF</a></p>`, html.EscapeString(pdfURL))
	}
	return b.String()
}

// OfferText is the plain-text alternative of OfferHTML.
func OfferText(body, pdfURL string) string {
	text := strings.TrimSpace(body)
	if pdfURL != "" {
		text += "\n\nDownload Offer PDF: " + pdfURL
	}
	return text + "\n"
}

// ComposeOffer builds a multipart/alternative message with an explicit Message-ID.
func ComposeOffer(from, to *mail.Address, subject, body, pdfURL, messageID string, date time.Time) (*Composed, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(subject)
	h.SetMessageID(messageID)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create inline writer: %w", err)
	}

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain", OfferText(body, pdfURL)},
		{"text/html", OfferHTML(body, pdfURL)},
	}
	for _, p := range parts {
		var ph mail.InlineHeader
		ph.SetContentType(p.contentType, map[string]string{"charset": "utf-8"})
		pw, err := iw.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s part: %w", p.contentType, err)
		}
		if _, err := io.WriteString(pw, p.content); err != nil {
			return nil, err
		}
		if err := pw.Close(); err != nil {
			return nil, err
		}
	}
	if err := iw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	return &Composed{MessageID: NormalizeMessageID(messageID), Raw: buf.Bytes()}, nil
}
