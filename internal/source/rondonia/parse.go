package rondonia

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// detailPage is the metadata scraped from one COTEL document detail page.
type detailPage struct {
	Title           string
	Number          string
	Year            *int
	PublicationDate *time.Time
	DocumentType    string
	PDFURL          string
}

var (
	// Full form: "LEI Nº 5.021, DE 15 DE MARÇO DE 2021".
	titlePattern = regexp.MustCompile(`Nº\s*([\d\.]+)[^\d]*DE\s*(\d{1,2})\s*DE\s*([A-ZÇÃÕÁÉÍÓÚ]+)\s*DE\s*(\d{4})`)
	// Degraded titles still carry a number and a year somewhere.
	titleFallbackPattern = regexp.MustCompile(`Nº\s*([\d\.]+).*?(\d{4})`)
)

var monthsPT = map[string]time.Month{
	"JANEIRO":   time.January,
	"FEVEREIRO": time.February,
	"MARÇO":     time.March,
	"MARCO":     time.March,
	"ABRIL":     time.April,
	"MAIO":      time.May,
	"JUNHO":     time.June,
	"JULHO":     time.July,
	"AGOSTO":    time.August,
	"SETEMBRO":  time.September,
	"OUTUBRO":   time.October,
	"NOVEMBRO":  time.November,
	"DEZEMBRO":  time.December,
}

// parseDetailPage extracts the law metadata from a detail page. A page
// without a PDF link yields a nil result and no error; the portal keeps
// placeholder pages for unassigned coddoc values.
func parseDetailPage(body []byte, pageURL string) (*detailPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}

	title := strings.TrimSpace(doc.Find("#container-main-offer h2").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h2").First().Text())
	}

	href, ok := doc.Find(`a[href$=".pdf"]`).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return nil, nil
	}
	pdfURL, err := resolveURL(pageURL, strings.TrimSpace(href))
	if err != nil {
		return nil, err
	}

	page := &detailPage{
		Title:        title,
		DocumentType: documentType(title),
		PDFURL:       pdfURL,
	}
	page.Number, page.Year, page.PublicationDate = parseTitle(title)
	return page, nil
}

// parseTitle pulls the law number, year, and, when the date is written out in
// full, the publication date from a title line.
func parseTitle(title string) (string, *int, *time.Time) {
	upper := strings.ToUpper(title)

	if m := titlePattern.FindStringSubmatch(upper); m != nil {
		number := m[1]
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[4])
		if month, ok := monthsPT[m[3]]; ok && day >= 1 && day <= 31 {
			date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
			return number, &year, &date
		}
		return number, &year, nil
	}

	if m := titleFallbackPattern.FindStringSubmatch(upper); m != nil {
		number := m[1]
		year, _ := strconv.Atoi(m[2])
		return number, &year, nil
	}

	return "", nil, nil
}

// documentType classifies the title prefix. Anything unrecognized counts as
// an ordinary law; the portal is almost entirely laws and decrees.
func documentType(title string) string {
	upper := strings.ToUpper(title)
	switch {
	case strings.HasPrefix(upper, "LEI COMPLEMENTAR"):
		return "lei_complementar"
	case strings.HasPrefix(upper, "DECRETO"):
		return "decreto"
	case strings.HasPrefix(upper, "EMENDA CONSTITUCIONAL"):
		return "emenda_constitucional"
	default:
		return "lei_ordinaria"
	}
}

func resolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse pdf href %q: %w", ref, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
