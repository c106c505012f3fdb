package rondonia

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html><body>
<div id="container-main-offer">
  <h2>LEI Nº 5.021, DE 15 DE MARÇO DE 2021</h2>
  <p>Dispõe sobre a publicação de atos oficiais.</p>
  <a href="/COTEL/Livros/Arquivos/5021.pdf">Baixar PDF</a>
</div>
</body></html>`

func TestParseDetailPageFullTitle(t *testing.T) {
	t.Parallel()

	page, err := parseDetailPage([]byte(samplePage),
		"http://ditel.casacivil.ro.gov.br/COTEL/Livros/detalhes.aspx?coddoc=123")
	require.NoError(t, err)
	require.NotNil(t, page)

	assert.Equal(t, "LEI Nº 5.021, DE 15 DE MARÇO DE 2021", page.Title)
	assert.Equal(t, "5.021", page.Number)
	require.NotNil(t, page.Year)
	assert.Equal(t, 2021, *page.Year)
	require.NotNil(t, page.PublicationDate)
	assert.Equal(t, time.Date(2021, time.March, 15, 0, 0, 0, 0, time.UTC), *page.PublicationDate)
	assert.Equal(t, "lei_ordinaria", page.DocumentType)
	assert.Equal(t, "http://ditel.casacivil.ro.gov.br/COTEL/Livros/Arquivos/5021.pdf", page.PDFURL)
}

func TestParseDetailPageWithoutPDFReturnsNil(t *testing.T) {
	t.Parallel()

	page, err := parseDetailPage([]byte(`<html><body><h2>Documento não encontrado</h2></body></html>`),
		"http://example.test/detalhes.aspx?coddoc=9")
	require.NoError(t, err)
	assert.Nil(t, page)
}

func TestParseDetailPageFallbackTitle(t *testing.T) {
	t.Parallel()

	html := `<html><body>
<h2>DECRETO Nº 12.345/2010</h2>
<a href="Arquivos/12345.pdf">PDF</a>
</body></html>`
	page, err := parseDetailPage([]byte(html), "http://example.test/COTEL/Livros/detalhes.aspx?coddoc=9")
	require.NoError(t, err)
	require.NotNil(t, page)

	assert.Equal(t, "12.345", page.Number)
	require.NotNil(t, page.Year)
	assert.Equal(t, 2010, *page.Year)
	assert.Nil(t, page.PublicationDate)
	assert.Equal(t, "decreto", page.DocumentType)
	assert.Equal(t, "http://example.test/COTEL/Livros/Arquivos/12345.pdf", page.PDFURL)
}

func TestParseTitleUnmatchedYieldsZeroValues(t *testing.T) {
	t.Parallel()

	number, year, date := parseTitle("Constituição Estadual")
	assert.Empty(t, number)
	assert.Nil(t, year)
	assert.Nil(t, date)
}

func TestDocumentTypeClassification(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "lei_complementar", documentType("Lei Complementar nº 68, de 1992"))
	assert.Equal(t, "decreto", documentType("DECRETO Nº 100"))
	assert.Equal(t, "emenda_constitucional", documentType("Emenda Constitucional nº 1"))
	assert.Equal(t, "lei_ordinaria", documentType("LEI Nº 5.021"))
}
