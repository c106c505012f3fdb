package law

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTextFoldsAccentsAndCase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "dispoe sobre a publicacao", NormalizeText("Dispõe  sobre a publicação"))
	assert.Equal(t, "orcamento anual", NormalizeText("ORÇAMENTO\n\tanual "))
	assert.Equal(t, "", NormalizeText("   "))
}

func TestRawItemToRecordInitialState(t *testing.T) {
	t.Parallel()

	year := 2021
	pub := time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)
	item := RawItem{
		ID:              "rondonia-coddoc-4321",
		Source:          "rondonia",
		Title:           "Lei nº 5.021, de 15 de março de 2021",
		Number:          "5.021",
		Year:            &year,
		PublicationDate: &pub,
		DocumentType:    "lei_ordinaria",
		DocumentURL:     "http://example.test/detalhes.aspx?coddoc=4321",
		PDFURL:          "http://example.test/docs/4321.pdf",
	}

	rec := item.ToRecord()
	require.NotNil(t, rec)
	assert.Equal(t, "rondonia-coddoc-4321", rec.ID)
	assert.Equal(t, StatusDiscovered, rec.OverallStatus)
	assert.Equal(t, PhasePending, rec.DownloadStatus)
	assert.Equal(t, PhasePending, rec.PublishStatus)
	assert.Equal(t, item.PDFURL, rec.SourcePDFURL)
}

func TestRawItemMarkerPrecedence(t *testing.T) {
	t.Parallel()

	pub := time.Date(2020, 12, 1, 0, 0, 0, 0, time.UTC)
	withToken := RawItem{ID: "rondonia-coddoc-1", SourceMarker: "1", PublicationDate: &pub}
	assert.Equal(t, "1", withToken.Marker())

	withDate := RawItem{ID: "rondonia-coddoc-1", PublicationDate: &pub}
	assert.Equal(t, "2020-12-01", withDate.Marker())

	withoutDate := RawItem{ID: "rondonia-coddoc-2"}
	assert.Equal(t, "rondonia-coddoc-2", withoutDate.Marker())
}
