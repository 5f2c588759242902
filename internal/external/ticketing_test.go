package external

import (
	"bytes"
	"context"
	"image/png"
	"testing"
	"time"

	"boxoffice/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDocumentWithoutHosting(t *testing.T) {
	ta, err := NewTicketArtifacts(ArtifactsConfig{})
	require.NoError(t, err)

	doc := models.TicketDocument{
		TicketNo:  "TK-20250301-ABCDEFGHIJ",
		OrderID:   "order-1",
		Holder:    "Jane Doe",
		ShopName:  "Grand Hall",
		EventDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Breakdown: []models.SeatTypeBreakdown{
			{SeatTypeID: 1, SeatTypeName: "Balcony", Quantity: 2, Subtotal: 4000},
		},
		Total:    4000,
		Currency: "LKR",
	}

	artifact, err := ta.RenderDocument(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, "local://tickets/documents/doc-tk-20250301-abcdefghij", artifact.Ref)
	assert.Equal(t, "grand-hall-2025-03-01-tk-20250301-abcdefghij.html", artifact.FileName)
	assert.Contains(t, string(artifact.Content), "Balcony")
	assert.Contains(t, string(artifact.Content), "40.00 LKR")
}

func TestGenerateCodeIsPNG(t *testing.T) {
	ta, err := NewTicketArtifacts(ArtifactsConfig{CheckInURL: "https://gate.test/check-in/", CodeSize: 128})
	require.NoError(t, err)

	artifact, err := ta.GenerateCode(context.Background(), "TK-20250301-ABCDEFGHIJ")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(artifact.Content))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
	assert.Equal(t, "local://tickets/codes/code-tk-20250301-abcdefghij", artifact.Ref)
}
