package external

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"image/png"
	"log/slog"
	"strings"

	"boxoffice/internal/models"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/gosimple/slug"
	"github.com/skip2/go-qrcode"
)

type ArtifactsConfig struct {
	CloudName  string
	APIKey     string
	APISecret  string
	Folder     string
	CheckInURL string
	CodeSize   int
}

// TicketArtifacts renders group documents and scannable codes and hosts them
// on Cloudinary. Without credentials the bytes are kept and refs are local.
type TicketArtifacts struct {
	cfg ArtifactsConfig
	cld *cloudinary.Cloudinary
	doc *template.Template
}

func NewTicketArtifacts(cfg ArtifactsConfig) (*TicketArtifacts, error) {
	if cfg.Folder == "" {
		cfg.Folder = "tickets"
	}
	if cfg.CodeSize <= 0 {
		cfg.CodeSize = 256
	}

	ta := &TicketArtifacts{
		cfg: cfg,
		doc: template.Must(template.New("ticket").Funcs(template.FuncMap{
			"money": FormatAmount,
		}).Parse(ticketTemplate)),
	}

	if cfg.CloudName != "" && cfg.APIKey != "" && cfg.APISecret != "" {
		cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
		if err != nil {
			return nil, fmt.Errorf("cloudinary init failed: %w", err)
		}
		ta.cld = cld
	} else {
		slog.Warn("Cloudinary credentials missing, ticket artifacts will not be hosted")
	}

	return ta, nil
}

// PublicID is stable per ticket number so re-rendering replaces the hosted file.
func PublicID(kind, ticketNo string) string {
	return kind + "-" + slug.Make(ticketNo)
}

func (ta *TicketArtifacts) RenderDocument(ctx context.Context, doc models.TicketDocument) (*models.Artifact, error) {
	var buf bytes.Buffer
	if err := ta.doc.Execute(&buf, doc); err != nil {
		return nil, fmt.Errorf("failed to render ticket %s: %w", doc.TicketNo, err)
	}

	name := slug.Make(fmt.Sprintf("%s %s %s", doc.ShopName, doc.EventDate.Format("2006-01-02"), doc.TicketNo))
	artifact := &models.Artifact{
		FileName:    name + ".html",
		ContentType: "text/html",
		Content:     buf.Bytes(),
	}

	ref, err := ta.upload(ctx, "documents", PublicID("doc", doc.TicketNo), "raw", artifact.Content)
	if err != nil {
		return nil, err
	}
	artifact.Ref = ref
	return artifact, nil
}

func (ta *TicketArtifacts) GenerateCode(ctx context.Context, ticketNo string) (*models.Artifact, error) {
	content := ticketNo
	if ta.cfg.CheckInURL != "" {
		content = strings.TrimRight(ta.cfg.CheckInURL, "/") + "/" + ticketNo
	}

	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to encode code for %s: %w", ticketNo, err)
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, qr.Image(ta.cfg.CodeSize)); err != nil {
		return nil, fmt.Errorf("failed to encode png for %s: %w", ticketNo, err)
	}

	artifact := &models.Artifact{
		FileName:    slug.Make(ticketNo) + ".png",
		ContentType: "image/png",
		Content:     buf.Bytes(),
	}

	ref, err := ta.upload(ctx, "codes", PublicID("code", ticketNo), "image", artifact.Content)
	if err != nil {
		return nil, err
	}
	artifact.Ref = ref
	return artifact, nil
}

func (ta *TicketArtifacts) upload(ctx context.Context, sub, publicID, resourceType string, content []byte) (string, error) {
	folder := ta.cfg.Folder + "/" + sub
	if ta.cld == nil {
		return "local://" + folder + "/" + publicID, nil
	}

	overwrite := true
	result, err := ta.cld.Upload.Upload(ctx, bytes.NewReader(content), uploader.UploadParams{
		Folder:       folder,
		PublicID:     publicID,
		ResourceType: resourceType,
		Overwrite:    &overwrite,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", publicID, err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("failed to upload %s: %s", publicID, result.Error.Message)
	}

	return result.SecureURL, nil
}

const ticketTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.TicketNo}}</title></head>
<body>
  <h1>{{.ShopName}}</h1>
  <p>Ticket <strong>{{.TicketNo}}</strong></p>
  <p>Date: {{.EventDate.Format "Monday, 02 January 2006"}}</p>
  <p>Holder: {{.Holder}}</p>
  <p>Order: {{.OrderID}}</p>
  <table>
    <tr><th>Seat type</th><th>Quantity</th><th>Subtotal</th></tr>
    {{range .Breakdown}}<tr><td>{{.SeatTypeName}}</td><td>{{.Quantity}}</td><td>{{money .Subtotal}}</td></tr>
    {{end}}
  </table>
  <p>Total: {{money .Total}} {{.Currency}}</p>
</body>
</html>`
