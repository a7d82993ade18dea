package remote

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/Rrens/chatnil/internal/domain"
)

var _ domain.DocumentProcessor = (*Client)(nil)

type documentResponse struct {
	ID string `json:"id"`
}

// ProcessDocument uploads a file and returns the id of the processed document
func (c *Client) ProcessDocument(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", multipart.FileContentDisposition("file", name))
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close form: %w", err)
	}

	body := buf.Bytes()
	resp, err := c.send(ctx, c.http, c.maxTries, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, "/documents", body, mw.FormDataContentType())
	})
	if err != nil {
		return "", fmt.Errorf("failed to process %s: %w", name, err)
	}
	defer resp.Body.Close()

	var doc documentResponse
	if err := decodeData(resp, &doc); err != nil {
		return "", err
	}
	if doc.ID == "" {
		return "", fmt.Errorf("failed to process %s: no document id returned", name)
	}
	return doc.ID, nil
}
