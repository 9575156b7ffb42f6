package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"

	"github.com/buger/jsonparser"
	"github.com/gabriel-vasile/mimetype"
)

var ErrNoMedia = errors.New("no media id")

// knownExtensions maps the mime types WhatsApp delivers to the extension used on disk.
// mimetype.Lookup is only consulted for types missing here.
var knownExtensions = map[string]string{
	"text/plain":         ".txt",
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
	"image/gif":          ".gif",
	"image/webp":         ".webp",
	"video/mp4":          ".mp4",
	"video/3gpp":         ".3gp",
	"audio/mp3":          ".mp3",
	"audio/mpeg":         ".mp3",
	"audio/wav":          ".wav",
	"audio/aac":          ".aac",
	"audio/ogg":          ".opus",
	"audio/webm":         ".webm",
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.ms-powerpoint":                                             ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/vnd.ms-excel":                                                  ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
}

// MediaInfo describes an uploaded media object. URL is temporary (a few minutes)
// and must be fetched with the same bearer token.
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/reference/media
type MediaInfo struct {
	ID       string
	URL      string
	MimeType string
	SHA256   string
	FileSize int64
}

// ExtensionFor returns the file extension for a mime type, ".bin" when unknown.
func ExtensionFor(mimeType string) string {
	if ext, ok := knownExtensions[mimeType]; ok {
		return ext
	}
	if m := mimetype.Lookup(mimeType); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".bin"
}

// GetMediaURL resolves a media id into its temporary download URL.
// Concurrent lookups for the same id share one request. The shared request is
// bounded by the HTTP client timeout only; each caller still stops waiting
// when its own ctx is done.
func (c *Client) GetMediaURL(ctx context.Context, mediaID string) (*MediaInfo, error) {
	if mediaID == "" {
		return nil, ErrNoMedia
	}
	shared := context.WithoutCancel(ctx)
	ch := c.mediaLookups.DoChan(mediaID, func() (any, error) {
		return c.fetchMediaInfo(shared, mediaID)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("media %s lookup: %w", mediaID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		info := *res.Val.(*MediaInfo)
		return &info, nil
	}
}

func (c *Client) fetchMediaInfo(ctx context.Context, mediaID string) (*MediaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL()+"/"+mediaID, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media lookup request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading media lookup response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp.StatusCode, body)
	}

	info := &MediaInfo{ID: mediaID}
	if info.URL, err = jsonparser.GetString(body, "url"); err != nil {
		return nil, fmt.Errorf("media %s: reading url: %w", mediaID, err)
	}
	info.MimeType, _ = jsonparser.GetString(body, "mime_type")
	info.SHA256, _ = jsonparser.GetString(body, "sha256")
	info.FileSize, _ = jsonparser.GetInt(body, "file_size")
	return info, nil
}

// DownloadMediaData resolves the media id and opens its content. The caller closes the reader.
func (c *Client) DownloadMediaData(ctx context.Context, mediaID string) (io.ReadCloser, *MediaInfo, error) {
	info, err := c.GetMediaURL(ctx, mediaID)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("media download request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, nil, newAPIError(resp.StatusCode, body)
	}
	return resp.Body, info, nil
}

// DownloadMedia stores the media under dir as <media-id><ext> and returns the file path.
func (c *Client) DownloadMedia(ctx context.Context, mediaID, dir string) (string, error) {
	body, info, err := c.DownloadMediaData(ctx, mediaID)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating media dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(mediaID)+ExtensionFor(info.MimeType))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating media file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing media file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing media file: %w", err)
	}
	return path, nil
}

// UploadMedia uploads content and returns the media id to reference in SendMedia.
// The content type is sniffed from the data.
func (c *Client) UploadMedia(ctx context.Context, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("upload: %w", ErrEmptyContent)
	}
	mimeType := mimetype.Detect(data).String()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	if err := mw.WriteField("type", mimeType); err != nil {
		return "", err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for send slot: %w", err)
	}
	url := fmt.Sprintf("%s/%s/media", c.apiURL(), c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("media upload request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newAPIError(resp.StatusCode, body)
	}

	id, err := jsonparser.GetString(body, "id")
	if err != nil {
		return "", fmt.Errorf("reading media id from upload response: %w", err)
	}
	return id, nil
}
