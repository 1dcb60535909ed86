package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/DeskPipe/internal/models"
)

// fetchMedia downloads rawURL and describes it as media of the given kind.
func (g *Guard) fetchMedia(ctx context.Context, rawURL string, kind models.MediaKind) (models.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return models.Media{}, err
	}
	resp, err := g.opts.HTTPClient.Do(req)
	if err != nil {
		return models.Media{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Media{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, g.opts.MaxMediaBytes+1))
	if err != nil {
		return models.Media{}, err
	}
	if int64(len(data)) > g.opts.MaxMediaBytes {
		return models.Media{}, fmt.Errorf("media exceeds %d bytes", g.opts.MaxMediaBytes)
	}
	if len(data) == 0 {
		return models.Media{}, fmt.Errorf("media is empty")
	}

	media := models.Media{
		Kind:     kind,
		MimeType: detectMIME(resp.Header.Get("Content-Type"), data),
		FileName: fileNameFromURL(rawURL),
		Data:     data,
	}
	slog.Debug("Guard.fetchMedia: media fetched", "url", rawURL, "mime", media.MimeType, "size", len(data))
	return media, nil
}

// detectMIME prefers the declared type and falls back to content sniffing.
func detectMIME(declared string, data []byte) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	return name
}

// sendAttachment stages att in a scratch file, reads it back and sends it
// with body as caption. The scratch file is always removed.
func (g *Guard) sendAttachment(ctx context.Context, target, body string, att models.Attachment) (models.Receipt, error) {
	f, err := os.CreateTemp(g.opts.ScratchDir, "deskpipe-*-"+safeFileName(att.FileName))
	if err != nil {
		return models.Receipt{}, fmt.Errorf("failed to create scratch file: %w", err)
	}
	scratch := f.Name()
	defer func() {
		if err := os.Remove(scratch); err != nil && !os.IsNotExist(err) {
			slog.Error("Guard.sendAttachment: failed to remove scratch file", "path", scratch, "error", err)
		}
	}()

	_, werr := f.Write(att.Data)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return models.Receipt{}, fmt.Errorf("failed to write scratch file: %w", werr)
	}

	data, err := os.ReadFile(scratch)
	if err != nil {
		return models.Receipt{}, fmt.Errorf("failed to read scratch file: %w", err)
	}

	mimeType := att.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = detectMIME(mime.TypeByExtension(filepath.Ext(att.FileName)), data)
	}
	kind := models.MediaDocument
	if strings.HasPrefix(mimeType, "image/") {
		kind = models.MediaImage
	}

	media := models.Media{Kind: kind, MimeType: mimeType, FileName: att.FileName, Data: data}
	return g.conn.SendMedia(ctx, target, media, body)
}

// safeFileName keeps the extension-bearing base name of an upload.
func safeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return "attachment"
	}
	return strings.Map(func(r rune) rune {
		if r == '*' || r == '/' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
}
