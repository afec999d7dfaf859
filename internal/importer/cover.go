package importer

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"path"
	"strings"

	// Register decoders for the cover formats the remote serves.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// measureCover returns the pixel dimensions of an encoded cover image.
func measureCover(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("importer: decode cover: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// coverExt derives the cover file extension from the asset URL, falling
// back to content sniffing when the URL has none.
func coverExt(assetURL string, data []byte) string {
	if u, err := url.Parse(assetURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext == ".jpg" || ext == ".jpeg" || ext == ".png" || ext == ".gif" {
			return ext
		}
	}
	switch http.DetectContentType(data) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
