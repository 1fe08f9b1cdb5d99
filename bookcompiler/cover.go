package bookcompiler

import (
	"context"
	"net/http"
)

// CoverArtist produces cover art for a book.
type CoverArtist interface {
	Cover(ctx context.Context, title, goal string) ([]byte, error)
}

// imageType maps sniffed image data to a gofpdf image type. Formats gofpdf
// cannot embed, such as WebP, are reported as unsupported.
func imageType(data []byte) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	switch http.DetectContentType(data) {
	case "image/png":
		return "PNG", true
	case "image/jpeg":
		return "JPG", true
	case "image/gif":
		return "GIF", true
	}
	return "", false
}
