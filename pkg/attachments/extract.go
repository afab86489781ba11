package attachments

import (
	"context"
	"strings"
	"unicode/utf8"
)

// PlainExtractor recovers text from text-bearing MIME types. Binary
// formats yield an empty extraction with zero confidence; a real OCR
// engine replaces this behind the TextExtractor interface.
type PlainExtractor struct{}

func (PlainExtractor) Extract(_ context.Context, data []byte, mimeType string) (Extraction, error) {
	base := mimeType
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = base[:i]
	}
	base = strings.ToLower(strings.TrimSpace(base))

	switch {
	case strings.HasPrefix(base, "text/"),
		base == "application/json",
		base == "application/xml",
		base == "message/rfc822":
		if !utf8.Valid(data) {
			return Extraction{}, nil
		}
		return Extraction{Text: string(data), Confidence: 1.0}, nil
	}
	return Extraction{}, nil
}
