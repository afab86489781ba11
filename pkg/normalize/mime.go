package normalize

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

var wordDecoder = &mime.WordDecoder{}

// ParseMIME decodes one RFC 5322 message. Multipart trees are walked
// depth first; the first text/plain part without a filename becomes
// the body, every part with a filename becomes an attachment
// candidate. HTML-only messages fall back to the raw HTML as body
// text (tag stripping is not attempted here).
func ParseMIME(raw []byte) (*Parsed, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, canonical.StageNormalize, "mime_unparsable", err)
	}

	p := &Parsed{
		InternetMessageID: strings.TrimSpace(msg.Header.Get("Message-Id")),
		InReplyTo:         strings.TrimSpace(msg.Header.Get("In-Reply-To")),
		Subject:           decodeWord(msg.Header.Get("Subject")),
		Date:              strings.TrimSpace(msg.Header.Get("Date")),
	}
	if refs := msg.Header.Get("References"); refs != "" {
		p.References = strings.Fields(refs)
	}

	if from, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		p.FromEmail = strings.ToLower(from.Address)
		p.FromDisplayName = from.Name
	}
	if replyTo, err := mail.ParseAddress(msg.Header.Get("Reply-To")); err == nil {
		p.ReplyToEmail = strings.ToLower(replyTo.Address)
	}
	p.ToEmails = addressList(msg.Header, "To")
	p.CcEmails = addressList(msg.Header, "Cc")

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain; charset=us-ascii"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "text/plain", nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if err := p.walkMultipart(msg.Body, params["boundary"]); err != nil {
			return nil, err
		}
	} else {
		body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return nil, err
		}
		p.BodyText = string(body)
	}
	return p, nil
}

func (p *Parsed) walkMultipart(r io.Reader, boundary string) error {
	if boundary == "" {
		return fault.New(fault.KindValidation, canonical.StageNormalize, "mime_missing_boundary")
	}
	mr := multipart.NewReader(r, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fault.Wrap(fault.KindValidation, canonical.StageNormalize, "mime_part_unreadable", err)
		}

		partType, partParams, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			partType = "application/octet-stream"
		}
		if strings.HasPrefix(partType, "multipart/") {
			if err := p.walkMultipart(part, partParams["boundary"]); err != nil {
				return err
			}
			continue
		}

		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return err
		}

		filename := part.FileName()
		switch {
		case filename != "":
			p.Attachments = append(p.Attachments, Part{
				Filename: decodeWord(filename),
				MIMEType: partType,
				Content:  content,
			})
		case partType == "text/plain" && p.BodyText == "":
			p.BodyText = string(content)
		case partType == "text/html" && p.BodyText == "":
			// Fallback only; replaced when a later text/plain part appears.
			p.BodyText = string(content)
		}
	}
}

func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, newWhitespaceStripper(r))
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, canonical.StageNormalize, "mime_body_undecodable", err)
	}
	return data, nil
}

func decodeWord(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func addressList(h mail.Header, key string) []string {
	addrs, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, strings.ToLower(a.Address))
	}
	return out
}

// whitespaceStripper removes line breaks inside base64 bodies.
type whitespaceStripper struct {
	r   io.Reader
	buf []byte
}

func newWhitespaceStripper(r io.Reader) *whitespaceStripper {
	return &whitespaceStripper{r: r}
}

func (w *whitespaceStripper) Read(p []byte) (int, error) {
	if w.buf == nil {
		w.buf = make([]byte, 4096)
	}
	// Read at most len(p) source bytes so every kept byte fits in p.
	limit := len(w.buf)
	if len(p) < limit {
		limit = len(p)
	}
	for {
		n, err := w.r.Read(w.buf[:limit])
		if n == 0 {
			return 0, err
		}
		out := 0
		for _, b := range w.buf[:n] {
			if b == '\r' || b == '\n' || b == ' ' || b == '\t' {
				continue
			}
			if out < len(p) {
				p[out] = b
				out++
			}
		}
		if out > 0 || err != nil {
			return out, err
		}
	}
}
