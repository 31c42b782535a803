package intake

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Attachment is one leaf MIME part extracted from an inbound email.
type Attachment struct {
	Filename  string
	MediaType string
	Content   []byte
}

// ParsedMail is the intake-relevant slice of an RFC 5322 message.
type ParsedMail struct {
	MessageID   string
	From        string
	Subject     string
	Attachments []Attachment
}

// wordDecoder handles RFC 2047 encoded words in any charset the HTML
// index knows (supplier mails are frequently latin-1 or windows-1252).
var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, fmt.Errorf("intake: charset %q: %w", charset, err)
		}
		return enc.NewDecoder().Reader(input), nil
	},
}

func decodeHeader(raw string) string {
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ParseMail walks the MIME tree of a raw message and collects every leaf
// part that carries a filename or a non-text body. Nested multiparts are
// descended; only leaves become attachments.
func ParseMail(raw []byte) (*ParsedMail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("intake: parse message: %w", err)
	}

	parsed := &ParsedMail{
		MessageID: strings.TrimSpace(msg.Header.Get("Message-Id")),
		Subject:   decodeHeader(msg.Header.Get("Subject")),
	}
	if addr, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		parsed.From = strings.ToLower(addr.Address)
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("intake: content type: %w", err)
	}

	idx := 0
	if strings.HasPrefix(mediaType, "multipart/") {
		err = walkMultipart(msg.Body, params["boundary"], parsed, &idx)
	} else {
		err = collectLeaf(msg.Body, textproto(msg.Header), parsed, &idx)
	}
	if err != nil {
		return nil, err
	}
	return parsed, nil
}

type headerGetter interface {
	Get(key string) string
}

type mailHeader mail.Header

func (h mailHeader) Get(key string) string { return mail.Header(h).Get(key) }

func textproto(h mail.Header) headerGetter { return mailHeader(h) }

func walkMultipart(body io.Reader, boundary string, parsed *ParsedMail, idx *int) error {
	if boundary == "" {
		return fmt.Errorf("intake: multipart without boundary")
	}
	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("intake: read part: %w", err)
		}
		mediaType, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if strings.HasPrefix(mediaType, "multipart/") {
			if err := walkMultipart(part, params["boundary"], parsed, idx); err != nil {
				return err
			}
			continue
		}
		if err := collectLeaf(part, part.Header, parsed, idx); err != nil {
			return err
		}
	}
}

func collectLeaf(body io.Reader, header headerGetter, parsed *ParsedMail, idx *int) error {
	mediaType, typeParams, _ := mime.ParseMediaType(header.Get("Content-Type"))
	if mediaType == "" {
		mediaType = "text/plain"
	}

	filename := partFilename(header, typeParams)
	if filename == "" && strings.HasPrefix(mediaType, "text/") {
		// Inline body text, not an attachment.
		return nil
	}

	reader := decodeTransferEncoding(body, header.Get("Content-Transfer-Encoding"))
	content, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("intake: read attachment: %w", err)
	}

	*idx++
	if filename == "" {
		filename = fmt.Sprintf("part-%d%s", *idx, extensionFor(mediaType))
	}
	parsed.Attachments = append(parsed.Attachments, Attachment{
		Filename:  filename,
		MediaType: mediaType,
		Content:   content,
	})
	return nil
}

func partFilename(header headerGetter, typeParams map[string]string) string {
	if cd := header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return decodeHeader(name)
			}
		}
	}
	if name := typeParams["name"]; name != "" {
		return decodeHeader(name)
	}
	return ""
}

func decodeTransferEncoding(body io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, body)
	case "quoted-printable":
		return quotedprintable.NewReader(body)
	default:
		return body
	}
}

func extensionFor(mediaType string) string {
	switch {
	case strings.Contains(mediaType, "pdf"):
		return ".pdf"
	case strings.Contains(mediaType, "csv"):
		return ".csv"
	case strings.Contains(mediaType, "spreadsheetml"), strings.Contains(mediaType, "ms-excel"):
		return ".xlsx"
	default:
		return ".bin"
	}
}
