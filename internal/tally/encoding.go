package tally

import (
	"bytes"
	"fmt"
	"mime"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// Encoding is the text encoding used on the wire.
type Encoding string

const (
	EncodingUTF16 Encoding = "utf-16"
	EncodingUTF8  Encoding = "utf-8"
)

// ParseEncoding accepts the spellings used in configuration files.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-")) {
	case "", "utf-16", "utf16", "utf-16le", "unicode":
		return EncodingUTF16, nil
	case "utf-8", "utf8":
		return EncodingUTF8, nil
	}
	return "", fmt.Errorf("unsupported encoding %q", s)
}

// ContentType returns the request Content-Type for the encoding.
func (e Encoding) ContentType() string {
	if e == EncodingUTF8 {
		return "text/xml;charset=utf-8"
	}
	return "text/xml;charset=utf-16"
}

func utf16LE() encoding.Encoding {
	return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
}

// EncodeBody converts a request document to wire bytes. UTF-16 bodies are
// little-endian without a byte order mark.
func EncodeBody(s string, enc Encoding) ([]byte, error) {
	if enc == EncodingUTF8 {
		return []byte(s), nil
	}
	b, err := utf16LE().NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request as UTF-16: %w", err)
	}
	return b, nil
}

// DecodeBody converts a response body to a UTF-8 string. A byte order mark
// wins; otherwise a utf-16 charset or a zero high byte in the first code
// unit selects UTF-16LE, and anything else is read as UTF-8.
func DecodeBody(b []byte, contentType string) (string, error) {
	if len(b) == 0 {
		return "", nil
	}

	switch {
	case bytes.HasPrefix(b, []byte{0xFF, 0xFE}), bytes.HasPrefix(b, []byte{0xFE, 0xFF}):
		return decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder(), b)
	case bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}):
		return string(b[3:]), nil
	case charsetIsUTF16(contentType), len(b) >= 2 && b[0] != 0 && b[1] == 0:
		return decodeWith(utf16LE().NewDecoder(), b)
	}
	return string(b), nil
}

func decodeWith(d *encoding.Decoder, b []byte) (string, error) {
	out, err := d.Bytes(b)
	if err != nil {
		return "", fmt.Errorf("failed to decode UTF-16 response: %w", err)
	}
	return string(out), nil
}

func charsetIsUTF16(contentType string) bool {
	if contentType == "" {
		return false
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "utf-16")
	}
	return strings.HasPrefix(strings.ToLower(params["charset"]), "utf-16")
}
