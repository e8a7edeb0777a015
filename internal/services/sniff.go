package services

import (
	"bufio"
	"bytes"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

const (
	sniffLen           = 512
	defaultContentType = "application/octet-stream"
)

type signature struct {
	offset int
	magic  []byte
	mime   string
}

var signatures = []signature{
	{0, []byte("%PDF-"), "application/pdf"},
	{0, []byte("\x89PNG\r\n\x1a\n"), "image/png"},
	{0, []byte("\xFF\xD8\xFF"), "image/jpeg"},
	{0, []byte("GIF87a"), "image/gif"},
	{0, []byte("GIF89a"), "image/gif"},
	{8, []byte("WEBP"), "image/webp"},
	{0, []byte("PK\x03\x04"), "application/zip"},
	{0, []byte("\x1F\x8B"), "application/gzip"},
	{0, []byte("7z\xBC\xAF\x27\x1C"), "application/x-7z-compressed"},
	{0, []byte("OggS"), "audio/ogg"},
	{0, []byte("ID3"), "audio/mpeg"},
	{4, []byte("ftyp"), "video/mp4"},
}

// DetectContentType matches head against the signature table and then the
// net/http text heuristics. It returns "" when nothing matches.
func DetectContentType(head []byte) string {
	for _, sig := range signatures {
		if len(head) < sig.offset+len(sig.magic) {
			continue
		}
		if !bytes.Equal(head[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
			continue
		}
		if sig.mime == "image/webp" && !bytes.HasPrefix(head, []byte("RIFF")) {
			continue
		}
		return sig.mime
	}
	if len(head) == 0 {
		return ""
	}
	if detected := http.DetectContentType(head); detected != defaultContentType {
		return detected
	}
	return ""
}

// usableContentType reports whether a declared type says more than "bytes".
func usableContentType(value string) bool {
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return mediaType != defaultContentType && mediaType != "binary/octet-stream"
}

// Sniff peeks at the start of r and returns the detected type together with
// a reader that still yields every byte.
func Sniff(r io.Reader) (string, io.Reader, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return "", br, err
	}
	return DetectContentType(head), br, nil
}

// ResolveContentType picks the declared type when usable, then the sniffed
// one, then the extension, then octet-stream.
func ResolveContentType(declared, sniffed, filename string) string {
	if usableContentType(declared) {
		return declared
	}
	if sniffed != "" {
		return sniffed
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return byExt
	}
	return defaultContentType
}
