package hostrequest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
)

// Body encodes a request payload. Bodies never take part in the request
// signature, so every encoding is signed the same way.
type Body interface {
	// Encode returns the payload and its content type.
	Encode() (io.Reader, string, error)
}

// JSONBody marshals Value as application/json.
type JSONBody struct {
	Value any
}

// Encode implements Body.
func (b JSONBody) Encode() (io.Reader, string, error) {
	data, err := json.Marshal(b.Value)
	if err != nil {
		return nil, "", fmt.Errorf("encoding JSON body: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

// FormBody is sent as application/x-www-form-urlencoded.
type FormBody url.Values

// Encode implements Body.
func (b FormBody) Encode() (io.Reader, string, error) {
	return strings.NewReader(url.Values(b).Encode()), "application/x-www-form-urlencoded", nil
}

// File is one attachment in a multipart body.
type File struct {
	// FieldName defaults to "file".
	FieldName   string
	Filename    string
	ContentType string
	Content     []byte
}

// MultipartBody is sent as multipart/form-data.
type MultipartBody struct {
	Fields map[string]string
	Files  []File
}

// Encode implements Body.
func (b MultipartBody) Encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	names := make([]string, 0, len(b.Fields))
	for k := range b.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if err := w.WriteField(k, b.Fields[k]); err != nil {
			return nil, "", fmt.Errorf("writing form field %q: %w", k, err)
		}
	}

	for _, f := range b.Files {
		if err := writeFile(w, f); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// FileBody uploads a single attachment as multipart/form-data.
type FileBody File

// Encode implements Body.
func (b FileBody) Encode() (io.Reader, string, error) {
	return MultipartBody{Files: []File{File(b)}}.Encode()
}

// isAttachment reports whether the body uploads files. Hosts require the
// X-Atlassian-Token: no-check header for those requests.
func isAttachment(b Body) bool {
	switch b := b.(type) {
	case FileBody, *FileBody:
		return true
	case MultipartBody:
		return len(b.Files) > 0
	case *MultipartBody:
		return len(b.Files) > 0
	}
	return false
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFile(w *multipart.Writer, f File) error {
	field := f.FieldName
	if field == "" {
		field = "file"
	}
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(f.Filename)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating file part %q: %w", f.Filename, err)
	}
	if _, err := part.Write(f.Content); err != nil {
		return fmt.Errorf("writing file part %q: %w", f.Filename, err)
	}
	return nil
}
