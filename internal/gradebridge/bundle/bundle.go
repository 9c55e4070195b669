// Package bundle packs a submission's files into one zip archive.
package bundle

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

var ErrPackaging = errors.New("bundle packaging failed")

// ContentType is the MIME type of Pack's output.
const ContentType = "application/zip"

// Pack deflates files into a zip archive, one entry per file, in order.
// Headers carry no timestamps so identical input yields identical bytes.
func Pack(files []types.File) ([]byte, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrPackaging)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, f := range files {
		name := entryName(f.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: file[%d] has no name", ErrPackaging, i)
		}
		if f.Content == nil {
			return nil, fmt.Errorf("%w: file[%d] %q has no content", ErrPackaging, i, name)
		}

		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPackaging, err)
		}
		if _, err := w.Write(f.Content); err != nil {
			return nil, fmt.Errorf("%w: write %q: %v", ErrPackaging, name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackaging, err)
	}
	return buf.Bytes(), nil
}

// Encode is Pack followed by standard base64 encoding.
func Encode(files []types.File) (string, error) {
	b, err := Pack(files)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// entryName keeps only the base name; submitted names come from browsers
// and may carry client-side paths.
func entryName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}
