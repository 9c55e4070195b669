package bundle_test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/bundle"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

func TestPack_OneEntryPerFile(t *testing.T) {
	files := []types.File{
		{Name: "main.py", Content: []byte("print('hi')\n")},
		{Name: `C:\Users\me\report.txt`, Content: bytes.Repeat([]byte("abc"), 1000)},
		{Name: "empty.txt", Content: []byte{}},
	}

	b, err := bundle.Pack(files)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	if len(zr.File) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(zr.File))
	}

	wantNames := []string{"main.py", "report.txt", "empty.txt"}
	for i, zf := range zr.File {
		if zf.Name != wantNames[i] {
			t.Errorf("entry %d name: got %q want %q", i, zf.Name, wantNames[i])
		}
		if zf.Method != zip.Deflate {
			t.Errorf("entry %d not deflated", i)
		}
		rc, err := zf.Open()
		if err != nil {
			t.Fatalf("open entry %d: %v", i, err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %d: %v", i, err)
		}
		if !bytes.Equal(got, files[i].Content) {
			t.Errorf("entry %d content mismatch", i)
		}
	}
}

func TestPack_Deterministic(t *testing.T) {
	files := []types.File{{Name: "a.txt", Content: []byte("same")}}
	a, err := bundle.Pack(files)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	b, err := bundle.Pack(files)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("expected identical archives for identical input")
	}
}

func TestPack_Rejects(t *testing.T) {
	cases := map[string][]types.File{
		"no files":     nil,
		"missing name": {{Name: " ", Content: []byte("x")}},
		"dot name":     {{Name: "..", Content: []byte("x")}},
		"nil content":  {{Name: "a.txt"}},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := bundle.Pack(files); !errors.Is(err, bundle.ErrPackaging) {
				t.Errorf("expected ErrPackaging, got %v", err)
			}
		})
	}
}

func TestEncode_IsBase64OfPack(t *testing.T) {
	files := []types.File{{Name: "a.txt", Content: []byte("data")}}
	s, err := bundle.Encode(files)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	packed, _ := bundle.Pack(files)
	if !bytes.Equal(raw, packed) {
		t.Error("Encode output does not match Pack")
	}
}
