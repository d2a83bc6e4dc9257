package application

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

const odtMimetype = "application/vnd.oasis.opendocument.text"

type archiveEntry struct {
	name    string
	content []byte
}

const stylesWithFill = `<?xml version="1.0" encoding="UTF-8"?>
<office:document-styles xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:style="urn:oasis:names:tc:opendocument:xmlns:style:1.0" xmlns:draw="urn:oasis:names:tc:opendocument:xmlns:drawing:1.0">
  <office:styles>
    <style:style style:name="Standard" style:family="paragraph"/>
    <style:style style:name="Background" style:family="graphic">
      <style:graphic-properties draw:fill="bitmap" draw:fill-image-name="old.png"/>
    </style:style>
    <style:style style:name="Second" style:family="graphic">
      <style:graphic-properties draw:fill="bitmap" draw:fill-image-name="other.png"/>
    </style:style>
  </office:styles>
</office:document-styles>
`

const stylesWithoutFill = `<?xml version="1.0" encoding="UTF-8"?>
<office:document-styles xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:style="urn:oasis:names:tc:opendocument:xmlns:style:1.0">
  <office:styles>
    <style:style style:name="Standard" style:family="paragraph"/>
  </office:styles>
</office:document-styles>
`

func sampleEntries(styles string, pictures ...archiveEntry) []archiveEntry {
	entries := []archiveEntry{
		{name: "mimetype", content: []byte(odtMimetype)},
		{name: "content.xml", content: []byte(`<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0"/>`)},
		{name: "META-INF/manifest.xml", content: []byte(`<manifest:manifest xmlns:manifest="urn:oasis:names:tc:opendocument:xmlns:manifest:1.0"/>`)},
		{name: "styles.xml", content: []byte(styles)},
	}
	return append(entries, pictures...)
}

func writeArchive(t *testing.T, path string, entries []archiveEntry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for _, e := range entries {
		method := zip.Deflate
		if e.name == "mimetype" {
			method = zip.Store
		}
		fw, err := w.CreateHeader(&zip.FileHeader{Name: e.name, Method: method})
		if err != nil {
			t.Fatalf("Failed to add %s: %v", e.name, err)
		}
		if _, err := fw.Write(e.content); err != nil {
			t.Fatalf("Failed to write %s: %v", e.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close archive: %v", err)
	}
}

// readArchive returns the file members of the archive at path, keyed by name
func readArchive(t *testing.T, path string) (map[string][]byte, []*zip.File) {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("Failed to open archive %s: %v", path, err)
	}
	t.Cleanup(func() { r.Close() })

	members := map[string][]byte{}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Failed to open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("Failed to read %s: %v", f.Name, err)
		}
		members[f.Name] = content
	}

	return members, r.File
}

func writeFile(t *testing.T, path string, content []byte) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

// fakePNG returns n bytes starting with the PNG signature
func fakePNG(n int, fill byte) []byte {
	sig := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	return append(sig, bytes.Repeat([]byte{fill}, n-len(sig))...)
}
