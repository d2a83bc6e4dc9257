package application

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dfryer1193/odtswap/document/domain"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// mimetypeEntry must be the first member of an OpenDocument package and stored uncompressed
const mimetypeEntry = "mimetype"

// extractArchive unpacks every member of the archive at src into dir,
// overwriting files that already exist there.
func extractArchive(src string, dir string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("%w: failed to open archive %s: %w", domain.ErrIO, src, err)
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := entryPath(dir, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("%w: failed to create directory %s: %w", domain.ErrIO, f.Name, err)
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return err
		}
	}

	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory for %s: %w", domain.ErrIO, f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: failed to open archive member %s: %w", domain.ErrIO, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: failed to create %s: %w", domain.ErrIO, f.Name, err)
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("%w: failed to extract %s: %w", domain.ErrIO, f.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: failed to extract %s: %w", domain.ErrIO, f.Name, err)
	}

	if !f.Modified.IsZero() {
		// Best effort: the timestamp only matters for repacking
		_ = os.Chtimes(target, f.Modified, f.Modified)
	}

	return nil
}

// entryPath resolves an archive member name inside dir, rejecting names that
// would land outside of it.
func entryPath(dir string, name string) (string, error) {
	local := filepath.FromSlash(strings.TrimSuffix(name, "/"))
	if local == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsafeEntry, name)
	}
	return filepath.Join(dir, local), nil
}

// packDirectory writes every file and folder below dir into a new zip archive
// at dst. The archive is assembled next to dst and renamed into place once complete.
func packDirectory(dir string, dst string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".odtswap-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create output archive: %w", domain.ErrIO, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := zip.NewWriter(tmp)
	w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	if err := addMimetype(w, dir); err != nil {
		return err
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == dir {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		if d.IsDir() {
			_, err := w.CreateHeader(&zip.FileHeader{Name: name + "/", Method: zip.Store})
			return err
		}
		if name == mimetypeEntry || !d.Type().IsRegular() {
			return nil
		}

		return addFile(w, path, name)
	})
	if err != nil {
		return fmt.Errorf("%w: failed to pack %s: %w", domain.ErrIO, dir, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: failed to finish output archive: %w", domain.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to finish output archive: %w", domain.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("%w: failed to write %s: %w", domain.ErrIO, dst, err)
	}

	return nil
}

func addMimetype(w *zip.Writer, dir string) error {
	content, err := os.ReadFile(filepath.Join(dir, mimetypeEntry))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: failed to read mimetype: %w", domain.ErrIO, err)
	}

	// No timestamp: the writer would otherwise attach an extra field
	fw, err := w.CreateHeader(&zip.FileHeader{Name: mimetypeEntry, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("%w: failed to add mimetype: %w", domain.ErrIO, err)
	}
	if _, err := fw.Write(content); err != nil {
		return fmt.Errorf("%w: failed to add mimetype: %w", domain.ErrIO, err)
	}

	return nil
}

func addFile(w *zip.Writer, path string, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	fw, err := w.CreateHeader(header)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(fw, f)
	return err
}
