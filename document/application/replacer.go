package application

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"

	"github.com/dfryer1193/odtswap/document/domain"
	"github.com/rs/zerolog/log"
)

const picturesDir = "Pictures"

var imageFileRegex = regexp.MustCompile(`(?i)\.(png|jpg|jpeg)$`)

type replacerConfig struct {
	scratchRoot string
	keepScratch bool
}

type ReplacerOption func(*replacerConfig)

// WithScratchRoot sets the directory scratch directories are created in.
// The system temp directory is used when unset.
func WithScratchRoot(dir string) ReplacerOption {
	return func(c *replacerConfig) { c.scratchRoot = dir }
}

// WithKeepScratch leaves the extracted archive on disk after Replace returns.
func WithKeepScratch(v bool) ReplacerOption {
	return func(c *replacerConfig) { c.keepScratch = v }
}

// Replacer swaps the first picture of an OpenDocument archive
type Replacer struct {
	cfg replacerConfig
}

func NewReplacer(opts ...ReplacerOption) *Replacer {
	cfg := replacerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Replacer{cfg: cfg}
}

// Replace writes a copy of the archive at src to dst in which the first image
// under Pictures/ carries the bytes of the file at image, and the first style
// rule with a fill image points at that image's name.
func (r *Replacer) Replace(ctx context.Context, src string, image string, dst string) (*domain.Result, error) {
	scratch, release, err := acquireScratch(r.cfg.scratchRoot, r.cfg.keepScratch)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := extractArchive(src, scratch); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	imageName, err := findImage(filepath.Join(scratch, picturesDir))
	if err != nil {
		return nil, err
	}

	written, err := copyImage(image, filepath.Join(scratch, picturesDir, imageName))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rewrite, err := rewriteStylesFile(filepath.Join(scratch, stylesEntry), imageName)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := packDirectory(scratch, dst); err != nil {
		return nil, err
	}

	result := &domain.Result{
		PictureEntry:      path.Join(picturesDir, imageName),
		ImageName:         imageName,
		ReplacementBytes:  written,
		Style:             rewrite.outcome,
		StyleName:         rewrite.styleName,
		PreviousFillImage: rewrite.previous,
	}

	log.Info().
		Str("output", dst).
		Str("picture", result.PictureEntry).
		Stringer("style", result.Style).
		Msg("New ODT saved")

	return result, nil
}

// findImage returns the name of the first png/jpg/jpeg file in dir, in
// lexical order.
func findImage(dir string) (string, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) || (err == nil && !info.IsDir()) {
		return "", domain.ErrNoPicturesFolder
	}
	if err != nil {
		return "", fmt.Errorf("%w: failed to stat %s: %w", domain.ErrIO, picturesDir, err)
	}

	// os.ReadDir sorts by filename
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: failed to list %s: %w", domain.ErrIO, picturesDir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageFileRegex.MatchString(e.Name()) {
			return e.Name(), nil
		}
	}

	return "", domain.ErrNoImage
}

// copyImage overwrites dst with the raw bytes of src
func copyImage(src string, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to open replacement image: %w", domain.ErrIO, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to open %s: %w", domain.ErrIO, filepath.Base(dst), err)
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return 0, fmt.Errorf("%w: failed to replace image: %w", domain.ErrIO, err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("%w: failed to replace image: %w", domain.ErrIO, err)
	}

	return n, nil
}
