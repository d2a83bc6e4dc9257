package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by a replacement. Every error returned by the replacer
// wraps exactly one of these.
var (
	ErrStructural = errors.New("odt: structural error")
	ErrParse      = errors.New("odt: parse error")
	ErrIO         = errors.New("odt: io error")
)

var (
	ErrNoPicturesFolder = fmt.Errorf("%w: no Pictures folder found", ErrStructural)
	ErrNoImage          = fmt.Errorf("%w: no image found in the Pictures folder", ErrStructural)
	ErrUnsafeEntry      = fmt.Errorf("%w: archive entry escapes the extraction directory", ErrStructural)
	ErrNotArchive       = fmt.Errorf("%w: uploaded document is not a zip archive", ErrStructural)
)
