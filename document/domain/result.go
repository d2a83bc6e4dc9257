package domain

// StyleOutcome reports whether the style document was rewritten.
type StyleOutcome int

const (
	// StyleSkipped means no style rule exposed a fill image name.
	StyleSkipped StyleOutcome = iota
	StyleUpdated
)

func (o StyleOutcome) String() string {
	switch o {
	case StyleUpdated:
		return "updated"
	case StyleSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ParseStyleOutcome is the inverse of StyleOutcome.String.
func ParseStyleOutcome(s string) StyleOutcome {
	if s == StyleUpdated.String() {
		return StyleUpdated
	}
	return StyleSkipped
}

// Result describes a completed image replacement
type Result struct {
	// PictureEntry is the archive path of the replaced asset, e.g. Pictures/bg.png
	PictureEntry string
	// ImageName is the asset's base name, kept across the replacement
	ImageName        string
	ReplacementBytes int64

	Style             StyleOutcome
	StyleName         string
	PreviousFillImage string
}
