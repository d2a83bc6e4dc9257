package api

type Conversion struct {
	ID           string `json:"id"`
	SourceName   string `json:"source_name"`
	ImageName    string `json:"image_name"`
	ImageMIME    string `json:"image_mime,omitempty"`
	PictureEntry string `json:"picture_entry,omitempty"`
	StyleOutcome string `json:"style_outcome"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
	CreatedAt    string `json:"created_at"`
	DownloadURL  string `json:"download_url,omitempty"`
}

type ConversionList struct {
	Conversions []Conversion `json:"conversions"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
}
