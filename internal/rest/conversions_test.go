package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dfryer1193/odtswap/api"
	"github.com/dfryer1193/odtswap/document/application"
	"github.com/dfryer1193/odtswap/document/domain"
	"github.com/dfryer1193/odtswap/document/persistence"
	"github.com/dfryer1193/odtswap/internal/config"
	"github.com/dfryer1193/odtswap/internal/metrics"
	"github.com/dfryer1193/odtswap/shared/db/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testStyles = `<?xml version="1.0" encoding="UTF-8"?>
<office:document-styles xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:style="urn:oasis:names:tc:opendocument:xmlns:style:1.0" xmlns:draw="urn:oasis:names:tc:opendocument:xmlns:drawing:1.0">
  <office:styles>
    <style:style style:name="Background" style:family="graphic">
      <style:graphic-properties draw:fill="bitmap" draw:fill-image-name="old.png"/>
    </style:style>
  </office:styles>
</office:document-styles>
`

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func testImage(fill byte) []byte {
	return append(append([]byte{}, pngSignature...), bytes.Repeat([]byte{fill}, 42)...)
}

func buildODT(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	fw, err := w.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	require.NoError(t, err)
	_, err = fw.Write([]byte(odtContentType))
	require.NoError(t, err)

	for name, content := range members {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type multipartField struct {
	name     string
	filename string
	content  []byte
}

func multipartRequest(t *testing.T, fields ...multipartField) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range fields {
		if f.filename == "" {
			require.NoError(t, w.WriteField(f.name, string(f.content)))
			continue
		}
		part, err := w.CreateFormFile(f.name, f.filename)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

type testServer struct {
	router *gin.Engine
	cfg    *config.Config
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		Port:           3000,
		UploadDir:      filepath.Join(root, "uploads"),
		OutputDir:      filepath.Join(root, "outputs"),
		ScratchDir:     filepath.Join(root, "scratch"),
		StaticDir:      filepath.Join(root, "public"),
		MaxUploadBytes: 1 << 20,
		LogFormat:      "console",
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.EnsureDirs())

	database := sqlite.NewSQLiteDB(sqlite.NewSQLiteConfig(filepath.Join(root, "test.db")))
	require.NoError(t, database.Connect())
	t.Cleanup(func() { database.Close() })

	recorder := metrics.NewRecorder()
	service := application.NewConversionService(
		application.NewReplacer(application.WithScratchRoot(cfg.ScratchDir)),
		persistence.NewConversionRepository(database.DB()),
		cfg.OutputDir,
		recorder,
	)

	return &testServer{router: NewRouter(cfg, service, recorder), cfg: cfg}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	members := map[string][]byte{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		members[f.Name] = content
	}
	return members
}

func TestUpload_Success(t *testing.T) {
	srv := newTestServer(t, nil)
	odt := buildODT(t, map[string][]byte{
		"styles.xml":      []byte(testStyles),
		"Pictures/bg.png": testImage('o'),
	})

	rec := srv.do(multipartRequest(t,
		multipartField{name: "odt", filename: "letter.odt", content: odt},
		multipartField{name: "image", filename: "logo.png", content: testImage('r')},
	))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, odtContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	members := readZip(t, rec.Body.Bytes())
	assert.Equal(t, testImage('r'), members["Pictures/bg.png"])
	assert.Contains(t, string(members["styles.xml"]), `draw:fill-image-name="bg.png"`)

	uploads, err := os.ReadDir(srv.cfg.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, uploads, "uploads are removed after the request")

	id := rec.Header().Get(conversionIDHeader)
	require.NotEmpty(t, id)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/conversions/v1/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var conv api.Conversion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "letter.odt", conv.SourceName)
	assert.Equal(t, "logo.png", conv.ImageName)
	assert.Equal(t, "image/png", conv.ImageMIME)
	assert.Equal(t, "Pictures/bg.png", conv.PictureEntry)
	assert.Equal(t, "updated", conv.StyleOutcome)
	assert.Equal(t, "succeeded", conv.Status)
	assert.Equal(t, "/conversions/v1/"+id+"/download", conv.DownloadURL)

	rec = srv.do(httptest.NewRequest(http.MethodGet, conv.DownloadURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testImage('r'), readZip(t, rec.Body.Bytes())["Pictures/bg.png"])
}

func TestUpload_Errors(t *testing.T) {
	validImage := multipartField{name: "image", filename: "logo.png", content: testImage('r')}

	tests := []struct {
		name       string
		fields     []multipartField
		wantStatus int
		wantBody   string
	}{
		{
			name:       "missing document",
			fields:     []multipartField{validImage},
			wantStatus: http.StatusBadRequest,
			wantBody:   "Missing odt file",
		},
		{
			name: "missing image",
			fields: []multipartField{
				{name: "odt", filename: "a.odt", content: buildODT(t, map[string][]byte{"styles.xml": []byte(testStyles)})},
			},
			wantStatus: http.StatusBadRequest,
			wantBody:   "Missing replacement image",
		},
		{
			name: "local image path disabled",
			fields: []multipartField{
				{name: "odt", filename: "a.odt", content: buildODT(t, map[string][]byte{"styles.xml": []byte(testStyles)})},
				{name: "newImagePath", content: []byte("/etc/hostname")},
			},
			wantStatus: http.StatusBadRequest,
			wantBody:   "newImagePath is disabled",
		},
		{
			name: "not an archive",
			fields: []multipartField{
				{name: "odt", filename: "a.odt", content: []byte("just some text")},
				validImage,
			},
			wantStatus: http.StatusUnsupportedMediaType,
			wantBody:   "Error processing ODT file:",
		},
		{
			name: "no Pictures folder",
			fields: []multipartField{
				{name: "odt", filename: "a.odt", content: buildODT(t, map[string][]byte{"styles.xml": []byte(testStyles)})},
				validImage,
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   "no Pictures folder found",
		},
		{
			name: "no image in Pictures",
			fields: []multipartField{
				{name: "odt", filename: "a.odt", content: buildODT(t, map[string][]byte{"styles.xml": []byte(testStyles), "Pictures/a.gif": []byte("GIF89a")})},
				validImage,
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   "no image found in the Pictures folder",
		},
		{
			name: "malformed styles",
			fields: []multipartField{
				{name: "odt", filename: "a.odt", content: buildODT(t, map[string][]byte{"styles.xml": []byte("<a b=></a>"), "Pictures/bg.png": testImage('o')})},
				validImage,
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   "parse error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, nil)

			rec := srv.do(multipartRequest(t, tt.fields...))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestUpload_LocalImagePath(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) { cfg.AllowLocalImagePath = true })

	imagePath := filepath.Join(t.TempDir(), "server-side.png")
	require.NoError(t, os.WriteFile(imagePath, testImage('s'), 0644))

	rec := srv.do(multipartRequest(t,
		multipartField{name: "odt", filename: "a.odt", content: buildODT(t, map[string][]byte{"styles.xml": []byte(testStyles), "Pictures/bg.png": testImage('o')})},
		multipartField{name: "newImagePath", content: []byte(imagePath)},
	))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, testImage('s'), readZip(t, rec.Body.Bytes())["Pictures/bg.png"])

	_, err := os.Stat(imagePath)
	assert.NoError(t, err, "a server-side image is never removed")
}

func TestUpload_TooLarge(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) { cfg.MaxUploadBytes = 512 })

	rec := srv.do(multipartRequest(t,
		multipartField{name: "odt", filename: "a.odt", content: bytes.Repeat([]byte("x"), 4096)},
	))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestConversions_ListAndDelete(t *testing.T) {
	srv := newTestServer(t, nil)

	for i := 0; i < 3; i++ {
		rec := srv.do(multipartRequest(t,
			multipartField{name: "odt", filename: fmt.Sprintf("doc-%d.odt", i), content: buildODT(t, map[string][]byte{"styles.xml": []byte(testStyles), "Pictures/bg.png": testImage('o')})},
			multipartField{name: "image", filename: "logo.png", content: testImage('r')},
		))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/conversions/v1/?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list api.ConversionList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Conversions, 2)
	assert.Equal(t, 2, list.Limit)

	id := list.Conversions[0].ID
	rec = srv.do(httptest.NewRequest(http.MethodDelete, "/conversions/v1/"+id, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/conversions/v1/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(httptest.NewRequest(http.MethodDelete, "/conversions/v1/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/conversions/v1/?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversions_DownloadFailedConversion(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(multipartRequest(t,
		multipartField{name: "odt", filename: "a.odt", content: buildODT(t, map[string][]byte{"styles.xml": []byte(testStyles)})},
		multipartField{name: "image", filename: "logo.png", content: testImage('r')},
	))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	id := rec.Header().Get(conversionIDHeader)
	require.NotEmpty(t, id)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/conversions/v1/"+id+"/download", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotArchive, http.StatusUnsupportedMediaType},
		{domain.ErrNoPicturesFolder, http.StatusUnprocessableEntity},
		{domain.ErrNoImage, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: bad xml", domain.ErrParse), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: disk", domain.ErrIO), http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}

func TestRouter_HealthMetricsAndStatic(t *testing.T) {
	srv := newTestServer(t, nil)
	require.NoError(t, os.MkdirAll(srv.cfg.StaticDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(srv.cfg.StaticDir, "upload.html"), []byte("<form></form>"), 0644))

	// Static files are only wired when the directory exists at startup
	srv.router = NewRouter(srv.cfg, nil, metrics.NewRecorder())

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "odtswap_http_requests_total")

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/upload.html", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<form></form>")
}
