package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmpim/conscript"
	"github.com/tmpim/conscript/config"
	"github.com/tmpim/conscript/jobs"
	"github.com/tmpim/conscript/video"
)

func newTestServer(t *testing.T, configure ...func(*config.Config)) (*server, *echo.Echo) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.OutputDir = t.TempDir()
	for _, fn := range configure {
		fn(&cfg)
	}
	require.NoError(t, cfg.Validate())

	quant, err := conscript.NewQuantizer(conscript.DefaultPalette)
	require.NoError(t, err)

	open := func(ctx context.Context, req jobs.Request) (conscript.FrameSource, error) {
		frame := image.NewNRGBA(image.Rect(0, 0, 2, 2))
		return conscript.NewSliceSource(frame, frame), nil
	}

	s := &server{
		cfg:   cfg,
		mgr:   jobs.NewManager(open, conscript.PackOptions{FrameRate: 1, Quantizer: quant}),
		quant: quant,
	}
	return s, s.routes()
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPalette(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/palette", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []paletteEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, len(conscript.DefaultPalette))
	assert.Equal(t, paletteEntry{ID: "a", Hex: "#ff0000"}, entries[0])
	assert.Equal(t, paletteEntry{ID: "0", Hex: "#000000"}, entries[len(entries)-1])
}

func TestScript(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)

	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{255, 0, 0, 255})

	var body bytes.Buffer
	require.NoError(t, png.Encode(&body, img))

	rec := serve(e, httptest.NewRequest(http.MethodPost,
		"/api/script?width=2&height=1&alpha=true&wait=5", &body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "say \"^a \"\nwait 5", rec.Body.String())

	body.Reset()
	require.NoError(t, png.Encode(&body, img))
	rec = serve(e, httptest.NewRequest(http.MethodPost,
		"/api/script?width=2&height=1&wait=0&print=echo", &body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "echo \"^a^y\"", rec.Body.String())
}

func TestScriptErrors(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)

	rec := serve(e, httptest.NewRequest(http.MethodPost, "/api/script", strings.NewReader("not an image")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, httptest.NewRequest(http.MethodPost, "/api/script?width=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, httptest.NewRequest(http.MethodPost, "/api/script?print=shout", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func encodePNG(t *testing.T, width, height int) *bytes.Buffer {
	t.Helper()
	var body bytes.Buffer
	require.NoError(t, png.Encode(&body, image.NewNRGBA(image.Rect(0, 0, width, height))))
	return &body
}

func TestScriptLimits(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)

	rec := serve(e, httptest.NewRequest(http.MethodPost,
		"/api/script?width=100000&height=100000", encodePNG(t, 2, 2)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, httptest.NewRequest(http.MethodPost,
		"/api/script?width=10&height=513", encodePNG(t, 2, 2)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// width alone scales a tall image past the limit
	rec = serve(e, httptest.NewRequest(http.MethodPost,
		"/api/script?width=1&wait=0", encodePNG(t, 1, 600)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, httptest.NewRequest(http.MethodPost,
		"/api/script?width=1&height=600&wait=0", encodePNG(t, 1, 600)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, httptest.NewRequest(http.MethodPost,
		"/api/script?width=1&height=512&wait=0", encodePNG(t, 1, 600)))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestScriptSourceLimits(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.MaxSourceDimension = 8
		cfg.Server.BodyLimit = "1K"
	})

	rec := serve(e, httptest.NewRequest(http.MethodPost,
		"/api/script?width=2&height=2", encodePNG(t, 16, 1)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, httptest.NewRequest(http.MethodPost,
		"/api/script?width=2&height=2", encodePNG(t, 8, 8)))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(e, httptest.NewRequest(http.MethodPost,
		"/api/script?width=2&height=2", bytes.NewReader(make([]byte, 4096))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestVideoOptions(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse("[video]\nframe_wait = 0\nfps = 30.0\nwidth = 8\nheight = 6")
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Video.FrameRate(0))

	opts := videoOptions(cfg.Video)
	assert.Equal(t, video.Options{Width: 8, Height: 6, FPS: 30}, opts)

	args := video.FFmpegArgs("in.mp4", opts)
	i := indexOf(args, "-r")
	require.GreaterOrEqual(t, i, 0, "%v", args)
	require.Less(t, i+1, len(args))
	assert.Equal(t, "30", args[i+1])

	cfg = config.Default()
	assert.NotContains(t, video.FFmpegArgs("in.mp4", videoOptions(cfg.Video)), "-r")
}

func indexOf(args []string, arg string) int {
	for i, a := range args {
		if a == arg {
			return i
		}
	}
	return -1
}

func TestPack(t *testing.T) {
	t.Parallel()
	s, e := newTestServer(t)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":1`)

	req := httptest.NewRequest(http.MethodPost, "/api/pack", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = serve(e, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, httptest.NewRequest(http.MethodPost, "/api/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/pack",
		strings.NewReader(`{"input": "/videos/clip.mp4", "output": "../escape/out.pk3"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = serve(e, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, ok := s.mgr.WaitForState(ctx, jobs.StateFinished, jobs.StateFailed)
	require.True(t, ok)
	assert.Equal(t, jobs.StateFinished, state.State, state.Error)
	assert.Equal(t, filepath.Join(s.cfg.Server.OutputDir, "out.pk3"), state.Output)
	assert.FileExists(t, state.Output)
}

func TestOutputName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "clip.pk3", outputName("/videos/clip.mp4"))
	assert.Equal(t, "movie.pk3", outputName("movie"))
}
