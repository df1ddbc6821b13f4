package main

import (
	"bytes"
	"flag"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	_ "golang.org/x/image/bmp"

	"github.com/tmpim/conscript"
	"github.com/tmpim/conscript/config"
	"github.com/tmpim/conscript/jobs"
	"github.com/tmpim/conscript/video"
)

var (
	upgrader = websocket.Upgrader{
		HandshakeTimeout: 5 * time.Second,
	}

	configPath = flag.String("c", "", "set location of a TOML config file")
)

type server struct {
	cfg   config.Config
	mgr   *jobs.Manager
	quant *conscript.Quantizer
}

type paletteEntry struct {
	ID  string `json:"id"`
	Hex string `json:"hex"`
}

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal("conscript server: failed to load config: ", err)
		}
	}

	if err := os.MkdirAll(cfg.Server.OutputDir, 0755); err != nil {
		log.Fatal("conscript server: ", err)
	}

	method, err := conscript.ParsePrintMethod(cfg.Video.Print)
	if err != nil {
		log.Fatal("conscript server: ", err)
	}

	quant, err := conscript.NewQuantizer(conscript.DefaultPalette)
	if err != nil {
		log.Fatal("conscript server: ", err)
	}

	// jobs share one frame rate, so it cannot follow each file's source
	// rate: either frames are held for frame_wait, or ffmpeg resamples every
	// file to fps
	rate := cfg.Video.FrameRate(0)
	if rate <= 0 {
		log.Fatal("conscript server: video.frame_wait or video.fps must be set")
	}

	mgr := jobs.NewManager(jobs.VideoOpener(videoOptions(cfg.Video)),
		conscript.PackOptions{
			Ext:       cfg.Video.Ext,
			Print:     method,
			FrameRate: rate,
			Quantizer: quant,
			Workers:   cfg.Video.Workers,
			TempDir:   cfg.Video.TempDir,
		})

	s := &server{cfg: cfg, mgr: mgr, quant: quant}
	e := s.routes()
	e.Use(middleware.Logger())

	log.Fatal(e.Start(cfg.Server.Listen))
}

func (s *server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	api := e.Group("/api")

	api.GET("/client", func(c echo.Context) error {
		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}

		s.mgr.HandleConn(ws)

		return nil
	})

	api.GET("/palette", func(c echo.Context) error {
		entries := make([]paletteEntry, 0, len(conscript.DefaultPalette))
		for _, entry := range conscript.DefaultPalette {
			entries = append(entries, paletteEntry{ID: string(entry.ID), Hex: entry.Hex()})
		}
		return c.JSON(http.StatusOK, entries)
	})

	api.POST("/script", s.handleScript, middleware.BodyLimit(s.cfg.Server.BodyLimit))

	api.GET("/state", func(c echo.Context) error {
		state := s.mgr.State()
		return c.JSON(http.StatusOK, &state)
	})

	api.POST("/pack", func(c echo.Context) error {
		var req jobs.Request
		if err := c.Bind(&req); err != nil {
			return err
		}
		if req.Input == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "input must be specified")
		}

		output := filepath.Base(req.Output)
		if req.Output == "" || output == "." || output == string(filepath.Separator) {
			output = outputName(req.Input)
		}
		req.Output = filepath.Join(s.cfg.Server.OutputDir, output)

		log.Println("conscript server: packing file:", req.Input)

		if err := s.mgr.Start(req); err != nil {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}

		state := s.mgr.State()
		return c.JSON(http.StatusOK, &state)
	})

	api.POST("/cancel", func(c echo.Context) error {
		state, err := s.mgr.Cancel()
		if err != nil {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}

		return c.JSON(http.StatusOK, &state)
	})

	return e
}

// videoOptions returns the decoding options for packing jobs. A configured
// fps is passed to ffmpeg so that decoded frames match the packed rate.
func videoOptions(v config.VideoConfig) video.Options {
	return video.Options{
		Width:  v.Width,
		Height: v.Height,
		FPS:    v.FPS,
	}
}

func outputName(input string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".pk3"
}

// handleScript converts the image in the request body into a single image
// script. Query parameters override the configured image settings.
func (s *server) handleScript(c echo.Context) error {
	opts := s.cfg.Image

	for name, dst := range map[string]*int{
		"width":  &opts.Width,
		"height": &opts.Height,
		"wait":   &opts.Wait,
	} {
		if v := c.QueryParam(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
			}
			*dst = n
		}
	}
	if v := c.QueryParam("print"); v != "" {
		opts.Print = v
	}
	if v := c.QueryParam("alpha"); v != "" {
		keep, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid alpha")
		}
		opts.KeepAlpha = keep
	}

	method, err := conscript.ParsePrintMethod(opts.Print)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	prepOpts := conscript.PrepareOptions{
		Width:          opts.Width,
		Height:         opts.Height,
		KeepAlpha:      opts.KeepAlpha,
		AlphaThreshold: uint8(opts.AlphaThreshold),
	}

	maxDim := s.cfg.Server.MaxDimension
	if prepOpts.Width > maxDim || prepOpts.Height > maxDim {
		return echo.NewHTTPError(http.StatusBadRequest,
			"width and height must not exceed "+strconv.Itoa(maxDim))
	}

	data, err := ioutil.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}

	imgCfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to decode image: "+err.Error())
	}

	maxSrc := s.cfg.Server.MaxSourceDimension
	if imgCfg.Width > maxSrc || imgCfg.Height > maxSrc {
		return echo.NewHTTPError(http.StatusBadRequest,
			"image width and height must not exceed "+strconv.Itoa(maxSrc))
	}

	width, height := prepOpts.Size(image.Rect(0, 0, imgCfg.Width, imgCfg.Height))
	if width > maxDim || height > maxDim {
		return echo.NewHTTPError(http.StatusBadRequest,
			"resulting script would exceed "+strconv.Itoa(maxDim)+" pixels, set width and height")
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to decode image: "+err.Error())
	}

	prepared, err := conscript.PrepareImage(img, prepOpts)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	script, err := conscript.BuildScript(prepared, s.quant, conscript.ScriptOptions{
		Print:   method,
		RowWait: opts.Wait,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.String(http.StatusOK, script.String())
}
