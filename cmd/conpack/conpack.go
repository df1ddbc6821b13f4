package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/tmpim/conscript"
	"github.com/tmpim/conscript/config"
	"github.com/tmpim/conscript/internal/termprogress"
	"github.com/tmpim/conscript/video"
)

var (
	configPath  = flag.String("c", "", "set location of a TOML config file")
	outputPath  = flag.String("o", "video.pk3", "set location of the output archive")
	width       = flag.Int("width", 0, "frame width in pixels")
	height      = flag.Int("height", 0, "frame height in pixels")
	printMethod = flag.String("print", "", "console command used to print rows (say or echo)")
	frameWait   = flag.Int("framewait", 0, "wait ticks per frame (0 = derive from fps and tickrate)")
	fps         = flag.Float64("fps", 0, "resample the video to this frame rate (0 = source rate)")
	tickRate    = flag.Float64("tickrate", 0, "console wait ticks per second")
	ext         = flag.String("ext", "", "extension of the generated scripts")
	workers     = flag.Int("workers", 0, "number of frame encoding workers (0 = one per CPU)")
	debug       = flag.Bool("debug", false, "show ffmpeg output")
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	progress := termprogress.NewStderr("Encoding frames")
	log.SetOutput(progress)

	if flag.Arg(0) == "" {
		log.Println("Usage: conpack [options] input_video")
		log.Println("")
		log.Println("conpack converts every frame of a video into a console script that")
		log.Println("chains to the next one, and packs them with a start script into")
		log.Println("a single archive.")
		log.Println("")
		log.Println("Options:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Println("Failed to load config:", err)
			os.Exit(1)
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "width":
			cfg.Video.Width = *width
		case "height":
			cfg.Video.Height = *height
		case "print":
			cfg.Video.Print = *printMethod
		case "framewait":
			cfg.Video.FrameWait = *frameWait
		case "fps":
			cfg.Video.FPS = *fps
		case "tickrate":
			cfg.Video.TickRate = *tickRate
		case "ext":
			cfg.Video.Ext = *ext
		case "workers":
			cfg.Video.Workers = *workers
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Println(err)
		os.Exit(1)
	}

	method, err := conscript.ParsePrintMethod(cfg.Video.Print)
	if err != nil {
		log.Println(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	input := flag.Arg(0)

	var sourceFPS float64
	var frames int
	meta, err := video.Probe(ctx, input)
	if err != nil {
		log.Println("Warning: Failed to probe video, frame count unknown:", err)
	} else {
		sourceFPS = meta.FPS
		frames = meta.FramesAt(cfg.Video.FPS)
		log.Printf("Video %q: %dx%d, %.2f fps, %d frames", meta.Title,
			meta.Width, meta.Height, meta.FPS, meta.Frames)
	}

	rate := cfg.Video.FrameRate(sourceFPS)
	if rate <= 0 {
		log.Println("Cannot determine the frame rate, set -framewait or -fps.")
		os.Exit(1)
	}

	src, err := video.Open(ctx, input, video.Options{
		Width:  cfg.Video.Width,
		Height: cfg.Video.Height,
		FPS:    cfg.Video.FPS,
		Frames: frames,
		Debug:  *debug,
	})
	if err != nil {
		log.Println("Failed to open video:", err)
		os.Exit(1)
	}
	defer src.Close()

	result, err := conscript.Pack(ctx, *outputPath, src, conscript.PackOptions{
		Ext:        cfg.Video.Ext,
		Print:      method,
		FrameRate:  rate,
		Workers:    cfg.Video.Workers,
		TempDir:    cfg.Video.TempDir,
		OnProgress: progress.Update,
	})
	progress.Done()
	if err != nil {
		log.Println("Failed to pack video:", err)
		src.Close()
		os.Exit(1)
	}

	log.Println("\nDone! That took " + time.Since(start).String() + ".")
	log.Printf("%d frames packed into %q, start with \"exec %s\".\n", result.Frames,
		result.Path, result.Start)
}
