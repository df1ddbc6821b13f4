package main

import (
	"flag"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log"
	"os"
	"time"

	colorable "github.com/mattn/go-colorable"
	_ "golang.org/x/image/bmp"

	"github.com/tmpim/conscript"
	"github.com/tmpim/conscript/config"
)

var (
	configPath  = flag.String("c", "", "set location of a TOML config file")
	outputPath  = flag.String("o", "image.cfg", "set location of output script")
	previewPath = flag.String("p", "", "set location of an output preview (will be PNG)")
	width       = flag.Int("width", 0, "resize the image to this width")
	height      = flag.Int("height", 0, "resize the image to this height")
	keepAlpha   = flag.Bool("alpha", false, "keep transparency instead of drawing over white")
	printMethod = flag.String("print", "", "console command used to print rows (say or echo)")
	wait        = flag.Int("wait", 0, "wait after every row (0 = no wait)")
	listPalette = flag.Bool("palette", false, "list the palette and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(0)
	log.SetOutput(colorable.NewColorableStderr())

	if *listPalette {
		log.Printf("Palette version %d:", conscript.PaletteVersion)
		for _, e := range conscript.DefaultPalette {
			log.Printf("  %c  %s", e.ID, e.Hex())
		}
		os.Exit(0)
	}

	if flag.Arg(0) == "" {
		log.Println("Usage: conscript [options] input_image")
		log.Println("")
		log.Println("conscript converts an image into a console script that draws it")
		log.Println("one row at a time using the fixed console palette.")
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
			cfg.Image.Width = *width
		case "height":
			cfg.Image.Height = *height
		case "alpha":
			cfg.Image.KeepAlpha = *keepAlpha
		case "print":
			cfg.Image.Print = *printMethod
		case "wait":
			cfg.Image.Wait = *wait
		}
	})

	method, err := conscript.ParsePrintMethod(cfg.Image.Print)
	if err != nil {
		log.Println(err)
		os.Exit(1)
	}

	start := time.Now()

	img, err := conscript.LoadImage(flag.Arg(0))
	if err != nil {
		log.Println("Failed to open image:", err)
		os.Exit(1)
	}

	prepared, err := conscript.PrepareImage(img, conscript.PrepareOptions{
		Width:          cfg.Image.Width,
		Height:         cfg.Image.Height,
		KeepAlpha:      cfg.Image.KeepAlpha,
		AlphaThreshold: uint8(cfg.Image.AlphaThreshold),
	})
	if err != nil {
		log.Println("Failed to prepare image:", err)
		os.Exit(1)
	}

	log.Println("Image loaded, generating script...")

	quant, err := conscript.NewQuantizer(conscript.DefaultPalette)
	if err != nil {
		log.Println("Failed to build quantizer:", err)
		os.Exit(1)
	}

	script, err := conscript.BuildScript(prepared, quant, conscript.ScriptOptions{
		Print:   method,
		RowWait: cfg.Image.Wait,
	})
	if err != nil {
		log.Println("Failed to generate script:", err)
		os.Exit(1)
	}

	if *previewPath != "" {
		func() {
			quantized, err := quant.Quantize(prepared)
			if err != nil {
				log.Println("Warning: Failed to quantize preview image:", err)
				return
			}

			preview, err := os.Create(*previewPath)
			if err != nil {
				log.Println("Warning: Failed to create preview image:", err)
				return
			}
			defer preview.Close()

			err = png.Encode(preview, quantized.Image())
			if err != nil {
				log.Println("Warning: Failed to encode preview image:", err)
			}
		}()
	}

	err = conscript.WriteScriptFile(*outputPath, script)
	if err != nil {
		log.Println("Failed to write to output file:", err)
		os.Exit(1)
	}

	log.Println("\nDone! That took " + time.Since(start).String() + ".")
	log.Printf("Script outputted to %q.\n", *outputPath)
}
