// Command rasterize builds the occupancy bitmap for a map offline and writes
// it as a greyscale PNG mask.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/ManadaHerath/pixelmap-server/internal/log"
	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
	"github.com/ManadaHerath/pixelmap-server/internal/raster"
)

func rasterize(svgPath, outputPath string, cols, cellSize int, strict bool) error {
	md, err := mapdata.LoadFile(svgPath, "")
	if err != nil {
		return err
	}
	g, err := raster.NewGrid(cols, cellSize, md.ViewBox)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(g.Rows,
		progressbar.OptionSetDescription("sampling rows"),
		progressbar.OptionShowCount(),
	)
	progress := func(done, total int) {
		_ = bar.Set(done)
	}

	b, err := raster.Build(context.Background(), raster.SVGRasterizer{Strict: strict}, md, g, progress)
	_ = bar.Finish()
	if err != nil {
		return err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := png.Encode(out, raster.Mask(b)); err != nil {
		return err
	}

	fmt.Printf("\ngrid %dx%d, %d of %d cells active (%.1f%%)\n",
		g.Cols, g.Rows, b.Active(), b.Len(), 100*float64(b.Active())/float64(b.Len()))
	return nil
}

func main() {
	svgPath := flag.String("i", "data/portugal.svg", "input SVG path")
	outputPath := flag.String("o", "mask.png", "output mask PNG path")
	cols := flag.Int("cols", 1273, "grid columns")
	cellSize := flag.Int("cell", 1, "cell size in raster pixels")
	strict := flag.Bool("strict", false, "fail on unsupported SVG elements")
	level := flag.String("log", "info", "log level")
	flag.Parse()

	if err := log.Init(log.Options{Level: *level}); err != nil {
		log.Fatalf("log: %v", err)
	}
	if err := rasterize(*svgPath, *outputPath, *cols, *cellSize, *strict); err != nil {
		log.Fatalf("rasterize: %v", err)
	}
}
