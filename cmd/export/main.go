package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/paulmach/orb/maptile"
	"github.com/tilezen/go-tilefetch/tiling"
)

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// export copies every tile of the mbtiles cache at input into a new
// pmtiles archive at output and returns the number of tiles copied.
func export(input, output string, logger *slog.Logger) (int, error) {
	reader, err := tiling.NewMbtilesCache(input)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	metadata, err := reader.Metadata()
	if err != nil {
		return 0, err
	}

	exporter, err := tiling.NewPmtilesExporter(output, metadata, logger)
	if err != nil {
		return 0, err
	}

	count := 0
	var saveErr error
	err = reader.VisitAllTiles(func(t maptile.Tile, data []byte) {
		if saveErr != nil {
			return
		}
		if saveErr = exporter.Save(t, data); saveErr == nil {
			count++
		}
	})
	if err == nil {
		err = saveErr
	}
	if closeErr := exporter.Close(); err == nil {
		err = closeErr
	}
	return count, err
}

func main() {
	outputFilename := flag.String("output", "", "The pmtiles archive to write to")
	flag.Parse()
	inputFilenames := flag.Args()

	if *outputFilename == "" {
		log.Fatalf("Must specify --output path")
	}

	if len(inputFilenames) != 1 {
		log.Fatalf("Must specify exactly one input mbtiles path")
	}

	// If the output file exists already we shouldn't overwrite it
	if pathExists(*outputFilename) {
		log.Fatalf("Output path %s already exists and cannot be overwritten", *outputFilename)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger.Info("Exporting tiles", "input", inputFilenames[0], "output", *outputFilename)

	count, err := export(inputFilenames[0], *outputFilename, logger)
	if err != nil {
		log.Fatalf("Couldn't export %s: %+v", inputFilenames[0], err)
	}
	logger.Info("Exported tiles", "tiles", count)
}
