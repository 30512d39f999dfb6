package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/go-spatial/cobra"

	"github.com/publicamundi/geoquery/catalog"
	"github.com/publicamundi/geoquery/engine"
	"github.com/publicamundi/geoquery/internal/log"
)

var serveFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Execute a batch request and print its response envelope.",
	Long: `serve reads a batch request document (crs?, format?, queue) from
stdin, or from the file named by --file, executes it against the
configured catalog and data databases, and writes the JSON/GeoJSON
response envelope to stdout.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFile, "file", "", "read the batch request from this file instead of stdin")
}

func runServe(cmd *cobra.Command, args []string) error {
	raw, err := readBatchInput()
	if err != nil {
		return err
	}

	catalogPool, dataPool, err := openPools(cfg)
	if err != nil {
		return err
	}
	defer catalogPool.Close()
	defer dataPool.Close()

	describeCache, err := catalog.NewDescribeCache(cfg.DescribeCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create describe cache: %w", err)
	}

	eng := &engine.Engine{
		CatalogPool:    catalogPool,
		DataPool:       dataPool,
		DescribeCache:  describeCache,
		TotalTimeoutMS: cfg.TimeoutMS,
	}

	result, err := eng.Execute(raw)
	if err != nil {
		log.Error(err)
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func readBatchInput() (json.RawMessage, error) {
	if serveFile != "" {
		b, err := ioutil.ReadFile(serveFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", serveFile, err)
		}
		return json.RawMessage(b), nil
	}

	b, err := ioutil.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch request from stdin: %w", err)
	}
	return json.RawMessage(b), nil
}
