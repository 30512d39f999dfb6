package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/go-spatial/cobra"

	"github.com/publicamundi/geoquery/catalog"
	"github.com/publicamundi/geoquery/query"
	"github.com/publicamundi/geoquery/registry"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compile every query in a batch without executing it.",
	Long: `validate resolves and lowers every query in a batch's queue
against catalog metadata, the same way serve does, but never sends the
compiled SQL to the data connection. It reports the compiled SQL and
bound argument count per query, useful for reviewing a saved query
document before running it.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateFile, "file", "", "read the batch request from this file instead of stdin")
}

// validateEnvelope is the minimal shape validate needs: it never
// executes, so it only needs crs/format/queue, not the full engine
// batch contract.
type validateEnvelope struct {
	CRS    *string           `json:"crs"`
	Format *string           `json:"format"`
	Queue  []json.RawMessage `json:"queue"`
}

// compiledQueryReport is one entry of validate's JSON report.
type compiledQueryReport struct {
	Index      int    `json:"index"`
	SQL        string `json:"sql,omitempty"`
	ArgCount   int    `json:"arg_count"`
	FieldCount int    `json:"field_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	raw, err := readValidateInput()
	if err != nil {
		return err
	}

	var env validateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("batch document is malformed: %w", err)
	}
	if len(env.Queue) == 0 {
		return fmt.Errorf("parameter queue should be a list with at least one item")
	}

	format := registry.FormatGeoJSON
	if env.Format != nil {
		format = *env.Format
	}
	targetSRID := registry.DefaultOutputSRID
	if env.CRS != nil {
		targetSRID = sridFromCRSCodeForValidate(*env.CRS)
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

	resources, err := catalog.ListResources(catalogPool)
	if err != nil {
		return err
	}

	dataConn, err := dataPool.Acquire()
	if err != nil {
		return fmt.Errorf("failed to acquire data connection: %w", err)
	}
	defer dataPool.Release(dataConn)

	qctx := &query.Context{
		Resources:     resources,
		Metadata:      query.NewMetadataStore(),
		DataConn:      dataConn,
		DescribeCache: describeCache,
		TargetSRID:    targetSRID,
		OutputFormat:  format,
	}

	reports := make([]compiledQueryReport, 0, len(env.Queue))
	for i, rawQuery := range env.Queue {
		report := compiledQueryReport{Index: i}
		compiled, err := query.Compile(qctx, rawQuery)
		if err != nil {
			report.Error = err.Error()
		} else {
			report.SQL = compiled.SQL
			report.ArgCount = len(compiled.Args)
			report.FieldCount = len(compiled.Fields)
		}
		reports = append(reports, report)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func readValidateInput() (json.RawMessage, error) {
	if validateFile != "" {
		b, err := ioutil.ReadFile(validateFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", validateFile, err)
		}
		return json.RawMessage(b), nil
	}

	b, err := ioutil.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch request from stdin: %w", err)
	}
	return json.RawMessage(b), nil
}

// sridFromCRSCodeForValidate parses the integer SRID out of a "EPSG:####"
// code, defaulting to registry.DefaultOutputSRID for an unsupported or
// malformed one. validate is a read-only reporting tool, so it is more
// permissive than the engine's strict CRS validation.
func sridFromCRSCodeForValidate(code string) int {
	if !registry.IsSupportedCRS(code) {
		return registry.DefaultOutputSRID
	}
	for i := len(code) - 1; i >= 0; i-- {
		if code[i] == ':' {
			var n int
			if _, err := fmt.Sscanf(code[i+1:], "%d", &n); err == nil {
				return n
			}
			break
		}
	}
	return registry.DefaultOutputSRID
}
