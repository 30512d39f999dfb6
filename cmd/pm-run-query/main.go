// Command pm-run-query compiles and executes structured queries against
// a PostGIS catalog.
package main

import (
	"os"

	"github.com/publicamundi/geoquery/internal/log"
)

func main() {
	if err := RootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
