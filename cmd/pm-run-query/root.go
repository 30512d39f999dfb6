package main

import (
	"fmt"

	"github.com/go-spatial/cobra"
	"github.com/jackc/pgx"

	"github.com/publicamundi/geoquery/config"
	"github.com/publicamundi/geoquery/internal/log"
)

const defaultPoolMaxConnections = 5

var (
	cfgFile string
	cfg     *config.Config
)

// RootCmd is the pm-run-query root command. It mirrors tegola's own
// root-command convention: a single persistent `--config` flag, loaded
// once in PersistentPreRunE ahead of every subcommand.
var RootCmd = &cobra.Command{
	Use:   "pm-run-query",
	Short: "Compile and execute structured queries against a PostGIS catalog.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config %s: %w", cfgFile, err)
		}
		cfg = loaded

		if cfg.LogLevel != "" {
			if err := log.SetLevel(cfg.LogLevel); err != nil {
				return fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
			}
		}
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "./pm-run-query.toml", "configuration file location")

	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(validateCmd)
}

// openPools opens the catalog and data connection pools described by cfg.
// Callers are responsible for closing both pools when done.
func openPools(cfg *config.Config) (catalogPool, dataPool *pgx.ConnPool, err error) {
	catalogConfig, err := pgx.ParseConnectionString(cfg.SQLAlchemyCatalog)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid sqlalchemy_catalog connection string: %w", err)
	}
	dataConfig, err := pgx.ParseConnectionString(cfg.SQLAlchemyVectorstore)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid sqlalchemy_vectorstore connection string: %w", err)
	}

	catalogPool, err = pgx.NewConnPool(pgx.ConnPoolConfig{ConnConfig: catalogConfig, MaxConnections: defaultPoolMaxConnections})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open catalog connection pool: %w", err)
	}

	dataPool, err = pgx.NewConnPool(pgx.ConnPoolConfig{ConnConfig: dataConfig, MaxConnections: defaultPoolMaxConnections})
	if err != nil {
		catalogPool.Close()
		return nil, nil, fmt.Errorf("failed to open data connection pool: %w", err)
	}

	return catalogPool, dataPool, nil
}
