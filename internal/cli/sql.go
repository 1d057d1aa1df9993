package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/insight/pkg/store"
)

var sqlTables bool

var sqlCmd = &cobra.Command{
	Use:   "sql [statement]",
	Short: "Run a statement against the business database",
	Long: `Run one SQL statement against the business database and print the
result the way the agent observes it. With --tables, list the tables.`,
	RunE: runSQL,
}

func init() {
	sqlCmd.Flags().BoolVar(&sqlTables, "tables", false, "list tables instead of running a statement")
	rootCmd.AddCommand(sqlCmd)
}

func runSQL(cmd *cobra.Command, args []string) error {
	if !sqlTables && len(args) == 0 {
		return fmt.Errorf("a statement is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	path := cfg.Store.Path
	if path != ":memory:" && !filepath.IsAbs(path) {
		path = filepath.Join(cfg.DataDir, path)
	}
	s, err := store.Open(cmd.Context(), store.Config{
		Path:    path,
		Seed:    cfg.Store.Seed,
		MaxRows: cfg.Tools.MaxRows,
		Logger:  log.Zerolog(),
	})
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	if sqlTables {
		tables, err := s.Tables(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, strings.Join(tables, ", "))
		return nil
	}

	rs, err := s.Query(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, rs.Render(store.RenderOptions{
		MaxRows:  cfg.Tools.MaxRows,
		MaxBytes: cfg.Tools.MaxObservationBytes,
	}))
	return nil
}
