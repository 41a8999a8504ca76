package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/portal_export/internal/config"
	"github.com/dgnsrekt/portal_export/internal/controller"
	"github.com/dgnsrekt/portal_export/internal/ingest"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "exporter",
	Short:         "exporter downloads quote reports from the cotizador portals and loads them into sqlite.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
			if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
				slog.Debug("logger setup stderr write failed", "error", writeErr)
			}
			return err
		}
		slog.Debug("exporter config loaded",
			"strategy", cfg.Strategy,
			"cdp_url", cfg.CDPURL,
			"profile_dir", cfg.ProfileDir,
			"download_dir", cfg.DownloadDir,
			"db_url", cfg.DBURL,
			"portals_file", cfg.PortalsFile,
			"log_level", cfg.LogLevel,
		)
		return nil
	},
}

var noIngest bool

var runCmd = &cobra.Command{
	Use:   "run <portal> [--no-ingest]",
	Short: "Exports today's quotes from one portal and appends them to its table.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, !noIngest)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.svc.Export(cmd.Context(), args[0], controller.RunOptions{Ingest: !noIngest})
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(rec); encErr != nil {
			slog.Debug("run record encode failed", "error", encErr)
		}
		return err
	},
}

var tabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "Lists the page tabs of the configured browser.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		tabs, err := a.svc.ListTabs(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tTITLE\tURL")
		for _, t := range tabs {
			fmt.Fprintf(w, "%d\t%s\t%s\n", t.Index, t.Title, t.URL)
		}
		return w.Flush()
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <portal> <file>",
	Short: "Appends a previously downloaded export to the portal's table.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := cfg.Portals()
		if err != nil {
			return err
		}
		def, err := set.Get(args[0])
		if err != nil {
			return err
		}
		store, err := ingest.Open(cmd.Context(), cfg.DBURL)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.File(cmd.Context(), def.Table, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d rows appended to %s\n", n, def.Table)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&noIngest, "no-ingest", false, "Download only; skip the database append.")
	rootCmd.AddCommand(runCmd, tabsCmd, serveCmd, ingestCmd)
}
