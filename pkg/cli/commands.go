package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rlibfactory/rlibfactory/internal/engine"
	"github.com/rlibfactory/rlibfactory/pkg/config"
	"github.com/rlibfactory/rlibfactory/pkg/state"
	"github.com/rlibfactory/rlibfactory/pkg/types"
	"github.com/rlibfactory/rlibfactory/pkg/worklist"
)

// addStateFlags registers the flags needed to locate recorded state
func addStateFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("factory-dir", ".", "directory holding the build script")
	flags.String("state-dir", "", "state directory (default: <factory-dir>/run-state)")
	flags.String("state-backend", string(types.StateBackendFile), "outcome store: file or sqlite")
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return withStateFlags(&cobra.Command{
		Use:   "status [crate...]",
		Short: "Show recorded outcomes",
		Long:  `Display the latest recorded outcome of every crate, or of the named crates.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus(cmd.Context(), args)
		},
	})
}

func (c *CLI) newResetCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reset [crate...]",
		Short: "Forget recorded outcomes",
		Long:  `Delete the outcome records of the named crates, or of every crate with --all, so the next build attempts them again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runReset(cmd.Context(), args, all)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "reset every crate")
	return withStateFlags(cmd)
}

func (c *CLI) newLogsCmd() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs <crate>",
		Short: "Show the build log of a crate",
		Long:  `Display the last lines of the log written by the latest build attempt of a crate.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runLogs(types.CrateID(args[0]), lines)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	return withStateFlags(cmd)
}

func (c *CLI) newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Maintain crate index files",
	}

	var prefix, out string
	cargo := &cobra.Command{
		Use:   "cargo <Cargo.toml>",
		Short: "Import crate names from a Cargo workspace manifest",
		Long: `Read [workspace.dependencies] of a Cargo workspace manifest and write the
names starting with --prefix as a crate index file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runIndexCargo(args[0], prefix, out)
		},
	}
	cargo.Flags().StringVar(&prefix, "prefix", "solana-", "only keep dependencies with this name prefix")
	cargo.Flags().StringVarP(&out, "out", "o", "", "index file to write (default: stdout)")

	cmd.AddCommand(cargo)
	return cmd
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rlib-factory",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "rlib-factory v%s\n", c.config.Version)
		},
	}
}

func withStateFlags(cmd *cobra.Command) *cobra.Command {
	addStateFlags(cmd)
	return cmd
}

// Implementation functions

func (c *CLI) openState(ctx context.Context) (state.Store, string, error) {
	stateDir, backend, err := config.StateDirOnly(c.viper)
	if err != nil {
		return nil, "", c.configError(err)
	}
	if _, err := os.Stat(stateDir); os.IsNotExist(err) {
		return nil, stateDir, nil
	}
	store, err := state.Open(ctx, backend, stateDir)
	if err != nil {
		return nil, stateDir, c.configError(err)
	}
	return store, stateDir, nil
}

func (c *CLI) runStatus(ctx context.Context, crates []string) error {
	store, stateDir, err := c.openState(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		c.printWarning(fmt.Sprintf("No state found in %s", stateDir))
		return nil
	}
	defer store.Close()

	records, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list outcomes: %w", err)
	}
	if len(crates) > 0 {
		wanted := make(map[types.CrateID]bool, len(crates))
		for _, name := range crates {
			wanted[types.CrateID(name)] = true
		}
		filtered := records[:0]
		for _, rec := range records {
			if wanted[rec.Crate] {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	if len(records) == 0 {
		c.printInfo("No outcomes recorded")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CRATE\tSTATUS\tBUILT\tLAST RUN\tLOG")
	fmt.Fprintln(w, "-----\t------\t-----\t--------\t---")

	counts := map[types.OutcomeKind]int{}
	for _, rec := range records {
		counts[rec.Outcome.Kind]++

		built := "-"
		if rec.Outcome.Total > 0 {
			built = fmt.Sprintf("%d/%d", rec.Outcome.Built, rec.Outcome.Total)
		}
		lastRun := "-"
		if !rec.UpdatedAt.IsZero() {
			lastRun = rec.UpdatedAt.Local().Format("2006-01-02 15:04:05")
		}
		logPath := rec.LogPath
		if logPath == "" {
			logPath = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.Crate,
			statusColor(string(rec.Outcome.Kind)),
			built,
			lastRun,
			logPath,
		)
	}
	w.Flush()

	c.println()
	c.println(fmt.Sprintf("ok=%d partial=%d no_rlib=%d failed=%d",
		counts[types.OutcomeOK], counts[types.OutcomePartial],
		counts[types.OutcomeNoArtifact], counts[types.OutcomeFailed]))
	return nil
}

func (c *CLI) runReset(ctx context.Context, crates []string, all bool) error {
	if len(crates) == 0 && !all {
		return errors.New("name at least one crate or pass --all")
	}
	if len(crates) > 0 && all {
		return errors.New("--all cannot be combined with crate names")
	}

	store, stateDir, err := c.openState(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		c.printWarning(fmt.Sprintf("No state found in %s", stateDir))
		return nil
	}
	defer store.Close()

	ids := make([]types.CrateID, 0, len(crates))
	if all {
		records, err := store.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list outcomes: %w", err)
		}
		for _, rec := range records {
			ids = append(ids, rec.Crate)
		}
	} else {
		for _, name := range crates {
			ids = append(ids, types.CrateID(name))
		}
	}

	for _, id := range ids {
		if err := store.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to reset %s: %w", id, err)
		}
	}

	c.printSuccess(fmt.Sprintf("Reset %d crate(s)", len(ids)))
	return nil
}

func (c *CLI) runLogs(id types.CrateID, lines int) error {
	stateDir, _, err := config.StateDirOnly(c.viper)
	if err != nil {
		return c.configError(err)
	}

	logFile := filepath.Join(stateDir, engine.LogsDirName, string(id)+".log")
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("no log found for crate: %s", id)
	}

	content, err := readLastNLines(logFile, lines)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", logFile, err)
	}

	fmt.Fprintf(c.output, "=== %s ===\n", id)
	fmt.Fprint(c.output, content)
	return nil
}

func readLastNLines(filename string, n int) (string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if n < 0 {
		n = 0
	}
	// Ring of the last n lines
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = append(ring[1:], scanner.Text())
		} else {
			ring = append(ring, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	if len(ring) == 0 {
		return "", nil
	}
	return strings.Join(ring, "\n") + "\n", nil
}

func (c *CLI) runIndexCargo(manifest, prefix, out string) error {
	ids, err := worklist.ImportCargoWorkspace(manifest, prefix)
	if err != nil {
		return err
	}

	if out == "" {
		for _, id := range ids {
			c.println(id)
		}
		return nil
	}

	if err := worklist.WriteList(out, ids); err != nil {
		return err
	}
	c.printSuccess(fmt.Sprintf("Wrote %d crate(s) to %s", len(ids), out))
	return nil
}
