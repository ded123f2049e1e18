// mixctl is the operator dashboard: a read-only bubbletea view over the
// same Catalog the engine process writes to.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/infinitymix/engine/internal/catalog"
	"github.com/infinitymix/engine/internal/config"
	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/tui"
)

func main() {
	root := &cobra.Command{
		Use:   "mixctl",
		Short: "Live dashboard over an infinitymix engine's job queue and mashups",
	}
	v := config.BindFlags(root)
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return run(v)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(v *viper.Viper) error {
	cfg := config.FromViper(v)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := catalog.Open(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("mixctl: open catalog: %w", err)
	}
	defer db.Close()

	poll := func() (tui.Snapshot, error) {
		snap := tui.Snapshot{PendingByKind: map[domain.JobKind]int{}, PolledAt: time.Now()}
		for _, kind := range []domain.JobKind{domain.JobAnalyze, domain.JobSeparate, domain.JobPlan, domain.JobRender} {
			n, err := db.PendingJobCount(kind)
			if err != nil {
				return snap, fmt.Errorf("pending job count for %s: %w", kind, err)
			}
			snap.PendingByKind[kind] = n
		}

		for _, status := range []domain.MashupStatus{domain.MashupPending, domain.MashupGenerating, domain.MashupCompleted, domain.MashupFailed} {
			mashups, err := db.ListMashupsByStatus(status)
			if err != nil {
				return snap, fmt.Errorf("list mashups %s: %w", status, err)
			}
			for _, m := range mashups {
				snap.Mashups = append(snap.Mashups, tui.MashupRow{ID: m.ID, Name: m.Name, Status: m.Status})
			}
		}
		return snap, nil
	}

	p := tea.NewProgram(tui.New(poll), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
