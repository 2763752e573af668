// Command ordinaut is the single binary exposing Ordinaut's process
// surface (spec.md §6.3): the scheduler, worker, coordinator, and
// event ingress daemons, plus a taskctl-style set of task management
// subcommands. Grounded on the teacher's per-process cmd/ layout
// (cmd/scheduler, cmd/server, cmd/seed), collapsed into one Cobra CLI
// the way teranos-QNTX's qntx binary fans a root command out into
// subcommand files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ordinaut",
	Short: "Ordinaut is a durable multi-agent task scheduler.",
	Long: `Ordinaut schedules, triggers, and executes declarative multi-step
pipelines on cron, RRULE, one-shot, and event schedules, with
exactly-once claiming, lease-based crash recovery, and configurable
retry/backoff.`,
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(ingressCmd)
	rootCmd.AddCommand(taskCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
