package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tmckenzie51/sshkit/internal/monitor"
	"github.com/tmckenzie51/sshkit/internal/ui"
)

var (
	statsWatchFlag    bool
	statsIntervalFlag time.Duration
)

var statsCmd = &cobra.Command{
	Use:   "stats [hosts...]",
	Short: "Show connection pool statistics",
	Long: `Show pool counters and a per-connection table. Hosts given as
arguments are connected first, so the pool has something to report.

With --watch, a live dashboard refreshes until you press q.

Examples:
  sshkit stats web-01 web-02
  sshkit stats web-01 --watch
  sshkit stats web-01 --watch --interval 5s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStats(args)
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsWatchFlag, "watch", false, "refresh continuously in a live dashboard")
	statsCmd.Flags().DurationVar(&statsIntervalFlag, "interval", monitor.DefaultInterval, "refresh interval for --watch")
	rootCmd.AddCommand(statsCmd)
}

func showStats(hosts []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	validator := newValidator(cfg)
	manager := newPool(cfg, validator)
	defer manager.Close()

	for _, host := range hosts {
		client, err := manager.Get(context.Background(), resolveTarget(cfg, host))
		if err != nil {
			return err
		}
		manager.Release(client)
	}

	if statsWatchFlag {
		return monitor.Run(manager, statsIntervalFlag)
	}

	fmt.Println(ui.RenderStats(manager.Stats()))
	if conns := manager.Snapshot(); len(conns) > 0 {
		fmt.Println()
		fmt.Println(ui.RenderConnTable(conns))
	}
	return nil
}
