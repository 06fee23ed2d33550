package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sigreer/chrootctl/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past chroot sessions and anything they left behind",
	Long: `Show the session journal.

A resource is pending when its session never released it, usually because
chrootctl was killed or a teardown step failed. --pending lists those with
the command that releases each one; --clear marks them released after they
were dealt with by hand.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of sessions to show")
	historyCmd.Flags().Bool("pending", false, "list unreleased resources")
	historyCmd.Flags().Bool("clear", false, "mark every pending resource released")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	if clearAll, _ := cmd.Flags().GetBool("clear"); clearAll {
		n, err := db.ClearPending()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Marked %d resource(s) released\n", n)
		return nil
	}

	if pending, _ := cmd.Flags().GetBool("pending"); pending {
		resources, err := db.PendingResources()
		if err != nil {
			return err
		}
		printPending(out, resources)
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	sessions, err := db.Sessions(limit)
	if err != nil {
		return err
	}
	printSessions(out, sessions)
	return nil
}

var statusColor = map[string]*color.Color{
	history.StatusRunning:  color.New(color.FgYellow),
	history.StatusFinished: color.New(color.FgGreen),
	history.StatusFailed:   color.New(color.FgRed),
}

func printSessions(w io.Writer, sessions []*history.SessionRecord) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded")
		return
	}
	fmt.Fprintf(w, "%-36s %-10s %-16s %-24s %s\n", "SESSION", "STATUS", "STARTED", "ROOT", "ERROR")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, s := range sessions {
		status := fmt.Sprintf("%-10s", s.Status)
		if c, ok := statusColor[s.Status]; ok {
			status = c.Sprint(status)
		}
		root := s.RootDevice
		if root == "" {
			root = "-"
		}
		fmt.Fprintf(w, "%-36s %s %-16s %-24s %s\n", s.ID, status, humanize.Time(s.StartedAt), root, s.Error)
	}
}

func printPending(w io.Writer, resources []*history.ResourceRecord) {
	if len(resources) == 0 {
		fmt.Fprintln(w, "Nothing pending")
		return
	}
	fmt.Fprintf(w, "%-8s %-32s %-16s %s\n", "KIND", "NAME", "ACQUIRED", "RELEASE WITH")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, r := range resources {
		fmt.Fprintf(w, "%-8s %-32s %-16s %s\n", r.Kind, r.Name, humanize.Time(r.AcquiredAt), releaseHint(r))
		if r.ReleaseError != "" {
			fmt.Fprintf(w, "         %s\n", color.RedString(r.ReleaseError))
		}
	}
}

// releaseHint is the command that releases a resource by hand
func releaseHint(r *history.ResourceRecord) string {
	switch r.Kind {
	case history.KindMount:
		return "umount -R " + r.Name
	case history.KindLUKS:
		return "cryptsetup luksClose " + r.Name
	case history.KindKey:
		return "zfs unload-key " + r.Name
	case history.KindPool:
		return "zpool export " + r.Name
	}
	return "-"
}
