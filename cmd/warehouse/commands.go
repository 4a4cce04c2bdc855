package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"

	"github.com/agentuity/go-warehouse/cache"
	"github.com/agentuity/go-warehouse/expiry"
	"github.com/agentuity/go-warehouse/sys"
)

func formatTime(t time.Time) string {
	if !t.Before(expiry.DistantFuture) {
		return "never"
	}
	return humanize.Time(t)
}

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the entries of a namespace without modifying it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := resolveTarget(cmd)
			if err != nil {
				return err
			}
			entries, err := cache.ScanNamespace(cache.NewOSFilesystem(t.dir), t.namespace)
			if err != nil {
				return err
			}
			expiredOnly, _ := cmd.Flags().GetBool("expired")
			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FILE\tSIZE\tCREATED\tEXPIRES\tACCESSED\tSTATUS")
			for _, e := range entries {
				status := "ok"
				switch {
				case e.Err != nil:
					status = "corrupt: " + e.Err.Error()
				case e.Expired(now):
					status = "expired"
				}
				if expiredOnly && status != "expired" {
					continue
				}
				if e.Err != nil {
					fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t%s\n", e.Name, humanize.IBytes(uint64(e.Size)), status)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Name, humanize.IBytes(uint64(e.Size)),
					formatTime(e.Created), formatTime(e.Expires), formatTime(e.LastAccessed), status)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Bool("expired", false, "only list expired entries")
	return cmd
}

func newUsageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Report the entry count and bytes used by a namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := resolveTarget(cmd)
			if err != nil {
				return err
			}
			entries, err := cache.ScanNamespace(cache.NewOSFilesystem(t.dir), t.namespace)
			if err != nil {
				return err
			}
			var used int64
			var expired, corrupt int
			now := time.Now()
			for _, e := range entries {
				used += e.Size
				switch {
				case e.Err != nil:
					corrupt++
				case e.Expired(now):
					expired++
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "namespace: %s\n", t.path())
			fmt.Fprintf(out, "entries:   %s (%s expired, %s corrupt)\n",
				humanize.Comma(int64(len(entries))), humanize.Comma(int64(expired)), humanize.Comma(int64(corrupt)))
			fmt.Fprintf(out, "used:      %s\n", humanize.IBytes(uint64(used)))
			if free := sys.DiskFreeSpace(t.dir); free > 0 {
				fmt.Fprintf(out, "free:      %s\n", humanize.IBytes(free))
			}
			if total := sys.SystemMemory(); total > 0 {
				fmt.Fprintf(out, "memory:    %s\n", humanize.IBytes(total))
			}
			return nil
		},
	}
}

func newPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := resolveTarget(cmd)
			if err != nil {
				return err
			}
			disk, err := t.open()
			if err != nil {
				return err
			}
			defer disk.Close()
			before, usage := disk.Len(), disk.Usage()
			if err := disk.RemoveExpired(cmd.Context(), time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries, freed %s\n",
				before-disk.Len(), humanize.IBytes(uint64(usage-disk.Usage())))
			return nil
		},
	}
}

func newPruneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove entries not read within a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetString("older-than")
			age, err := str2duration.ParseDuration(olderThan)
			if err != nil {
				return errors.Wrapf(err, "invalid --older-than %q", olderThan)
			}
			if age <= 0 {
				return errors.Newf("--older-than must be positive, got %s", olderThan)
			}
			t, err := resolveTarget(cmd)
			if err != nil {
				return err
			}
			disk, err := t.open()
			if err != nil {
				return err
			}
			defer disk.Close()
			usage := disk.Usage()
			n, err := disk.RemoveAccessedBefore(cmd.Context(), time.Now().Add(-age))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries not accessed in %s, freed %s\n",
				n, str2duration.String(age), humanize.IBytes(uint64(usage-disk.Usage())))
			return nil
		},
	}
	cmd.Flags().String("older-than", "7d", "remove entries last accessed before now minus this duration, e.g. 12h, 2d, 1w")
	return cmd
}

func newClearCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry of a namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return errors.New("refusing to clear without --yes")
			}
			t, err := resolveTarget(cmd)
			if err != nil {
				return err
			}
			disk, err := t.open()
			if err != nil {
				return err
			}
			defer disk.Close()
			n := disk.Len()
			if err := disk.RemoveAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries from %s\n", n, t.path())
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "confirm removal")
	return cmd
}
