package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/danussh/Faxing/internal/domain/model"
	"github.com/danussh/Faxing/internal/repository"
)

func migrateCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := env.migrate(cmd.Context())
			if err != nil {
				return err
			}
			if err := m.up(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be positive, got %d", steps)
			}
			m, err := env.migrate(cmd.Context())
			if err != nil {
				return err
			}
			if err := m.down(steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}

func sweepCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation tick now",
		Long: `Run one reconciliation tick for the current interval.

The tick competes for the same lock as the running service. If a service
instance already swept the current interval, nothing is done and the
command reports the time of the next scheduled tick.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			res, err := b.sweeper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case !res.Acquired:
				fmt.Fprintf(out, "NOT RUN: tick %s was already swept by a running instance; next tick at %s\n",
					res.Tick.Format(time.RFC3339), res.NextTick.Format(time.RFC3339))
			case res.Disabled:
				fmt.Fprintln(out, "sweep is disabled by the control parameter")
			default:
				fmt.Fprintf(out, "tick %s: candidates=%d upload_pending=%d dispatched=%d failed=%d\n",
					res.Tick.Format(time.RFC3339), res.Candidates, res.UploadPending, res.Dispatched, res.Failed)
			}
			return nil
		},
	}
}

func showCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "show <faxId>",
		Short: "Show a fax record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			faxID, err := parseFaxID(args[0])
			if err != nil {
				return err
			}
			b, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			f, err := b.faxes.GetByID(cmd.Context(), faxID)
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("fax %s not found", faxID)
			}
			if err != nil {
				return err
			}
			printFax(cmd.OutOrStdout(), f)
			return nil
		},
	}
}

func stopCmd(env *environment) *cobra.Command {
	return faxUpdateCmd(env, "stop <faxId>", "Stop processing of a fax (kill switch)", "stopped",
		func(cmd *cobra.Command, b *backend, faxID, actor string) (int64, error) {
			return b.faxes.StopProcessing(cmd.Context(), faxID, actor)
		})
}

func deleteCmd(env *environment) *cobra.Command {
	return faxUpdateCmd(env, "delete <faxId>", "Soft-delete a fax record", "deleted",
		func(cmd *cobra.Command, b *backend, faxID, actor string) (int64, error) {
			return b.faxes.SoftDelete(cmd.Context(), faxID, actor)
		})
}

// faxUpdateCmd — команда, меняющая одну запись факса от имени оператора.
func faxUpdateCmd(
	env *environment,
	use, short, verb string,
	op func(cmd *cobra.Command, b *backend, faxID, actor string) (int64, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			faxID, err := parseFaxID(args[0])
			if err != nil {
				return err
			}
			actor, err := cmd.Flags().GetString("actor")
			if err != nil {
				return err
			}
			b, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			n, err := op(cmd, b, faxID, actor)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "fax %s not changed (missing or already %s)\n", faxID, verb)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fax %s %s\n", faxID, verb)
			return nil
		},
	}
}

func vendorCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vendor",
		Short: "Manage registered fax vendors",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Register a vendor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			v, err := b.vendors.Create(cmd.Context(), args[0])
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("vendor %q already registered", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vendor %s registered with id %d\n", v.Name, v.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active vendors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			vendors, err := b.vendors.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, v := range vendors {
				fmt.Fprintf(w, "%d\t%s\n", v.ID, v.Name)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Deregister a vendor; new faxes from it are rejected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			err = b.vendors.Delete(cmd.Context(), args[0])
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("vendor %q not found", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vendor %s deleted\n", args[0])
			return nil
		},
	})

	return cmd
}

func parseFaxID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid fax id %q: must be a UUID", s)
	}
	return id.String(), nil
}

func printFax(out io.Writer, f *model.FaxRecord) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	row := func(k, v string) { fmt.Fprintf(w, "%s:\t%s\n", k, v) }

	row("FaxID", f.FaxID)
	row("Vendor", f.VendorName)
	row("VendorFaxID", f.VendorFaxID)
	row("Filename", f.Filename)
	row("Pages", fmt.Sprintf("%d good, %d bad", f.GoodPageCount, f.BadPageCount))
	row("To", f.ToNumber)
	row("From", f.FromNumber)
	row("ReceivedAt", f.ReceivedAt.UTC().Format(time.RFC3339))
	row("Uploaded", strconv.FormatBool(f.Uploaded))
	row("ProcessStatus", optionalBool(f.ProcessStatus))
	row("StopProcessing", optionalBool(f.StopProcessing))
	row("RetryCount", strconv.Itoa(f.RetryCount))
	row("LastSentAt", optionalTime(f.LastSentAt))
	row("CreatedAt", f.CreatedAt.UTC().Format(time.RFC3339))
	row("DeletedAt", optionalTime(f.DeletedAt))
	_ = w.Flush()
}

func optionalBool(b *bool) string {
	if b == nil {
		return "-"
	}
	return strconv.FormatBool(*b)
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
