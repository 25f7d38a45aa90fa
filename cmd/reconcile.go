package main

import (
	"fmt"

	"github.com/Vovarama1992/clipvault/internal/domain"
	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Mark orphaned pending records failed and clean up stray files once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := buildDeps(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			rep, err := domain.NewReconciler(d.repo, d.files, d.cfg.OrphanGrace, d.log).Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "failed=%d files_removed=%d temp_removed=%d\n",
				rep.Failed, rep.FilesRemoved, rep.TempRemoved)
			return nil
		},
	}
}
