package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatewright/gatewright/pkg/archive"
	"github.com/gatewright/gatewright/pkg/provenance"
)

func newArchiveCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect the audit archive",
	}
	cmd.AddCommand(newArchiveLsCommand(opts))
	cmd.AddCommand(newArchiveVerifyCommand(opts))
	return cmd
}

func newArchiveLsCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List archived audit reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeDB, err := openArchive(opts)
			if err != nil {
				return err
			}
			defer closeDB()

			summaries, err := store.ListReports(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("no reports archived")
				return nil
			}
			for _, s := range summaries {
				fmt.Printf("%s  %s  %s  %s\n",
					s.GeneratedAt.Format("2006-01-02T15:04:05Z"), s.ReportID, s.ContractID, s.ContentHash)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of reports to list")
	return cmd
}

func newArchiveVerifyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the most recently archived chain export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeDB, err := openArchive(opts)
			if err != nil {
				return err
			}
			defer closeDB()

			body, err := store.LatestExport(cmd.Context())
			if err != nil {
				return err
			}
			if body == nil {
				return fmt.Errorf("no chain exports archived")
			}
			valid, reason := provenance.VerifyExport(body)
			if !valid {
				return fmt.Errorf("archived chain export invalid: %s", reason)
			}
			fmt.Println("archived chain export verified")
			return nil
		},
	}
}

func openArchive(opts *rootOptions) (*archive.Store, func(), error) {
	db, err := archive.Open(opts.ArchivePath)
	if err != nil {
		return nil, nil, err
	}
	store, err := archive.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() { _ = db.Close() }, nil
}
