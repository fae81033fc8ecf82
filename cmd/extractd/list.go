package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	httpAdapter "github.com/cwygoda/extractd/internal/adapter/http"
	"github.com/cwygoda/extractd/internal/adapter/store"
	"github.com/cwygoda/extractd/internal/domain"
)

// ListCmd prints matching jobs as a JSON array.
func ListCmd(a *app) *cobra.Command {
	var (
		documentID, status string
		limit, offset      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List extraction jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load(cmd)
			if err != nil {
				return err
			}

			var filter domain.ListFilter
			if cmd.Flags().Changed("document-id") {
				filter.DocumentID = &documentID
			}
			if cmd.Flags().Changed("status") {
				filter.Status = &status
			}
			if cmd.Flags().Changed("limit") {
				filter.Limit = &limit
			}
			if cmd.Flags().Changed("offset") {
				filter.Offset = &offset
			}

			repo, err := store.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer repo.Close()

			svc := domain.NewJobService(repo, domain.WithLogger(logger))
			jobs, err := svc.List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}

			out := make([]httpAdapter.JobResponse, 0, len(jobs))
			for _, job := range jobs {
				out = append(out, httpAdapter.NewJobResponse(job))
			}
			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&documentID, "document-id", "", "only jobs for this document")
	cmd.Flags().StringVar(&status, "status", "", "only jobs in this status (pending, processing, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of jobs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of jobs to skip")
	return cmd
}
