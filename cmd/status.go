package cmd

import (
	"github.com/lehigh-university-libraries/pagereader/internal/models"
	"github.com/lehigh-university-libraries/pagereader/internal/report"
	"github.com/lehigh-university-libraries/pagereader/internal/tasks"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var flags trackFlags

	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Follow an existing task until it finishes",
		Long: `Resumes tracking a task that was submitted earlier, for example after the
connection to the service was lost while waiting.`,
		Example: `  pagereader status 3f1c9a52-0b7e-4b1e-a3f4-6a4a0f0d2c11 --report result.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.resolve()
			client := tasks.NewClient(flags.apiURL)
			handle := models.UploadHandle{TaskID: args[0]}
			return friendly(track(cmd.Context(), cmd.OutOrStdout(), client, handle, flags, report.Submission{}))
		},
	}

	flags.register(cmd)

	return cmd
}
