package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

func runsCmd() *cobra.Command {
	var jobID string
	var limit int
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show run history",
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobIDPtr *uuid.UUID
			if jobID != "" {
				id, err := uuid.Parse(jobID)
				if err != nil {
					return fmt.Errorf("invalid --job: %w", err)
				}
				jobIDPtr = &id
			}

			st, err := openCmdStore()
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(context.Background(), jobIDPtr, limit)
			if err != nil {
				return err
			}
			printRuns(runs, jsonOutput)
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "filter to one job id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printRuns(runs []store.Run, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tJOB\tSTARTED\tOK\tERROR\n")
	for _, r := range runs {
		okStr := "pending"
		if r.OK != nil {
			okStr = fmt.Sprintf("%v", *r.OK)
		}
		errStr := ""
		if r.Error != nil {
			errStr = *r.Error
		}
		idShort := r.ID.String()
		if len(idShort) > 8 {
			idShort = idShort[:8]
		}
		jobShort := r.JobID.String()
		if len(jobShort) > 8 {
			jobShort = jobShort[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			idShort, jobShort, r.StartedAt.Format(time.DateTime), okStr, errStr)
	}
	tw.Flush()
}
