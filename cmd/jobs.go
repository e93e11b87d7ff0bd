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

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/config"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store/sqlstore"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobsGetCmd())
	cmd.AddCommand(jobsUpsertCmd())
	cmd.AddCommand(jobsDeleteCmd())
	return cmd
}

func openCmdStore() (store.Store, error) {
	cfg := config.Load()
	return sqlstore.Open(cfg.DatabaseURL)
}

func jobsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openCmdStore()
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.ListJobs(context.Background())
			if err != nil {
				return err
			}
			printJobs(jobs, jsonOutput)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func jobsGetCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "get [jobId]",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			st, err := openCmdStore()
			if err != nil {
				return err
			}
			defer st.Close()

			job, err := st.GetJob(context.Background(), id)
			if err != nil {
				return err
			}
			printJobs([]store.Job{*job}, jsonOutput)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func jobsUpsertCmd() *cobra.Command {
	var id, label, server, tool, argsJSON string
	var interval int
	var enabled bool
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobID uuid.UUID
			if id != "" {
				var err error
				jobID, err = uuid.Parse(id)
				if err != nil {
					return fmt.Errorf("invalid --id: %w", err)
				}
			}
			if argsJSON == "" {
				argsJSON = "{}"
			}
			var probe map[string]any
			if err := json.Unmarshal([]byte(argsJSON), &probe); err != nil {
				return fmt.Errorf("invalid --args: %w", err)
			}

			st, err := openCmdStore()
			if err != nil {
				return err
			}
			defer st.Close()

			job := store.Job{
				BaseModel:       store.BaseModel{ID: jobID},
				Label:           label,
				Server:          server,
				Tool:            tool,
				ArgsJSON:        argsJSON,
				IntervalSeconds: interval,
				Enabled:         enabled,
			}
			saved, err := st.UpsertJob(context.Background(), job)
			if err != nil {
				return err
			}
			printJobs([]store.Job{*saved}, false)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "existing job id (omit to create)")
	cmd.Flags().StringVar(&label, "label", "", "human-readable job name")
	cmd.Flags().StringVar(&server, "server", "", "backend name")
	cmd.Flags().StringVar(&tool, "tool", "", "tool name on that backend")
	cmd.Flags().StringVar(&argsJSON, "args", "{}", "tool arguments, as a JSON object")
	cmd.Flags().IntVar(&interval, "interval", 60, "seconds between runs (floored at 5)")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "whether the job fires")
	return cmd
}

func jobsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [jobId]",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			st, err := openCmdStore()
			if err != nil {
				return err
			}
			defer st.Close()

			deleted, err := st.DeleteJob(context.Background(), id)
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Fprintf(os.Stderr, "no such job: %s\n", args[0])
				os.Exit(1)
			}
			fmt.Printf("Deleted job %s\n", args[0])
			return nil
		},
	}
}

func printJobs(jobs []store.Job, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(jobs, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs configured.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tLABEL\tSERVER\tTOOL\tINTERVAL\tENABLED\tNEXT RUN\n")
	for _, j := range jobs {
		nextRun := "pending"
		if j.NextRunAt != nil {
			nextRun = j.NextRunAt.Format(time.DateTime)
		}
		idShort := j.ID.String()
		if len(idShort) > 8 {
			idShort = idShort[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%ds\t%v\t%s\n",
			idShort, j.Label, j.Server, j.Tool, j.IntervalSeconds, j.Enabled, nextRun)
	}
	tw.Flush()
}
