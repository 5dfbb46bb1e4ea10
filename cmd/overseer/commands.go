package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/Overseer/internal/api/client"
	"github.com/CZERTAINLY/Overseer/internal/model"
	"github.com/CZERTAINLY/Overseer/internal/parallel"
	"github.com/CZERTAINLY/Overseer/internal/service"
)

// requestLimit bounds concurrent requests of commands taking many ids.
const requestLimit = 8

var (
	flagSpecFile string
	flagSlot     string
	flagStatus   string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "submit a task spec to a running overseer",
	Args:  cobra.NoArgs,
	RunE:  doSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status TASK_ID...",
	Short: "print the status of tasks",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list known tasks",
	Args:  cobra.NoArgs,
	RunE:  doList,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel TASK_ID...",
	Short: "cancel tasks which are not final yet",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doCancel,
}

func newClient() (*client.Client, error) {
	cfg, err := service.ParseClientConfig("client")
	if err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}
	return client.New(cfg.Server, client.WithTimeout(cfg.Timeout))
}

func readSpec(path string, stdin io.Reader) (model.TaskSpec, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return model.TaskSpec{}, err
		}
		defer func() {
			_ = f.Close()
		}()
		r = f
	}
	return model.LoadTaskSpec(r)
}

func doSubmit(cmd *cobra.Command, _ []string) error {
	spec, err := readSpec(flagSpecFile, cmd.InOrStdin())
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s:%d:%d: %s: %s\n", d.Pos.Filename, d.Pos.Line, d.Pos.Column, d.Path, d.Message)
		}
		return fmt.Errorf("reading task spec: %w", err)
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	id, err := c.Submit(cmd.Context(), spec)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func doStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	results := parallel.Map(cmd.Context(), requestLimit, args, c.Status)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	var errs []error
	for i, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", args[i], r.Err))
			continue
		}
		if err := enc.Encode(r.Value); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func doList(cmd *cobra.Command, _ []string) error {
	var status *model.TaskStatus
	if flagStatus != "" {
		st, err := model.ParseStatus(flagStatus)
		if err != nil {
			return err
		}
		status = &st
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	tasks, err := c.List(cmd.Context(), flagSlot, status)
	if err != nil {
		return err
	}
	return printTasks(cmd.OutOrStdout(), tasks)
}

func doCancel(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	cancel := func(ctx context.Context, id string) (struct{}, error) {
		return struct{}{}, c.Cancel(ctx, id)
	}
	var errs []error
	for i, r := range parallel.Map(cmd.Context(), requestLimit, args, cancel) {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", args[i], r.Err))
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), args[i])
	}
	return errors.Join(errs...)
}

func printTasks(w io.Writer, tasks []model.TaskInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tATTEMPT\tEXIT\tUPDATED\tREASON")
	for _, t := range tasks {
		exit := "-"
		if t.ExitCode != nil {
			exit = fmt.Sprint(*t.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			t.ID, t.Status, t.Attempt, exit, t.UpdatedAt.Format(time.RFC3339), t.Reason)
	}
	return tw.Flush()
}
