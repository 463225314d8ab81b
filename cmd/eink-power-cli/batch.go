// cmd/eink-power-cli/batch.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"eink-power-cli/internal/batch"
	"eink-power-cli/internal/model"
)

func (a *Application) batchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run the commands listed in a file",
		Long: "Run commands from a YAML script or a plain file with one command per line (# starts a\n" +
			"comment). Every step is validated before anything is sent. The batch stops at the first\n" +
			"failed step unless --continue-on-error is given.",
		Example: "  eink-power-cli batch --file bringup.yaml --format json",
		Args:    cobra.NoArgs,
		RunE:    a.runBatch,
	}

	cmd.Flags().String("file", "", "batch file (.yaml, .yml or plain lines)")
	cmd.Flags().Bool("continue-on-error", false, "run remaining steps after a failure")
	cmd.MarkFlagRequired("file")
	return cmd
}

func (a *Application) runBatch(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")
	script, err := batch.Load(path)
	if err != nil {
		return err
	}
	if err := script.Validate(a.registry); err != nil {
		return err
	}
	if cmd.Flags().Changed("continue-on-error") {
		script.ContinueOnError, _ = cmd.Flags().GetBool("continue-on-error")
	}

	out, err := a.Formatter()
	if err != nil {
		return err
	}
	errOut := a.errorFormatter(out)

	svc, err := a.Controller()
	if err != nil {
		return a.report(errOut, script.Name, err)
	}

	var lastErr error
	summary, err := batch.NewRunner(svc, a.logger).Run(cmd.Context(), script, func(r batch.StepResult) {
		if r.Err != nil {
			errOut.Error(r.Command, r.Err)
			errOut.Flush()
			lastErr = r.Err
			return
		}
		out.Outcome(r.Outcome)
		out.Flush()
		if r.Failed() {
			lastErr = model.ResultError(r.Outcome.Result)
		}
	})
	if err != nil {
		return err
	}

	if !a.quiet {
		fmt.Fprintf(a.stderr, "Batch %q: %d steps, %d succeeded, %d failed%s\n",
			script.Name, summary.Total, summary.Succeeded, summary.Failed, abortedSuffix(summary.Aborted))
	}

	if summary.Failed > 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("%d batch steps failed", summary.Failed)
		}
		return &reportedError{err: lastErr}
	}
	return nil
}

func abortedSuffix(aborted bool) string {
	if aborted {
		return " (stopped early)"
	}
	return ""
}
