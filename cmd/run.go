package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/model"
)

var (
	runSubject string
	runFast    bool
	runQuiet   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate a research report for a single subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		if !runQuiet {
			bar := newStageBar(os.Stderr, len(env.Executor.Stages()))
			id := env.Progress.Subscribe(bar.observe)
			defer env.Progress.Unsubscribe(id)
			defer bar.finish()
		}

		result := env.Runner.Execute(ctx, model.RunRequest{Subject: runSubject, FastMode: runFast})

		zap.L().Info("report run complete",
			zap.String("subject", result.SubjectID),
			zap.String("job_id", result.JobID),
			zap.Float64("duration_secs", result.DurationSeconds),
			zap.Int("errors", len(result.Errors)),
		)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return eris.Wrap(err, "encode result")
		}
		if result.Failed() {
			return eris.New(result.Error)
		}
		return nil
	},
}

// stageBar advances one tick per finished stage.
type stageBar struct {
	bar *progressbar.ProgressBar
}

func newStageBar(w io.Writer, stages int) *stageBar {
	return &stageBar{bar: progressbar.NewOptions(stages,
		progressbar.OptionSetDescription("Starting"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(false),
	)}
}

func (s *stageBar) observe(ev model.ProgressEvent) {
	s.bar.Describe(ev.Step)
	if ev.Percentage == 100 {
		_ = s.bar.Add(1)
	}
}

func (s *stageBar) finish() {
	_ = s.bar.Finish()
}

func init() {
	runCmd.Flags().StringVar(&runSubject, "subject", "", "project name or ticker to research (required)")
	runCmd.Flags().BoolVar(&runFast, "fast", false, "research only the first three sections")
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "hide the progress bar")
	_ = runCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(runCmd)
}
