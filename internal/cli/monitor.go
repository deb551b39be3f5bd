package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paiban/examplan/pkg/monitor"
)

// monitorOutput 单次监控结果，指定 --from 时附带风险预测
type monitorOutput struct {
	*monitor.CheckResult
	Risks []monitor.DateRisk `json:"risks,omitempty"`
}

func newMonitorCmd() *cobra.Command {
	var input, from string
	var horizon int
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "检查当前安排的系统状态与预警",
		Long:  "默认执行一次检查；--watch 时按 --interval 重新读取输入文件并持续检查，直到收到中断信号。",
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				if input == "-" {
					return fmt.Errorf("--watch 不支持标准输入")
				}
				return watchInput(cmd, input, interval)
			}

			in, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			res, err := pipe.Monitor(cmd.Context(), in.Assignments, in.Examiners, in.Candidates)
			if err != nil {
				return err
			}

			out := monitorOutput{CheckResult: res}
			if from != "" {
				if horizon <= 0 {
					horizon = cfg.Monitor.HorizonDays
				}
				snap := monitor.Snapshot{Assignments: in.Assignments, Examiners: in.Examiners, Candidates: in.Candidates}
				if out.Risks, err = pipe.Predict(snap, from, horizon); err != nil {
					return err
				}
			}

			if flagOutput == "json" {
				return writeJSON(cmd, out)
			}
			printCheck(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "输入文件，- 表示标准输入")
	cmd.Flags().StringVar(&from, "from", "", "风险预测的起始日期")
	cmd.Flags().IntVar(&horizon, "horizon", 0, "风险预测天数，缺省使用配置")
	cmd.Flags().BoolVar(&watch, "watch", false, "持续监控")
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "持续监控的检查间隔")
	return cmd
}

func watchInput(cmd *cobra.Command, path string, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := pipe.RunMonitor(ctx, interval, func(context.Context) (monitor.Snapshot, error) {
		in, err := readInput(cmd, path)
		if err != nil {
			return monitor.Snapshot{}, err
		}
		return monitor.Snapshot{Assignments: in.Assignments, Examiners: in.Examiners, Candidates: in.Candidates}, nil
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return writeJSON(cmd, pipe.Alerts())
	}
	return err
}

func printCheck(cmd *cobra.Command, res *monitor.CheckResult) {
	out := cmd.OutOrStdout()
	s := res.State
	fmt.Fprintf(out, "资源使用率 %.0f%%  冲突率 %.0f%%  连续性 %.0f%%  工作量方差 %.2f\n",
		s.ResourceUsage*100, s.ConflictRate*100, s.ContinuityRate*100, s.WorkloadVariance)
	for _, a := range res.ActiveAlerts {
		fmt.Fprintf(out, "[%s] %s: %s\n", a.Level, a.Kind, a.Message)
	}
	for _, r := range res.Recommendations {
		fmt.Fprintf(out, "- %s\n", r)
	}
}
