// Package cli 提供 examplan 命令行工具
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paiban/examplan/internal/config"
	"github.com/paiban/examplan/pkg/calendar"
	"github.com/paiban/examplan/pkg/logger"
	"github.com/paiban/examplan/pkg/monitor"
	"github.com/paiban/examplan/pkg/pipeline"
	"github.com/paiban/examplan/pkg/solver"
	"github.com/paiban/examplan/pkg/weights"
)

var (
	flagConfig   string
	flagLogLevel string
	flagOutput   string

	cfg  *config.Config
	pipe *pipeline.Pipeline
)

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examplan",
		Short: "考试安排辅助工具",
		Long:  "examplan 在本地运行轮班查询、资源预检、窗口选择、考官分配与预警监控。",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.Init(logger.Config{
				Level:  flagLogLevel,
				Format: "console",
				Output: "stderr",
			})
			if flagOutput != "json" && flagOutput != "text" {
				return fmt.Errorf("不支持的输出格式: %s", flagOutput)
			}

			var err error
			cfg, err = config.Load(flagConfig)
			if err != nil {
				return err
			}
			pipe, err = newPipeline(cfg)
			return err
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "YAML 配置文件路径")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "日志级别 (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&flagOutput, "output", "o", "json", "输出格式 (json, text)")

	root.AddCommand(
		newRotationCmd(),
		newPreCheckCmd(),
		newSelectCmd(),
		newAllocateCmd(),
		newMonitorCmd(),
		newKeygenCmd(),
	)

	return root
}

// newPipeline 本地运行不连接数据库与消息队列，权重只支持默认表和 HTTP 来源
func newPipeline(c *config.Config) (*pipeline.Pipeline, error) {
	cal, err := calendar.New(c.Holidays)
	if err != nil {
		return nil, fmt.Errorf("节假日配置无效: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithCalendar(cal),
		pipeline.WithAlertSink(monitor.NewLogSink()),
	}
	if c.Weights.Source == "http" {
		source := weights.NewHTTPSource(c.Weights.URL, c.Weights.Timeout)
		opts = append(opts, pipeline.WithWeights(weights.NewProvider(source, weights.WithTTL(c.Weights.CacheTTL))))
	}
	if c.Solver.URL != "" {
		opts = append(opts, pipeline.WithSolver(solver.NewClient(c.Solver.URL, c.Solver.Timeout)))
	}
	return pipeline.New(pipeline.FromConfig(c), opts...), nil
}
