package cli

import (
	"github.com/spf13/cobra"

	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/pipeline"
	"github.com/paiban/examplan/pkg/scheduler/balance"
)

func newPreCheckCmd() *cobra.Command {
	var input, start, end string

	cmd := &cobra.Command{
		Use:   "precheck",
		Short: "评估考官资源是否足够",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			dates, err := in.dates(rangeFlags(start, end))
			if err != nil {
				return err
			}
			report, err := pipe.PreCheck(in.Candidates, in.Examiners, dates)
			if err != nil {
				return err
			}
			return writeJSON(cmd, report)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "输入文件，- 表示标准输入")
	cmd.Flags().StringVar(&start, "start", "", "开始日期")
	cmd.Flags().StringVar(&end, "end", "", "结束日期")
	return cmd
}

func newSelectCmd() *cobra.Command {
	var input, candidateID, start, end string
	var excludeHolidays bool

	cmd := &cobra.Command{
		Use:   "select",
		Short: "为单个考生选择考试窗口",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			candidate, err := findCandidate(in.Candidates, candidateID)
			if err != nil {
				return err
			}

			sc := pipeline.SelectionContext{
				DateRange:       in.DateRange,
				AvailableDates:  in.Dates,
				Assignments:     in.Assignments,
				ExcludeHolidays: excludeHolidays,
			}
			if r := rangeFlags(start, end); r != nil {
				sc.DateRange = r
				sc.AvailableDates = nil
			}
			if sc.DateRange == nil && len(sc.AvailableDates) == 0 {
				return apperrors.InvalidInput("date_range", "需要提供日期范围或可用日期")
			}

			sel, err := pipe.SelectOptimalWindow(cmd.Context(), candidate, in.Examiners, sc)
			if err != nil {
				return err
			}
			return writeJSON(cmd, sel)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "输入文件，- 表示标准输入")
	cmd.Flags().StringVar(&candidateID, "candidate", "", "考生ID，输入只有一名考生时可省略")
	cmd.Flags().StringVar(&start, "start", "", "开始日期")
	cmd.Flags().StringVar(&end, "end", "", "结束日期")
	cmd.Flags().BoolVar(&excludeHolidays, "exclude-holidays", false, "排除节假日")
	return cmd
}

// allocateOutput 分配结果
type allocateOutput struct {
	*pipeline.AllocationResult
	Balance *balance.Result `json:"balance,omitempty"`
}

func newAllocateCmd() *cobra.Command {
	var input, start, end string
	var rebalance bool

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "为全部考生选择窗口并分配考官",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			dates, err := in.dates(rangeFlags(start, end))
			if err != nil {
				return err
			}

			res, err := pipe.RunAllocationOptimizer(cmd.Context(), in.Candidates, in.Examiners, dates)
			if err != nil {
				return err
			}
			out := allocateOutput{AllocationResult: res}
			if rebalance && len(res.Allocations) > 0 {
				if out.Balance, err = pipe.Balance(cmd.Context(), res.Allocations, in.Examiners); err != nil {
					return err
				}
			}
			return writeJSON(cmd, out)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "输入文件，- 表示标准输入")
	cmd.Flags().StringVar(&start, "start", "", "开始日期")
	cmd.Flags().StringVar(&end, "end", "", "结束日期")
	cmd.Flags().BoolVar(&rebalance, "balance", false, "分配后均衡考官工作量")
	return cmd
}

func findCandidate(candidates []*model.Candidate, id string) (*model.Candidate, error) {
	if id == "" {
		if len(candidates) == 1 {
			return candidates[0], nil
		}
		return nil, apperrors.InvalidInput("candidate", "输入包含多名考生，需要通过 --candidate 指定")
	}
	for _, c := range candidates {
		if c != nil && c.ID == id {
			return c, nil
		}
	}
	return nil, apperrors.NotFound("考生", id)
}
