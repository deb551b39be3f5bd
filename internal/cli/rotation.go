package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/rotation"
)

// rotationRow 轮班查询结果，指定班组时带上该班组的状态
type rotationRow struct {
	model.DutyPattern
	Group  string            `json:"group,omitempty"`
	Status model.GroupStatus `json:"status,omitempty"`
}

func newRotationCmd() *cobra.Command {
	var start, end, group string

	cmd := &cobra.Command{
		Use:   "rotation",
		Short: "查询日期范围内的四班轮转",
		Example: `  examplan rotation --start 2025-09-08 --end 2025-09-11
  examplan rotation --start 2025年9月8日 --group B -o text`,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := rotation.NormalizeDate(start)
			if err != nil {
				return err
			}
			to := from
			if end != "" {
				if to, err = rotation.NormalizeDate(end); err != nil {
					return err
				}
			}
			dates := model.DateRange{StartDate: from, EndDate: to}.Dates()
			if len(dates) == 0 {
				return apperrors.New(apperrors.CodeInvalidTimeRange, "结束日期早于开始日期")
			}

			rows := make([]rotationRow, 0, len(dates))
			for _, d := range dates {
				p, err := pipe.Rotation().Pattern(d)
				if err != nil {
					return err
				}
				row := rotationRow{DutyPattern: p}
				if group != "" {
					row.Group = group
					row.Status = pipe.Rotation().Status(group, d)
				}
				rows = append(rows, row)
			}

			if flagOutput == "json" {
				return writeJSON(cmd, rows)
			}
			out := cmd.OutOrStdout()
			for _, r := range rows {
				line := fmt.Sprintf("%s  白班:%s  夜班:%s  休息:%s", r.Date, r.DayShiftGroup, r.NightShiftGroup, strings.Join(r.RestGroups[:], ","))
				if r.Group != "" {
					line += fmt.Sprintf("  %s组:%s", r.Group, r.Status)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "开始日期")
	cmd.Flags().StringVar(&end, "end", "", "结束日期，缺省为开始日期")
	cmd.Flags().StringVar(&group, "group", "", "查看指定班组的状态")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}
