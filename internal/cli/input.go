package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/model"
)

// Input 命令输入文件
type Input struct {
	Candidates  []*model.Candidate  `json:"candidates"`
	Examiners   []*model.Examiner   `json:"examiners"`
	Assignments []*model.Assignment `json:"assignments,omitempty"`
	Dates       []string            `json:"dates,omitempty"`
	DateRange   *model.DateRange    `json:"date_range,omitempty"`
}

// readInput 读取 JSON 输入，path 为 "-" 时读取标准输入
func readInput(cmd *cobra.Command, path string) (*Input, error) {
	if path == "" {
		return nil, apperrors.InvalidInput("input", "需要通过 --input 指定输入文件")
	}

	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("打开输入文件失败: %w", err)
		}
		defer f.Close()
		r = f
	}

	var in Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidInput, "解析输入文件失败")
	}
	return &in, nil
}

// dates 命令行范围优先，其次是文件中的显式日期，最后展开文件中的日期范围
func (in *Input) dates(flagRange *model.DateRange) ([]string, error) {
	if flagRange != nil {
		in.DateRange = flagRange
		in.Dates = nil
	}
	if len(in.Dates) > 0 {
		return in.Dates, nil
	}
	if in.DateRange == nil {
		return nil, apperrors.InvalidInput("dates", "需要提供日期或日期范围")
	}
	if err := model.ValidateStruct("date_range", in.DateRange); err != nil {
		return nil, err
	}
	dates := in.DateRange.Dates()
	if len(dates) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidTimeRange, "结束日期早于开始日期")
	}
	return dates, nil
}

// rangeFlags --start/--end 对应的日期范围，未指定时返回 nil
func rangeFlags(start, end string) *model.DateRange {
	if start == "" {
		return nil
	}
	if end == "" {
		end = start
	}
	return &model.DateRange{StartDate: start, EndDate: end}
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
