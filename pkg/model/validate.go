package model

import (
	stderrors "errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/paiban/examplan/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateRoster 在流水线入口校验考生与考官数据
func ValidateRoster(candidates []*Candidate, examiners []*Examiner) error {
	ve := &errors.ValidationErrors{}

	seen := make(map[string]bool)
	for i, c := range candidates {
		if c == nil {
			ve.Add(fmt.Sprintf("candidates[%d]", i), "不能为空")
			continue
		}
		collect(ve, fmt.Sprintf("candidates[%d]", i), validate.Struct(c))
		if seen["c:"+c.ID] {
			ve.Add(fmt.Sprintf("candidates[%d].id", i), "重复的考生ID "+c.ID)
		}
		seen["c:"+c.ID] = true
	}
	for i, e := range examiners {
		if e == nil {
			ve.Add(fmt.Sprintf("examiners[%d]", i), "不能为空")
			continue
		}
		collect(ve, fmt.Sprintf("examiners[%d]", i), validate.Struct(e))
		if seen["e:"+e.ID] {
			ve.Add(fmt.Sprintf("examiners[%d].id", i), "重复的考官ID "+e.ID)
		}
		seen["e:"+e.ID] = true
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}

// ValidateAssignments 校验已有分配
func ValidateAssignments(assignments []*Assignment) error {
	ve := &errors.ValidationErrors{}
	for i, a := range assignments {
		if a == nil {
			ve.Add(fmt.Sprintf("assignments[%d]", i), "不能为空")
			continue
		}
		collect(ve, fmt.Sprintf("assignments[%d]", i), validate.Struct(a))
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// ValidateStruct 校验任意带 validate 标签的结构体
func ValidateStruct(prefix string, v interface{}) error {
	ve := &errors.ValidationErrors{}
	collect(ve, prefix, validate.Struct(v))
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func collect(ve *errors.ValidationErrors, prefix string, err error) {
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		ve.Add(prefix, err.Error())
		return
	}
	for _, fe := range fieldErrs {
		ve.Add(prefix+"."+fe.Field(), fmt.Sprintf("不满足规则 %s", fe.Tag()))
	}
}
