package constraint

import (
	"fmt"

	"github.com/paiban/fenban/pkg/errors"
	"github.com/paiban/fenban/pkg/model"
)

// Validate 校验学生与班级配置
// 空输入返回 EMPTY_INPUT，结构错误返回 CONFIGURATION_ERROR
func Validate(students []*model.Student, classes []model.ClassConfig) error {
	if len(students) == 0 {
		return errors.EmptyInput("学生名单")
	}
	if len(classes) == 0 {
		return errors.EmptyInput("班级列表")
	}

	ve := &errors.ValidationErrors{}

	seenClass := make(map[string]bool, len(classes))
	for i, c := range classes {
		field := fmt.Sprintf("classes[%d]", i)
		if c.ID == "" {
			ve.Add(field+".class_id", "班级ID为空")
		} else if seenClass[c.ID] {
			ve.Add(field+".class_id", fmt.Sprintf("班级ID重复: %s", c.ID))
		}
		seenClass[c.ID] = true

		if c.CapacityTarget <= 0 {
			ve.Add(field+".capacity_target", "目标人数必须大于 0")
		}
		for tag, n := range c.Quotas {
			if model.NormalizeTag(tag) == "" {
				ve.Add(field+".quotas", "配额标签为空")
			} else if tag != model.NormalizeTag(tag) {
				ve.Add(field+".quotas", fmt.Sprintf("配额标签未规范化: %q", tag))
			}
			if n < 0 {
				ve.Add(field+".quotas."+tag, "配额不能为负数")
			}
		}
	}

	seenStudent := make(map[string]bool, len(students))
	for i, s := range students {
		field := fmt.Sprintf("students[%d]", i)
		if s == nil || s.ID == "" {
			ve.Add(field+".id", "学生ID为空")
			continue
		}
		if seenStudent[s.ID] {
			ve.Add(field+".id", fmt.Sprintf("学生ID重复: %s", s.ID))
		}
		seenStudent[s.ID] = true
	}

	if ve.HasErrors() {
		return ve.ToAppErrorWithCode(errors.CodeConfiguration)
	}
	return nil
}

// ApplyQuotaOverrides 将按班级ID给出的配额表合并到班级配置中
// 引用不存在的班级返回 CONFIGURATION_ERROR；标签统一规范化
func ApplyQuotaOverrides(classes []model.ClassConfig, overrides map[string]map[string]int) ([]model.ClassConfig, error) {
	index := make(map[string]int, len(classes))
	out := make([]model.ClassConfig, len(classes))
	for i, c := range classes {
		quotas := make(map[string]int, len(c.Quotas))
		for tag, n := range c.Quotas {
			quotas[model.NormalizeTag(tag)] = n
		}
		out[i] = model.ClassConfig{ID: c.ID, CapacityTarget: c.CapacityTarget, Quotas: quotas}
		index[c.ID] = i
	}

	for classID, quotas := range overrides {
		i, ok := index[classID]
		if !ok {
			return nil, errors.ConfigurationError("quotas."+classID, "引用了不存在的班级")
		}
		for tag, n := range quotas {
			out[i].Quotas[model.NormalizeTag(tag)] = n
		}
	}
	return out, nil
}
