package model

import "sort"

// ClassConfig 班级配置
type ClassConfig struct {
	ID             string         `json:"class_id" validate:"required"`
	CapacityTarget int            `json:"capacity_target" validate:"gt=0"`
	Quotas         map[string]int `json:"quotas,omitempty"` // 标签 -> 最大人数
}

// Quota 返回标签配额，未配置时为 0
func (c ClassConfig) Quota(tag string) int {
	return c.Quotas[tag]
}

// QuotaTags 返回按字母排序的配额标签
func (c ClassConfig) QuotaTags() []string {
	tags := make([]string, 0, len(c.Quotas))
	for tag := range c.Quotas {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
