// Package model 定义分班引擎的核心数据模型
package model

import "strings"

// Sex 性别
type Sex string

const (
	SexFemale Sex = "F" // 女
	SexMale   Sex = "M" // 男
)

// ParseSex 解析性别（取首字母，默认男）
func ParseSex(raw string) Sex {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SexMale
	}
	if strings.ToUpper(raw[:1]) == string(SexFemale) {
		return SexFemale
	}
	return SexMale
}

// Mobility 流动性
type Mobility string

const (
	MobilityFixed  Mobility = "FIXED"  // 固定，第二至四阶段不可移动
	MobilityMobile Mobility = "MOBILE" // 可移动
)

// ParseMobility 解析流动性标记
// 含 "FIXE" 或 "NON" 视为固定
func ParseMobility(raw string) Mobility {
	up := strings.ToUpper(strings.TrimSpace(raw))
	if strings.Contains(up, "FIXE") || strings.Contains(up, "NON") {
		return MobilityFixed
	}
	return MobilityMobile
}

// NormalizeTag 规范化标签/分组代码（去空格、大写）
func NormalizeTag(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
