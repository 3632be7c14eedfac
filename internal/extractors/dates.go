package extractors

import (
	"fmt"
	"strings"
	"time"
)

// WorkDateLayout 模型返回的日期格式 dd/mm/yyyy
const WorkDateLayout = "02/01/2006"

const zeroExperience = "0 Years 0 Months"

// CalculateExperience 按 dd/mm/yyyy 计算两个日期之间的 "X Years Y Months"。
// 结束日的日号小于开始日时少算一个月；日期缺失或无法解析时返回 0 Years 0 Months。
func CalculateExperience(oldest, newest string) string {
	oldest, newest = strings.TrimSpace(oldest), strings.TrimSpace(newest)
	if oldest == "" || newest == "" {
		return zeroExperience
	}
	start, err := time.Parse(WorkDateLayout, oldest)
	if err != nil {
		return zeroExperience
	}
	end, err := time.Parse(WorkDateLayout, newest)
	if err != nil {
		return zeroExperience
	}

	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() < start.Day() {
		months--
	}
	if months < 0 {
		return zeroExperience
	}
	return fmt.Sprintf("%d Years %d Months", months/12, months%12)
}

// IsPresent end_date 为 present 或 current
func IsPresent(endDate string) bool {
	s := strings.ToLower(strings.TrimSpace(endDate))
	return s == "present" || s == "current"
}
