package model

import (
	"time"
)

const DateLayout = "2006-01-02"

// DateOf 截断为 UTC 零点，所有日期字段统一使用
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
