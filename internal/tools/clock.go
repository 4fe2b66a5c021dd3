package tools

import (
	"context"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// beijing is Asia/Shanghai, or a fixed UTC+8 zone when the host has no
// zoneinfo database.
var beijing = func() *time.Location {
	if loc, err := time.LoadLocation("Asia/Shanghai"); err == nil {
		return loc
	}
	return time.FixedZone("CST", 8*60*60)
}()

// BeijingTimeLayout matches the zh-CN locale rendering, e.g.
// "2026/2/22 09:05:03".
const BeijingTimeLayout = "2006/1/2 15:04:05"

func currentTimeTool(now func() time.Time) *Tool {
	if now == nil {
		now = time.Now
	}
	return &Tool{
		Name:        "get_current_time",
		Description: "获取当前的北京时间（Asia/Shanghai 时区）。",
		Schema:      &jsonschema.Schema{Type: "object"},
		Handler: func(context.Context, map[string]any) (string, error) {
			return now().In(beijing).Format(BeijingTimeLayout), nil
		},
	}
}
