package tools

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/assistant/pkg/cache"
)

type CurrentTimeInput struct {
	Timezone string `json:"timezone,omitempty"`
}

type CurrentTimeOutput struct {
	Time     string `json:"time"`
	Date     string `json:"date"`
	Weekday  string `json:"weekday"`
	Timezone string `json:"timezone"`
	Note     string `json:"note,omitempty"`
}

var weekdays = [...]string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"}

func createCurrentTimeTool(clock cache.Clock) tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolCurrentTime,
			Desc: "Get the current date, time and weekday. Use this whenever the answer depends on today's date or the current time.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"timezone": {
					Type: "string",
					Desc: "Optional IANA timezone name, e.g. Asia/Shanghai or UTC. Defaults to Asia/Shanghai.",
				},
			}),
		},
		func(ctx context.Context, in *CurrentTimeInput) (*CurrentTimeOutput, error) {
			out := &CurrentTimeOutput{}
			name := strings.TrimSpace(in.Timezone)
			if name == "" {
				name = "Asia/Shanghai"
			}
			loc, err := time.LoadLocation(name)
			if err != nil {
				// unknown zone names should not fail the whole tool round
				out.Note = "unknown timezone " + name + ", using UTC"
				loc = time.UTC
			}

			now := clock.Now().In(loc)
			out.Time = now.Format(time.RFC3339)
			out.Date = now.Format("2006-01-02")
			out.Weekday = weekdays[now.Weekday()]
			out.Timezone = loc.String()
			return out, nil
		},
	)
}
