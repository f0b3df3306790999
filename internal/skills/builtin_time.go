package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/internal/tools"
	"github.com/nextain/naia-agent/pkg/models"
)

type timeArgs struct {
	Format   string `json:"format,omitempty" jsonschema:"enum=locale,enum=iso,enum=unix" jsonschema_description:"Output format: locale (default), iso, or unix"`
	Timezone string `json:"timezone,omitempty" jsonschema_description:"IANA timezone (e.g. Asia/Seoul)"`
}

const (
	isoLayout    = "2006-01-02T15:04:05.000Z07:00"
	localeLayout = "Monday, January 2, 2006 15:04:05 MST"
)

// TimeSkill reports the current date and time.
func TimeSkill(now func() time.Time) *Skill {
	if now == nil {
		now = time.Now
	}
	return &Skill{
		Name:        "skill_time",
		Description: "Get the current date and time. Supports locale, iso, and unix formats.",
		Parameters:  tools.SchemaFor(&timeArgs{}),
		Tier:        agent.TierSafe,
		Source:      SourceBuiltin,
		Handler: func(_ context.Context, raw json.RawMessage, _ Env) (*models.ToolResult, error) {
			var args timeArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, err
			}
			t := now()
			if args.Timezone != "" {
				loc, err := time.LoadLocation(args.Timezone)
				if err != nil {
					return nil, fmt.Errorf("invalid time zone: %s", args.Timezone)
				}
				t = t.In(loc)
			}

			switch args.Format {
			case "unix":
				return models.OK(strconv.FormatInt(t.Unix(), 10)), nil
			case "iso":
				if args.Timezone == "" {
					t = t.UTC()
				}
				return models.OK(t.Format(isoLayout)), nil
			default:
				return models.OK(t.Format(localeLayout)), nil
			}
		},
	}
}
