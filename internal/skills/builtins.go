package skills

import "github.com/nextain/naia-agent/internal/cron"

// Builtins returns the skills compiled into the agent.
func Builtins(store *cron.Store) []*Skill {
	return []*Skill{
		TimeSkill(nil),
		SystemStatusSkill("/proc"),
		CronSkill(store),
	}
}
