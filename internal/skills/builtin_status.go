package skills

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/internal/tools"
	"github.com/nextain/naia-agent/pkg/models"
)

type statusArgs struct {
	Section string `json:"section,omitempty" jsonschema:"enum=all,enum=memory,enum=cpu,enum=os" jsonschema_description:"Section to return: all (default), memory, cpu, os"`
}

type memoryStatus struct {
	TotalMB int64 `json:"totalMB"`
	FreeMB  int64 `json:"freeMB"`
	UsedMB  int64 `json:"usedMB"`
}

type cpuStatus struct {
	Count int    `json:"count"`
	Model string `json:"model"`
}

type osStatus struct {
	Platform string `json:"platform"`
	Release  string `json:"release"`
	Hostname string `json:"hostname"`
	Arch     string `json:"arch"`
}

type systemStatus struct {
	OS     osStatus     `json:"os"`
	Memory memoryStatus `json:"memory"`
	CPUs   cpuStatus    `json:"cpus"`
	Uptime int64        `json:"uptime"`
}

// procfs reads host facts from a /proc tree. Fields it cannot read stay
// zero or "unknown".
type procfs struct {
	root string
}

func (p procfs) read(name string) []byte {
	data, err := os.ReadFile(filepath.Join(p.root, name))
	if err != nil {
		return nil
	}
	return data
}

func (p procfs) memory() memoryStatus {
	var totalKB, availKB int64
	sc := bufio.NewScanner(bytes.NewReader(p.read("meminfo")))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, _ := strconv.ParseInt(fields[1], 10, 64)
		switch fields[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
	}
	total := (totalKB + 512) / 1024
	free := (availKB + 512) / 1024
	return memoryStatus{TotalMB: total, FreeMB: free, UsedMB: total - free}
}

func (p procfs) cpu() cpuStatus {
	model := "unknown"
	sc := bufio.NewScanner(bytes.NewReader(p.read("cpuinfo")))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if ok && strings.TrimSpace(key) == "model name" {
			model = strings.TrimSpace(value)
			break
		}
	}
	return cpuStatus{Count: runtime.NumCPU(), Model: model}
}

func (p procfs) osInfo() osStatus {
	release := strings.TrimSpace(string(p.read("sys/kernel/osrelease")))
	if release == "" {
		release = "unknown"
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return osStatus{Platform: runtime.GOOS, Release: release, Hostname: host, Arch: runtime.GOARCH}
}

func (p procfs) uptime() int64 {
	fields := strings.Fields(string(p.read("uptime")))
	if len(fields) == 0 {
		return 0
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return int64(secs + 0.5)
}

// SystemStatusSkill reports memory, CPU and OS facts of the agent host.
// procRoot is normally "/proc".
func SystemStatusSkill(procRoot string) *Skill {
	fs := procfs{root: procRoot}
	return &Skill{
		Name:        "skill_system_status",
		Description: "Get system status: uptime, memory, CPU, OS info. Optionally specify a section.",
		Parameters:  tools.SchemaFor(&statusArgs{}),
		Tier:        agent.TierSafe,
		Source:      SourceBuiltin,
		Handler: func(_ context.Context, raw json.RawMessage, _ Env) (*models.ToolResult, error) {
			var args statusArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, err
			}
			var data any
			switch args.Section {
			case "memory":
				data = fs.memory()
			case "cpu":
				data = fs.cpu()
			case "os":
				data = fs.osInfo()
			default:
				data = systemStatus{OS: fs.osInfo(), Memory: fs.memory(), CPUs: fs.cpu(), Uptime: fs.uptime()}
			}
			out, err := json.Marshal(data)
			if err != nil {
				return nil, err
			}
			return models.OK(string(out)), nil
		},
	}
}
