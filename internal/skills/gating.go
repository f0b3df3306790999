package skills

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"slices"
)

// Requires gates a manifest skill on the local environment. A skill whose
// requirements are unmet is not loaded.
type Requires struct {
	// OS restricts the skill to these GOOS values.
	OS []string `json:"os,omitempty"`

	// Bins must all be on PATH.
	Bins []string `json:"bins,omitempty"`

	// Env must all be set.
	Env []string `json:"env,omitempty"`
}

// gatingContext caches environment lookups across one directory load.
type gatingContext struct {
	goos     string
	lookPath func(string) (string, error)
	lookEnv  func(string) (string, bool)
	bins     map[string]bool
}

func newGatingContext() *gatingContext {
	return &gatingContext{
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		lookEnv:  os.LookupEnv,
		bins:     make(map[string]bool),
	}
}

func (c *gatingContext) hasBin(name string) bool {
	if ok, cached := c.bins[name]; cached {
		return ok
	}
	_, err := c.lookPath(name)
	c.bins[name] = err == nil
	return err == nil
}

// unmet returns the first unmet requirement, or "" when all are met.
func (c *gatingContext) unmet(req *Requires) string {
	if req == nil {
		return ""
	}
	if len(req.OS) > 0 && !slices.Contains(req.OS, c.goos) {
		return fmt.Sprintf("requires os %v", req.OS)
	}
	for _, bin := range req.Bins {
		if !c.hasBin(bin) {
			return "missing binary " + bin
		}
	}
	for _, env := range req.Env {
		if _, ok := c.lookEnv(env); !ok {
			return "missing env " + env
		}
	}
	return ""
}
