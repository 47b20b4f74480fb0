package skills

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// GatingContext caches environment probes for eligibility checks so one
// sync does not repeat PATH lookups per skill.
type GatingContext struct {
	// OS is the current platform (darwin, linux, windows).
	OS string

	// bins caches binary existence on PATH.
	bins map[string]bool

	// envs caches environment variable presence.
	envs map[string]bool
}

// NewGatingContext creates a context reflecting the current process
// environment.
func NewGatingContext() *GatingContext {
	return &GatingContext{
		OS:   runtime.GOOS,
		bins: make(map[string]bool),
		envs: make(map[string]bool),
	}
}

func (c *GatingContext) hasBinary(name string) bool {
	if ok, cached := c.bins[name]; cached {
		return ok
	}
	_, err := exec.LookPath(name)
	c.bins[name] = err == nil
	return c.bins[name]
}

func (c *GatingContext) hasEnv(name string) bool {
	if ok, cached := c.envs[name]; cached {
		return ok
	}
	_, exists := os.LookupEnv(name)
	c.envs[name] = exists
	return exists
}

// Eligibility is the outcome of a gating check.
type Eligibility struct {
	Eligible bool
	Reason   string
}

// CheckEligibility evaluates a skill's gating rules against the context.
func CheckEligibility(skill *Skill, ctx *GatingContext) Eligibility {
	meta := skill.Metadata
	if meta == nil {
		return Eligibility{Eligible: true}
	}
	if meta.Always {
		return Eligibility{Eligible: true}
	}

	if len(meta.OS) > 0 {
		ok := false
		for _, platform := range meta.OS {
			if platform == ctx.OS {
				ok = true
				break
			}
		}
		if !ok {
			return Eligibility{false, fmt.Sprintf("requires OS %v, have %s", meta.OS, ctx.OS)}
		}
	}

	req := meta.Requires
	if req == nil {
		return Eligibility{Eligible: true}
	}
	for _, bin := range req.Bins {
		if !ctx.hasBinary(bin) {
			return Eligibility{false, fmt.Sprintf("missing required binary: %s", bin)}
		}
	}
	if len(req.AnyBins) > 0 {
		ok := false
		for _, bin := range req.AnyBins {
			if ctx.hasBinary(bin) {
				ok = true
				break
			}
		}
		if !ok {
			return Eligibility{false, fmt.Sprintf("requires one of: %v", req.AnyBins)}
		}
	}
	for _, env := range req.Env {
		if !ctx.hasEnv(env) {
			return Eligibility{false, fmt.Sprintf("missing environment variable: %s", env)}
		}
	}
	return Eligibility{Eligible: true}
}
