// Package skills implements the skill registry: discovery of SKILL.md
// bundles from user and project directories, frontmatter parsing,
// eligibility gating, and change detection.
package skills

// Scope indicates where a skill was discovered from.
type Scope string

const (
	// ScopeGlobal covers the user-level skill directories.
	ScopeGlobal Scope = "global"
	// ScopeProject covers project-local skill directories. Project skills
	// override global ones on id collision.
	ScopeProject Scope = "project"
)

// Environment switches controlling the registry. Scope toggles default to
// enabled; disable lists are comma-separated skill ids.
const (
	EnvEnableGlobal    = "AGENT_WORLD_ENABLE_GLOBAL_SKILLS"
	EnvEnableProject   = "AGENT_WORLD_ENABLE_PROJECT_SKILLS"
	EnvDisabledGlobal  = "AGENT_WORLD_DISABLED_GLOBAL_SKILLS"
	EnvDisabledProject = "AGENT_WORLD_DISABLED_PROJECT_SKILLS"
)

// Skill is one discovered SKILL.md bundle.
type Skill struct {
	// ID is the skill identifier from frontmatter (lowercase, hyphens).
	ID string `yaml:"name" json:"id"`

	// Description explains what the skill does and when an agent should
	// load it. Surfaced in the agent's available-skills context block.
	Description string `yaml:"description" json:"description"`

	// Metadata holds optional gating rules.
	Metadata *Metadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// Content is the markdown body below the frontmatter.
	Content string `yaml:"-" json:"-"`

	// Path is the directory containing the SKILL.md.
	Path string `yaml:"-" json:"path"`

	// Scope records which directory class the skill came from.
	Scope Scope `yaml:"-" json:"scope"`

	// Hash is the sha256 of the full file content, used to detect
	// changes between syncs.
	Hash string `yaml:"-" json:"-"`
}

// Metadata carries the optional gating rules from frontmatter.
type Metadata struct {
	// Always skips all gating checks.
	Always bool `yaml:"always,omitempty" json:"always,omitempty"`

	// OS restricts the skill to specific platforms.
	OS []string `yaml:"os,omitempty" json:"os,omitempty"`

	// Requires lists runtime requirements.
	Requires *Requires `yaml:"requires,omitempty" json:"requires,omitempty"`
}

// Requires defines runtime requirements for a skill.
type Requires struct {
	// Bins requires every listed binary on PATH.
	Bins []string `yaml:"bins,omitempty" json:"bins,omitempty"`

	// AnyBins requires at least one of the listed binaries.
	AnyBins []string `yaml:"anyBins,omitempty" json:"anyBins,omitempty"`

	// Env requires every listed environment variable to be set.
	Env []string `yaml:"env,omitempty" json:"env,omitempty"`
}
