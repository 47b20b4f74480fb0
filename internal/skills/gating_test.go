package skills

import (
	"runtime"
	"testing"
)

func TestEligibilityNoMetadata(t *testing.T) {
	skill := &Skill{ID: "plain", Description: "d"}
	if got := CheckEligibility(skill, NewGatingContext()); !got.Eligible {
		t.Errorf("skill without metadata ineligible: %s", got.Reason)
	}
}

func TestEligibilityAlwaysSkipsChecks(t *testing.T) {
	skill := &Skill{
		ID: "forced", Description: "d",
		Metadata: &Metadata{
			Always:   true,
			Requires: &Requires{Bins: []string{"definitely-not-a-real-binary"}},
		},
	}
	if got := CheckEligibility(skill, NewGatingContext()); !got.Eligible {
		t.Errorf("always skill ineligible: %s", got.Reason)
	}
}

func TestEligibilityMissingBinary(t *testing.T) {
	skill := &Skill{
		ID: "needs-bin", Description: "d",
		Metadata: &Metadata{Requires: &Requires{Bins: []string{"definitely-not-a-real-binary"}}},
	}
	got := CheckEligibility(skill, NewGatingContext())
	if got.Eligible {
		t.Error("skill with missing binary reported eligible")
	}
}

func TestEligibilityEnv(t *testing.T) {
	t.Setenv("SKILL_GATING_TEST_VAR", "1")
	skill := &Skill{
		ID: "needs-env", Description: "d",
		Metadata: &Metadata{Requires: &Requires{Env: []string{"SKILL_GATING_TEST_VAR"}}},
	}
	if got := CheckEligibility(skill, NewGatingContext()); !got.Eligible {
		t.Errorf("skill with set env var ineligible: %s", got.Reason)
	}

	skill.Metadata.Requires.Env = []string{"SKILL_GATING_TEST_UNSET"}
	if got := CheckEligibility(skill, NewGatingContext()); got.Eligible {
		t.Error("skill with unset env var reported eligible")
	}
}

func TestEligibilityOS(t *testing.T) {
	skill := &Skill{
		ID: "this-os", Description: "d",
		Metadata: &Metadata{OS: []string{runtime.GOOS}},
	}
	if got := CheckEligibility(skill, NewGatingContext()); !got.Eligible {
		t.Errorf("current-OS skill ineligible: %s", got.Reason)
	}

	skill.Metadata.OS = []string{"plan9"}
	if got := CheckEligibility(skill, NewGatingContext()); got.Eligible {
		t.Error("wrong-OS skill reported eligible")
	}
}

func TestEligibilityAnyBins(t *testing.T) {
	// sh exists on every platform this runs on; the fake does not.
	skill := &Skill{
		ID: "any-bin", Description: "d",
		Metadata: &Metadata{Requires: &Requires{AnyBins: []string{"definitely-not-a-real-binary", "sh"}}},
	}
	if got := CheckEligibility(skill, NewGatingContext()); !got.Eligible {
		t.Errorf("anyBins with one present ineligible: %s", got.Reason)
	}
}
