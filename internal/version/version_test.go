package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	Version, Commit, Date = "v1.2.3", "abc123", "2026-01-01"
	t.Cleanup(func() { Version, Commit, Date = "dev", "none", "unknown" })

	info := Info()
	for _, want := range []string{"v1.2.3", "abc123", "2026-01-01"} {
		if !strings.Contains(info, want) {
			t.Errorf("Info() = %q, missing %q", info, want)
		}
	}
}
