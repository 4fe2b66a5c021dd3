package buildinfo

import (
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "Laopeng/"+Version) {
		t.Errorf("UserAgent() = %q, want Laopeng/%s prefix", ua, Version)
	}
}

func TestRuntimeInfo_IncludesUptime(t *testing.T) {
	info := RuntimeInfo()
	if _, ok := info["uptime"]; !ok {
		t.Error("RuntimeInfo() missing uptime")
	}
	if info["version"] != Version {
		t.Errorf("version = %q, want %q", info["version"], Version)
	}
	if _, ok := BuildInfo()["uptime"]; ok {
		t.Error("BuildInfo() should not carry uptime")
	}
}
