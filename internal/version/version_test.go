package version

import (
	"runtime/debug"
	"testing"
)

func buildInfo(mainVersion string, settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			GoVersion: "go1.24.3",
			Main:      debug.Module{Path: "github.com/vladislavdragonenkov/sales", Version: mainVersion},
			Settings:  settings,
		}, true
	}
}

func TestResolve_FromBuildInfo(t *testing.T) {
	b := resolve("dev", "", "", buildInfo("v1.4.0",
		debug.BuildSetting{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		debug.BuildSetting{Key: "vcs.time", Value: "2026-10-01T08:00:00Z"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	))

	want := Build{Version: "v1.4.0", Commit: "0123456789ab", Date: "2026-10-01T08:00:00Z", Go: "go1.24.3", Dirty: true}
	if b != want {
		t.Fatalf("resolve() = %+v, want %+v", b, want)
	}
}

func TestResolve_LdflagsWin(t *testing.T) {
	b := resolve("v2.0.0", "abc123", "2026-09-30", buildInfo("v1.4.0",
		debug.BuildSetting{Key: "vcs.revision", Value: "fffffff"},
		debug.BuildSetting{Key: "vcs.time", Value: "2026-10-01T08:00:00Z"},
	))
	if b.Version != "v2.0.0" || b.Commit != "abc123" || b.Date != "2026-09-30" || b.Dirty {
		t.Fatalf("ldflags values must win: %+v", b)
	}
}

func TestResolve_NoBuildInfo(t *testing.T) {
	b := resolve("dev", "", "", func() (*debug.BuildInfo, bool) { return nil, false })
	if b.Version != "dev" || b.Commit != "unknown" || b.Date != "unknown" || b.Go == "" {
		t.Fatalf("unexpected fallback: %+v", b)
	}

	// go run собирает main как (devel)
	b = resolve("dev", "", "", buildInfo("(devel)"))
	if b.Version != "dev" {
		t.Fatalf("(devel) must not replace dev, got %q", b.Version)
	}
}

func TestFields(t *testing.T) {
	fields := Fields()
	b := Current()
	if fields["version"] != b.Version || fields["commit"] != b.Commit || fields["built"] != b.Date || fields["go"] != b.Go {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if Version() != b.Version {
		t.Fatalf("Version() = %q, want %q", Version(), b.Version)
	}
}
