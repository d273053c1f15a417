// Package version отдаёт сведения о сборке для логов и /healthz.
package version

import (
	"cmp"
	"runtime"
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Задаются через -ldflags "-X github.com/vladislavdragonenkov/sales/internal/version.version=...".
// Пустые значения берутся из debug.BuildInfo.
var (
	version = "dev"
	commit  string
	date    string
)

const shortCommit = 12

// Build — сведения о текущем бинарнике.
type Build struct {
	Version string
	Commit  string
	Date    string
	Go      string
	Dirty   bool
}

var current = sync.OnceValue(func() Build {
	return resolve(version, commit, date, debug.ReadBuildInfo)
})

// Current возвращает сведения о сборке; считаются один раз.
func Current() Build { return current() }

// Version возвращает номер сборки.
func Version() string { return current().Version }

// Fields — поля сборки для стартового лога.
func Fields() log.Fields {
	b := current()
	return log.Fields{
		"version": b.Version,
		"commit":  b.Commit,
		"built":   b.Date,
		"go":      b.Go,
		"dirty":   b.Dirty,
	}
}

func resolve(v, c, d string, read func() (*debug.BuildInfo, bool)) Build {
	b := Build{Version: v, Commit: c, Date: d, Go: runtime.Version()}
	if info, ok := read(); ok && info != nil {
		b.Go = cmp.Or(info.GoVersion, b.Go)
		if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			b.Version = info.Main.Version
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				b.Commit = cmp.Or(b.Commit, s.Value)
			case "vcs.time":
				b.Date = cmp.Or(b.Date, s.Value)
			case "vcs.modified":
				b.Dirty = s.Value == "true"
			}
		}
	}
	if len(b.Commit) > shortCommit {
		b.Commit = b.Commit[:shortCommit]
	}
	b.Commit = cmp.Or(b.Commit, "unknown")
	b.Date = cmp.Or(b.Date, "unknown")
	return b
}
