package main

import (
	"runtime/debug"
	"strings"

	"github.com/fieldtrace/ftrace/cmd"
)

// Version may be set at build time via -ldflags "-X main.Version=...".
// If left as "dev", we will attempt to derive a version from Go build info.
var Version = "dev"

func effectiveVersion(v string) string {
	// If the build injected a real version, prefer it.
	if v != "" && v != "dev" {
		return v
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	mv := strings.TrimSpace(info.Main.Version)
	if mv != "" && mv != "(devel)" {
		return mv
	}
	return v
}

func main() {
	cmd.SetVersion(effectiveVersion(Version))
	cmd.Execute()
}
