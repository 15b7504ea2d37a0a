// Package buildinfo reports version/build information, adapted from the
// teacher's printVersion()/getBuildSettingOrDefault() in version.go: the
// same debug.BuildInfo scraping, retargeted at aentropyd's --version flag.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strconv"
)

// Version is set at build time via -ldflags "-X 'github.com/wrenfeld/aentropyd/internal/buildinfo.Version=X'".
var Version string

func settingOrDefault(bi *debug.BuildInfo, key, fallback string) string {
	for _, s := range bi.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return fallback
}

// String renders a one-line version banner, in the "Samoyed - Version ..."
// style of the teacher's printVersion, retargeted at aentropyd.
func String() string {
	var version = Version
	if version == "" {
		version = "!UNKNOWN!"
	}

	var bi, ok = debug.ReadBuildInfo()
	if !ok {
		return fmt.Sprintf("aentropyd - version %s (no build info)", version)
	}

	var commit = settingOrDefault(bi, "vcs.revision", "UNKNOWN")
	var buildTime = settingOrDefault(bi, "vcs.time", "UNKNOWN")
	var dirtyStr = settingOrDefault(bi, "vcs.modified", "false")
	if dirty, err := strconv.ParseBool(dirtyStr); err == nil && dirty {
		commit += "-DIRTY"
	}

	return fmt.Sprintf("aentropyd - version %s (revision %s, built at %s)", version, commit, buildTime)
}
