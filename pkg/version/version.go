// Package version exposes the application version derived from build
// metadata: -ldflags override, then VCS info, then "dev".
package version

import "runtime/debug"

// AppName is used in version strings and logs.
const AppName = "fabriq"

// gitCommitOverride is set via -ldflags for container builds where .git
// is unavailable.
var gitCommitOverride string

// GitCommit is the short git commit hash, or "dev" when build info is
// unavailable.
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return short(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return short(s.Value)
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "fabriq/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
