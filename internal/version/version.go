package version

import (
	"fmt"
	"strings"
)

// Version values are set at build time using -ldflags.
var Version = "dev"
var Built = ""
var GitCommit = ""

type VersionInfo struct {
	Version   string `yaml:"version"`
	Built     string `yaml:"built,omitempty"`
	GitCommit string `yaml:"git_commit,omitempty"`
}

func GetVersionInfo() VersionInfo {
	version := strings.TrimSpace(Version)
	if version == "" {
		version = "dev"
	}
	return VersionInfo{
		Version:   version,
		Built:     strings.TrimSpace(Built),
		GitCommit: strings.TrimSpace(GitCommit),
	}
}

// String renders the one-line form printed by --version.
func (info VersionInfo) String() string {
	details := make([]string, 0, 2)
	if info.GitCommit != "" {
		details = append(details, "commit "+info.GitCommit)
	}
	if info.Built != "" {
		details = append(details, "built "+info.Built)
	}
	if len(details) == 0 {
		return fmt.Sprintf("bgpwatch %s", info.Version)
	}
	return fmt.Sprintf("bgpwatch %s (%s)", info.Version, strings.Join(details, ", "))
}
