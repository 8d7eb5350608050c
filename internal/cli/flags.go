package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

const (
	defaultHelpDesc    = "Show help"
	defaultVersionDesc = "Print version and exit"
)

type HelpVersionFlags struct {
	Help    bool
	Version bool
}

func AddHelpVersionFlags(fs *pflag.FlagSet, helpDesc, versionDesc string) *HelpVersionFlags {
	if fs == nil {
		return &HelpVersionFlags{}
	}
	if helpDesc == "" {
		helpDesc = defaultHelpDesc
	}
	if versionDesc == "" {
		versionDesc = defaultVersionDesc
	}
	flags := &HelpVersionFlags{}
	fs.BoolVarP(&flags.Help, "help", "h", false, helpDesc)
	fs.BoolVarP(&flags.Version, "version", "v", false, versionDesc)
	return flags
}

// UnderscoreNormalizer lets snake_case spellings such as --monitor_dir
// resolve to their dashed names.
func UnderscoreNormalizer(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}
