package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const App = "afp-vault"

// Version can be stamped at build time (-ldflags "-X .../version.Version=v1.2.3").
// When it isn't, the module version recorded by the toolchain is used instead.
var Version string

// String renders the one-line version banner.
func String() string {
	v := Version
	if v == "" {
		v = moduleVersion()
	}
	return fmt.Sprintf("%s %s (%s)", App, v, runtime.Version())
}

// PrintVersion prints the version information
func PrintVersion() {
	fmt.Println(String())
}

func moduleVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
