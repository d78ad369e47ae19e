// SPDX-License-Identifier: MIT
//
// Package build exposes the metadata stamped into the binary with -ldflags:
//
//	go build -ldflags "-X conga/pkg/build.buildName=conga -X conga/pkg/build.buildVersion=v0.3.0 ..."
//
// Development builds carry "dev" placeholders so the CLI still starts.
package build

import "fmt"

type ldFlags struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// String renders the flags for the version banner.
func (f ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:    "conga",
		Time:    "unknown",
		Commit:  "unknown",
		Version: "dev",
	}
)

// Initialize copies the ldflags variables into the build info. When strict is
// set, every flag must have been provided; otherwise missing values keep
// their development defaults.
func Initialize(strict bool) error {
	fields := []struct {
		name string
		src  string
		dst  *string
	}{
		{"BuildName", buildName, &buildFlags.Name},
		{"BuildTime", buildTime, &buildFlags.Time},
		{"BuildCommit", buildCommit, &buildFlags.Commit},
		{"BuildVersion", buildVersion, &buildFlags.Version},
	}

	for _, f := range fields {
		if f.src == "" {
			if strict {
				return fmt.Errorf("%s is required", f.name)
			}
			continue
		}
		*f.dst = f.src
	}
	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
