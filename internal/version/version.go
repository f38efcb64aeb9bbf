// Package version reports build information for the session bridge and the
// MPD server it is attached to.
package version

import (
	"fmt"
	"strings"
)

// Set at build time with -ldflags "-X .../version.Version=...".
var (
	Name      = "Stellar Session"
	Version   = "0.1.0"
	BuildTime = ""
	GitCommit = ""
)

// Info is the payload of the version endpoint.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildTime string `json:"buildTime,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
	MPD       string `json:"mpd,omitempty"`
}

// GetInfo returns the build information with no server attached.
func GetInfo() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}
}

// WithServer returns a copy of i reporting the protocol version announced in
// the server banner. An empty version leaves the field unset.
func (i Info) WithServer(protocol string) Info {
	i.MPD = strings.TrimSpace(protocol)
	return i
}

func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s v%s", i.Name, i.Version)
	if i.GitCommit != "" {
		fmt.Fprintf(&b, " (%s)", i.GitCommit[:min(7, len(i.GitCommit))])
	}
	if i.BuildTime != "" {
		fmt.Fprintf(&b, " built %s", i.BuildTime)
	}
	if i.MPD != "" {
		fmt.Fprintf(&b, ", MPD protocol %s", i.MPD)
	}
	return b.String()
}
