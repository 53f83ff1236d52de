// Package version holds build metadata set with -ldflags, e.g.
//
//	-X 'github.com/janekbaraniewski/counterstats/internal/version.Version=v0.3.0'
package version

var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// String is the text printed by counterstats --version.
func String() string {
	return Version + " (" + CommitHash + ", " + BuildDate + ")"
}
