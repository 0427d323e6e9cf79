// Package version хранит сведения о сборке, заданные через -ldflags "-X".
package version

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build это сведения о сборке.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}
