package render

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/pithecene-io/nimbus/types"
)

// FileList renders remote files.
type FileList []types.DriveFile

// Headers implements Tabular.
func (l FileList) Headers() []string { return []string{"ID", "NAME", "TYPE", "SIZE"} }

// Rows implements Tabular.
func (l FileList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, f := range l {
		rows = append(rows, []string{f.ID, f.Name, f.MimeType, FileSize(f)})
	}
	return rows
}

// FileSize formats a file's size for display. Folders show "folder";
// files without a size (workspace documents) show "-".
func FileSize(f types.DriveFile) string {
	if f.IsFolder() {
		return "folder"
	}
	if f.Size == "" {
		return "-"
	}
	n, err := strconv.ParseUint(f.Size, 10, 64)
	if err != nil {
		return f.Size
	}
	return humanize.Bytes(n)
}

// TransferList renders in-flight transfers.
type TransferList []types.TransferItem

// Headers implements Tabular.
func (l TransferList) Headers() []string { return []string{"KEY", "DIRECTION", "PROGRESS", "STALLED"} }

// Rows implements Tabular.
func (l TransferList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, it := range l {
		rows = append(rows, []string{
			it.Key,
			string(it.Direction),
			fmt.Sprintf("%.0f%%", it.Progress),
			strconv.FormatBool(it.Stalled),
		})
	}
	return rows
}

// PingResult is the output of nimbus ping.
type PingResult struct {
	Status  string                     `json:"status" yaml:"status"`
	Summary string                     `json:"summary" yaml:"summary"`
	Server  types.ServerConfigRedacted `json:"server" yaml:"server"`
	Ready   string                     `json:"readiness" yaml:"readiness"`
}

// LoginResult is the output of nimbus login.
type LoginResult struct {
	Authenticated bool     `json:"authenticated" yaml:"authenticated"`
	Status        string   `json:"status" yaml:"status"`
	Scopes        []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Error         string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// DownloadResult is the output of nimbus download.
type DownloadResult struct {
	ID       string `json:"id" yaml:"id"`
	StoredAs string `json:"stored_as" yaml:"stored_as"`
	Backend  string `json:"backend" yaml:"backend"`
	Location string `json:"location" yaml:"location"`
}

// UploadResult is the output of nimbus upload.
type UploadResult struct {
	Path string `json:"path" yaml:"path"`
	ID   string `json:"id" yaml:"id"`
}

// VersionInfo is the output of nimbus version.
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit,omitempty" yaml:"commit,omitempty"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}
