package types

import (
	"strconv"
	"strings"
)

// HealthCheck is the payload of GET /.
// Older backends answer with only Message.
type HealthCheck struct {
	Status  string `json:"status,omitempty"`
	System  string `json:"system,omitempty"`
	Port    int    `json:"port,omitempty"`
	Message string `json:"message,omitempty"`
}

// Summary renders the health payload as a one-line status.
func (h *HealthCheck) Summary() string {
	if h.System != "" || h.Status != "" {
		return h.System + " is " + h.Status + " on port " + strconv.Itoa(h.Port)
	}
	return h.Message
}

// AuthStatusAuthenticated is the login status reported on success.
const AuthStatusAuthenticated = "Authenticated"

// AuthResponse is the payload of POST /auth/login.
type AuthResponse struct {
	Status string   `json:"status"`
	Scopes []string `json:"scopes,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Authenticated returns true when the login flow completed.
func (a *AuthResponse) Authenticated() bool {
	return a.Status == AuthStatusAuthenticated
}

// DriveFile is a remote file entry.
type DriveFile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	MimeType      string `json:"mimeType"`
	ThumbnailLink string `json:"thumbnailLink,omitempty"`
	IconLink      string `json:"iconLink,omitempty"`
	// Size is the byte count as a decimal string; empty for folders and
	// workspace documents.
	Size string `json:"size,omitempty"`
}

// IsFolder returns true for folder entries, which cannot be downloaded.
func (f DriveFile) IsFolder() bool {
	return strings.Contains(f.MimeType, "folder")
}

// FileListResponse is the payload of GET /auth/files.
type FileListResponse struct {
	Files []DriveFile `json:"files"`
}

// ProgressStatus is the payload of the transfer status endpoint.
type ProgressStatus struct {
	Progress float64 `json:"progress"`
}

// UploadRequest is the body of POST /drive/upload.
type UploadRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// UploadResult is the payload returned once an upload completes.
type UploadResult struct {
	ID string `json:"id"`
}

// DownloadedFile is the body of a completed download.
type DownloadedFile struct {
	ID          string
	Name        string
	ContentType string
	Data        []byte
}
