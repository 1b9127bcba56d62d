package session

import (
	"context"
	"errors"

	"github.com/pithecene-io/nimbus/adapter"
	"github.com/pithecene-io/nimbus/gateway"
	"github.com/pithecene-io/nimbus/transfer"
	"github.com/pithecene-io/nimbus/types"
)

// Ping checks backend health and logs the result.
func (s *Session) Ping(ctx context.Context) (*types.HealthCheck, error) {
	health, err := s.gateway.HealthCheck(ctx)
	if err != nil {
		s.reportError("Ping failed", err)
		return nil, err
	}
	s.book.Systemf("Ping Response: %s", health.Summary())
	return health, nil
}

// Login starts the backend's browser login flow.
func (s *Session) Login(ctx context.Context) (*types.AuthResponse, error) {
	s.book.Systemf("Initiating login flow...")
	resp, err := s.gateway.Login(ctx)
	if err != nil {
		s.reportError("Login failed", err)
		return nil, err
	}
	if resp.Authenticated() {
		s.book.Systemf("Login successful")
	} else {
		s.book.Systemf("Login status: %s %s", resp.Status, resp.Error)
	}
	return resp, nil
}

// RefreshFiles reloads the remote file list.
func (s *Session) RefreshFiles(ctx context.Context) ([]types.DriveFile, error) {
	files, err := s.gateway.ListFiles(ctx)
	if err != nil {
		s.reportError("Failed to list files", err)
		return nil, err
	}
	s.mu.Lock()
	s.files = files
	s.mu.Unlock()
	s.book.Systemf("Loaded %d files", len(files))
	return append([]types.DriveFile(nil), files...), nil
}

// Files returns the last loaded file list.
func (s *Session) Files() []types.DriveFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.DriveFile(nil), s.files...)
}

// Transfers returns the in-flight transfers.
func (s *Session) Transfers() []types.TransferItem {
	return s.tracker.Snapshot()
}

// Download fetches file id with progress tracking and persists it.
// Returns the storage key the bytes were saved under.
func (s *Session) Download(ctx context.Context, id string) (string, error) {
	file, err := s.tracker.Download(ctx, id)
	if err != nil {
		s.transferFailed(id, types.DirectionDownload, "Download failed", err)
		return "", err
	}

	key, err := s.saver.Save(ctx, file.Name, file.Data)
	if err != nil {
		s.transferFailed(id, types.DirectionDownload, "Download failed", err)
		return "", err
	}

	s.book.Systemf("Downloaded %s to %s", file.Name, key)
	s.notifier.Notify(adapter.SessionEvent{
		EventType:   adapter.EventTransferCompleted,
		TransferKey: id,
		Direction:   string(types.DirectionDownload),
		StoredAs:    key,
	})
	return key, nil
}

// Upload sends localPath with progress tracking, then refreshes the file
// list. A failed refresh is logged but does not fail the upload.
func (s *Session) Upload(ctx context.Context, localPath string) (*types.UploadResult, error) {
	key := transfer.UploadKey(localPath)
	res, err := s.tracker.Upload(ctx, localPath)
	if err != nil {
		s.transferFailed(key, types.DirectionUpload, "Upload failed", err)
		return nil, err
	}

	s.book.Systemf("Uploaded %s (id %s)", key, res.ID)
	s.notifier.Notify(adapter.SessionEvent{
		EventType:   adapter.EventTransferCompleted,
		TransferKey: key,
		Direction:   string(types.DirectionUpload),
		StoredAs:    res.ID,
	})
	_, _ = s.RefreshFiles(ctx)
	return res, nil
}

func (s *Session) transferFailed(key string, dir types.Direction, what string, err error) {
	s.reportError(what, err)
	s.notifier.Notify(adapter.SessionEvent{
		EventType:   adapter.EventTransferFailed,
		TransferKey: key,
		Direction:   string(dir),
		Error:       err.Error(),
	})
}

// reportError appends a user-facing failure to the log. Auth rejections
// mean the backend and client disagree on the token and are critical.
func (s *Session) reportError(what string, err error) {
	switch {
	case gateway.IsAuthRejected(err):
		s.book.Criticalf("%s: authentication rejected (token mismatch): %v", what, err)
	case errors.Is(err, context.Canceled):
		s.book.Systemf("%s: cancelled", what)
	default:
		s.book.Systemf("%s: %v", what, err)
	}
}
