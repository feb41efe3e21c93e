package docketapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// FileMeta is the metadata of a Drive file needed to fetch its content.
type FileMeta struct {
	ID       string
	Name     string
	MimeType string
}

// FileSource reads files from Google Drive.
type FileSource interface {
	// Metadata returns the name and MIME type of a file.
	Metadata(ctx context.Context, fileID string) (FileMeta, error)
	// Export converts a Google Workspace file to mimeType.
	Export(ctx context.Context, fileID, mimeType string) (string, error)
	// Download returns the raw content of a binary file.
	Download(ctx context.Context, fileID string) (string, error)
}

// DriveSource is a FileSource backed by the Drive v3 API.
type DriveSource struct {
	svc      *drive.Service
	maxBytes int64
}

// NewDriveService creates a Drive client whose requests are authorized by
// tokens. Extra options are appended, tests use them to point the client to
// a fake endpoint.
func NewDriveService(ctx context.Context, tokens oauth2.TokenSource, opts ...option.ClientOption) (*drive.Service, error) {
	// oauth2.Transport asks tokens on every request, so detaching takes effect
	// immediately.
	httpClient := &http.Client{Transport: &oauth2.Transport{Source: tokens}}
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create drive service: %w", err)
	}
	return svc, nil
}

// NewDriveSource wraps svc. Content larger than maxBytes is rejected with
// ErrContentTooLarge; maxBytes <= 0 means no limit.
func NewDriveSource(svc *drive.Service, maxBytes int64) *DriveSource {
	return &DriveSource{svc: svc, maxBytes: maxBytes}
}

func (d *DriveSource) Metadata(ctx context.Context, fileID string) (FileMeta, error) {
	file, err := d.svc.Files.Get(fileID).Fields("name, mimeType").Context(ctx).Do()
	if err != nil {
		return FileMeta{}, fmt.Errorf("unable to get file metadata for %s: %w", fileID, err)
	}
	return FileMeta{ID: fileID, Name: file.Name, MimeType: file.MimeType}, nil
}

func (d *DriveSource) Export(ctx context.Context, fileID, mimeType string) (string, error) {
	resp, err := d.svc.Files.Export(fileID, mimeType).Context(ctx).Download()
	if err != nil {
		return "", fmt.Errorf("unable to export file %s as %s: %w", fileID, mimeType, err)
	}
	defer resp.Body.Close()
	return d.read(fileID, resp.Body)
}

func (d *DriveSource) Download(ctx context.Context, fileID string) (string, error) {
	resp, err := d.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return "", fmt.Errorf("unable to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	return d.read(fileID, resp.Body)
}

func (d *DriveSource) read(fileID string, r io.Reader) (string, error) {
	if d.maxBytes > 0 {
		r = io.LimitReader(r, d.maxBytes+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("unable to read content of file %s: %w", fileID, err)
	}
	if d.maxBytes > 0 && int64(len(content)) > d.maxBytes {
		return "", fmt.Errorf("file %s exceeds %d bytes: %w", fileID, d.maxBytes, ErrContentTooLarge)
	}
	return string(content), nil
}

// exportTarget returns the export MIME type for Google Workspace files, or
// "" when the file must be downloaded as is.
func exportTarget(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "google-apps.document"):
		return "text/plain"
	case strings.Contains(mimeType, "google-apps.spreadsheet"):
		return "text/csv"
	default:
		return ""
	}
}

// FetchContent reads the content of a file through exactly one of the
// export or download branches, chosen by its MIME type.
func FetchContent(ctx context.Context, src FileSource, meta FileMeta) (string, error) {
	if target := exportTarget(meta.MimeType); target != "" {
		return src.Export(ctx, meta.ID, target)
	}
	return src.Download(ctx, meta.ID)
}
