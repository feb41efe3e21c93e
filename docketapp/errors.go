package docketapp

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/status"
)

var (
	// ErrInitialization marks a configuration or backend failure at startup.
	// Nothing else can run after it.
	ErrInitialization = errors.New("initialization failed")
	// ErrNotReady is returned when an operation runs before its services loaded.
	ErrNotReady = errors.New("services not ready")
	// ErrInvalidURL is returned for URLs the resolver does not recognize.
	ErrInvalidURL = errors.New("invalid Google Drive URL")
	// ErrBusy is returned when a fetch is started while another one runs.
	ErrBusy = errors.New("a fetch is already in progress")
	// ErrNotConnected is returned by the token source when no Google token is attached.
	ErrNotConnected = errors.New("google account not connected")
	// ErrContentTooLarge is returned for files over the configured content limit.
	ErrContentTooLarge = errors.New("file content is too large to be saved")
	// ErrAuthState is returned when an OAuth callback carries an unexpected state.
	ErrAuthState = errors.New("invalid state parameter received")
)

// Status messages shown to the user.
const (
	msgInitializing    = "Initializing..."
	msgLoading         = "Loading services..."
	msgConnect         = "Please connect your Google Account."
	msgReady           = "Ready. Paste a Google Drive URL to begin."
	msgNotReady        = "Cannot fetch. Services not ready."
	msgInvalidURL      = "Invalid Google Drive URL. Please check the link."
	msgBusy            = "A fetch is already in progress."
	msgFetchingMeta    = "Fetching file metadata..."
	msgSaving          = "Content fetched. Saving to database..."
	msgDeleted         = "Document deleted successfully."
	msgDeleteFailed    = "Error: Could not delete document."
	msgSignInFailed    = "Error: Google Sign-In failed."
	msgIdentityFailed  = "Error: Could not connect to the database."
	msgLoadFailed      = "Error: Could not load Google services."
	msgConnectionLost  = "Error: Google connection lost. Please reconnect your Google Account."
	msgWatchFailed     = "Error: Could not load saved documents."
	msgUnknownFailure  = "An unknown error occurred. Check file permissions and URL."
	msgContentTooLarge = "The file is too large to be saved."
)

// statusMessage extracts the most specific human readable message from err.
func statusMessage(err error) string {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Message != "" {
		return gerr.Message
	}
	if errors.Is(err, ErrContentTooLarge) {
		return msgContentTooLarge
	}
	var grpcErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &grpcErr) {
		if msg := grpcErr.GRPCStatus().Message(); msg != "" {
			return msg
		}
	}
	return msgUnknownFailure
}

// isAuthFailure reports whether err means the attached Google token is no
// longer usable.
func isAuthFailure(err error) bool {
	if errors.Is(err, ErrNotConnected) {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized
}
