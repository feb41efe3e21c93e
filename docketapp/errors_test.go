package docketapp

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStatusMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"drive", fmt.Errorf("metadata: %w", &googleapi.Error{Code: 404, Message: "File not found: x."}), "File not found: x."},
		{"too large", fmt.Errorf("download: %w", ErrContentTooLarge), msgContentTooLarge},
		{"grpc", status.Error(codes.PermissionDenied, "Missing or insufficient permissions."), "Missing or insufficient permissions."},
		{"wrapped grpc", fmt.Errorf("failed to add document: %w", status.Error(codes.Unavailable, "backend unavailable")), "backend unavailable"},
		{"grpc without message", fmt.Errorf("add: %w", status.Error(codes.Internal, "")), msgUnknownFailure},
		{"other", errors.New("boom"), msgUnknownFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusMessage(tc.err))
		})
	}
}
