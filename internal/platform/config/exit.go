package config

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"

	apperrors "github.com/louisbranch/eventsaga/internal/platform/errors"
)

// Exit codes used by ExitOnError.
const (
	ExitFailure = 1
	// ExitRetryable follows sysexits EX_TEMPFAIL: the same invocation may
	// succeed later.
	ExitRetryable = 75
)

var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(stderr, format+"\n", args...)
	exit(ExitFailure)
}

// ExitOnError reports err on stderr and exits when it is non-nil. Domain
// errors are printed with their code, gRPC status and metadata, and exit
// with ExitRetryable when their code is retryable.
func ExitOnError(err error) {
	if err == nil {
		return
	}
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		Exitf("Error: %v", err)
		return
	}

	st := status.Convert(domainErr.ToGRPCStatus())
	line := fmt.Sprintf("Error: %v (code %s, grpc %s", err, domainErr.Code, st.Code())
	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.ErrorInfo)
		if !ok {
			continue
		}
		for _, key := range slices.Sorted(maps.Keys(info.GetMetadata())) {
			line += ", " + key + "=" + info.GetMetadata()[key]
		}
	}
	fmt.Fprintln(stderr, line+")")

	if domainErr.Code.Retryable() {
		exit(ExitRetryable)
		return
	}
	exit(ExitFailure)
}
