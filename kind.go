package goreason

import (
	"errors"

	"github.com/ArchyTseng/tiic-law-chat/chat"
)

// Kind is the stable error taxonomy for the core: every error it
// returns maps onto exactly one of these, independent of which package
// raised it. Callers that need to translate an error into a transport
// status (the HTTP layer, a CLI exit code) use KindOf instead of
// matching on package-specific sentinels directly.
type Kind string

const (
	KindBadRequest    Kind = "bad_request"
	KindNotFound      Kind = "not_found"
	KindPipelineError Kind = "pipeline_error"
	KindExternalDep   Kind = "external_dependency_error"
	KindGateBlocked   Kind = "gate_blocked"
	KindUnknown       Kind = "unknown"
)

// ErrGateBlocked is returned by callers that want to signal a gate
// failure as a Go error rather than (or in addition to) a Message
// status, e.g. a CLI subcommand turning a blocked chat into a non-zero
// exit code.
var ErrGateBlocked = errors.New("goreason: gate blocked downstream progress")

// KindOf classifies err onto the taxonomy above. Unmapped errors
// (including nil) are KindUnknown so callers can decide their own
// fallback status code instead of silently defaulting to one kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrDocumentNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrInvalidConfig), errors.Is(err, chat.ErrBadContext):
		return KindBadRequest
	case errors.Is(err, ErrParsingFailed), errors.Is(err, ErrEmbeddingFailed):
		return KindPipelineError
	case errors.Is(err, ErrLLMUnavailable), errors.Is(err, ErrLLMRequestFailed), errors.Is(err, ErrStoreClosed):
		return KindExternalDep
	case errors.Is(err, ErrGateBlocked):
		return KindGateBlocked
	default:
		return KindUnknown
	}
}
