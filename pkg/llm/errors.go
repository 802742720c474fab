package llm

import "github.com/jg-phare/gshell/pkg/types"

// classifyStatus maps a Gemini APIError to the shared error taxonomy.
func classifyStatus(apiErr *APIError) types.Kind {
	if apiErr == nil {
		return types.KindUnknown
	}
	switch apiErr.Status {
	case "RESOURCE_EXHAUSTED":
		return types.KindThrottled
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return types.KindUnauthorized
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION", "NOT_FOUND":
		return types.KindBadRequest
	case "UNAVAILABLE", "DEADLINE_EXCEEDED", "INTERNAL", "ABORTED":
		return types.KindTransient
	}

	switch apiErr.Code {
	case 429:
		return types.KindThrottled
	case 401, 403:
		return types.KindUnauthorized
	case 400, 404, 422:
		return types.KindBadRequest
	case 500, 502, 503, 504:
		return types.KindTransient
	default:
		return types.KindUnknown
	}
}

func asError(apiErr *APIError) *types.Error {
	kind := classifyStatus(apiErr)
	msg := "llm request failed"
	if apiErr != nil {
		msg = apiErr.Message
	}
	return types.New(kind, msg)
}
