package loom

// =============================================================================
// RESULT - Uniform operation outcome
// =============================================================================

// Result is the shape every engine operation returns. Failures are results,
// not panics: resource insufficiency comes back as {success: false} with the
// partial state already committed, and the caller renders or logs it.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}

func fail(message string, err error) Result {
	r := Result{Success: false, Message: message}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
