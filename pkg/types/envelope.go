package types

// DataEnvelope is the body of every 2xx response.
type DataEnvelope struct {
	Data any `json:"data"`
}

// ErrorBody is what clients see for a failed request. Code is one of the
// stable pkg/errors codes; Details is only set for codes that expose it.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}
