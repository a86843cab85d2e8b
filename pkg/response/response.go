package response

// Response is the envelope every billing endpoint answers with.
type Response struct {
	Status     string      `json:"status"`      // "success" or "error"
	StatusCode int         `json:"status_code"` // HTTP status code
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	// Code is a stable machine-readable reason, e.g. "invoice_not_payable".
	Code string `json:"code,omitempty"`
}

func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Error wraps a human-readable message with no reason code.
func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}

// Failure is Error with a reason code clients can branch on.
func Failure(statusCode int, code, err string) Response {
	r := Error(statusCode, err)
	r.Code = code
	return r
}
