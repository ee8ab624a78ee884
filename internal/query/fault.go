package query

import "fmt"

// Fault codes returned to query clients. Validation problems and backend
// outages are distinguished so callers know whether a retry can help.
const (
	FaultInvalidRequest   = "InvalidRequest"
	FaultAccessDenied     = "AccessDenied"
	FaultStoreUnavailable = "StoreUnavailable"
)

// Fault is an error with a wire representation.
type Fault struct {
	Code   string `json:"faultCode"`
	String string `json:"faultString"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.String)
}

func invalidRequest(format string, args ...any) *Fault {
	return &Fault{Code: FaultInvalidRequest, String: fmt.Sprintf(format, args...)}
}

func accessDenied(format string, args ...any) *Fault {
	return &Fault{Code: FaultAccessDenied, String: fmt.Sprintf(format, args...)}
}

func storeUnavailable() *Fault {
	return &Fault{Code: FaultStoreUnavailable, String: "operational record store is unavailable"}
}
