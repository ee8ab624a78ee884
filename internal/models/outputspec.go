package models

import (
	"encoding/json"
	"fmt"
)

// outputFields is the closed set of field names a caller may request in an
// output spec. Requesting anything outside this set is a validation fault.
var outputFields = map[string]struct{}{
	"monitoringDataTs":         {},
	"securityServerInternalIp": {},
	"securityServerType":       {},
	"requestInTs":              {},
	"requestOutTs":             {},
	"responseInTs":             {},
	"responseOutTs":            {},
	"clientXRoadInstance":      {},
	"clientMemberClass":        {},
	"clientMemberCode":         {},
	"clientSubsystemCode":      {},
	"serviceXRoadInstance":     {},
	"serviceMemberClass":       {},
	"serviceMemberCode":        {},
	"serviceSubsystemCode":     {},
	"serviceCode":              {},
	"serviceVersion":           {},
	"serviceType":              {},
	"representedPartyClass":    {},
	"representedPartyCode":     {},
	"messageId":                {},
	"messageUserId":            {},
	"messageIssue":             {},
	"messageProtocolVersion":   {},
	"xRequestId":               {},
	"requestSize":              {},
	"requestMimeSize":          {},
	"requestAttachmentCount":   {},
	"responseSize":             {},
	"responseMimeSize":         {},
	"responseAttachmentCount":  {},
	"succeeded":                {},
	"statusCode":               {},
	"faultCode":                {},
	"faultString":              {},
}

// ValidateOutputSpec rejects unknown field names. An empty spec is valid
// and means "all fields".
func ValidateOutputSpec(spec []string) error {
	for _, name := range spec {
		if _, ok := outputFields[name]; !ok {
			return fmt.Errorf("unknown output field %q", name)
		}
	}
	return nil
}

// Project renders the record as a JSON object holding only the requested
// fields. Fields whose value is absent are omitted, so a spec naming only
// unpopulated fields yields an empty object. An empty spec keeps every
// populated field.
func Project(r *OperationalRecord, spec []string) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode record object: %w", err)
	}

	if len(spec) == 0 {
		return obj, nil
	}

	requested := make(map[string]struct{}, len(spec))
	for _, name := range spec {
		requested[name] = struct{}{}
	}

	for key := range obj {
		if _, ok := requested[key]; !ok {
			delete(obj, key)
		}
	}
	return obj, nil
}
