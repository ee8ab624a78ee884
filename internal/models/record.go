package models

import (
	"fmt"
)

// Security server roles a record can be observed in.
const (
	SecurityServerTypeClient   = "Client"
	SecurityServerTypeProducer = "Producer"
)

// OperationalRecord is one logged request/response exchange. Records are
// immutable once written; optional fields are nil when the corresponding
// processing stage never completed, never zero.
type OperationalRecord struct {
	MonitoringDataTs int64 `json:"monitoringDataTs,omitempty"`

	SecurityServerInternalIP string `json:"securityServerInternalIp,omitempty"`
	SecurityServerType       string `json:"securityServerType,omitempty"`

	RequestInTs   *int64 `json:"requestInTs,omitempty"`
	RequestOutTs  *int64 `json:"requestOutTs,omitempty"`
	ResponseInTs  *int64 `json:"responseInTs,omitempty"`
	ResponseOutTs *int64 `json:"responseOutTs,omitempty"`

	ClientXRoadInstance string `json:"clientXRoadInstance,omitempty"`
	ClientMemberClass   string `json:"clientMemberClass,omitempty"`
	ClientMemberCode    string `json:"clientMemberCode,omitempty"`
	ClientSubsystemCode string `json:"clientSubsystemCode,omitempty"`

	ServiceXRoadInstance string `json:"serviceXRoadInstance,omitempty"`
	ServiceMemberClass   string `json:"serviceMemberClass,omitempty"`
	ServiceMemberCode    string `json:"serviceMemberCode,omitempty"`
	ServiceSubsystemCode string `json:"serviceSubsystemCode,omitempty"`
	ServiceCode          string `json:"serviceCode,omitempty"`
	ServiceVersion       string `json:"serviceVersion,omitempty"`
	ServiceType          string `json:"serviceType,omitempty"`

	RepresentedPartyClass string `json:"representedPartyClass,omitempty"`
	RepresentedPartyCode  string `json:"representedPartyCode,omitempty"`

	MessageID              string `json:"messageId,omitempty"`
	MessageUserID          string `json:"messageUserId,omitempty"`
	MessageIssue           string `json:"messageIssue,omitempty"`
	MessageProtocolVersion string `json:"messageProtocolVersion,omitempty"`
	XRequestID             string `json:"xRequestId,omitempty"`

	RequestSize             *int64 `json:"requestSize,omitempty"`
	RequestMimeSize         *int64 `json:"requestMimeSize,omitempty"`
	RequestAttachmentCount  *int32 `json:"requestAttachmentCount,omitempty"`
	ResponseSize            *int64 `json:"responseSize,omitempty"`
	ResponseMimeSize        *int64 `json:"responseMimeSize,omitempty"`
	ResponseAttachmentCount *int32 `json:"responseAttachmentCount,omitempty"`

	Succeeded   *bool  `json:"succeeded,omitempty"`
	StatusCode  *int32 `json:"statusCode,omitempty"`
	FaultCode   string `json:"faultCode,omitempty"`
	FaultString string `json:"faultString,omitempty"`
}

// ClientSide returns the client-side identity of the record.
func (r *OperationalRecord) ClientSide() ClientID {
	return ClientID{
		Instance:      r.ClientXRoadInstance,
		MemberClass:   r.ClientMemberClass,
		MemberCode:    r.ClientMemberCode,
		SubsystemCode: r.ClientSubsystemCode,
	}
}

// ServiceSide returns the service-provider identity of the record.
func (r *OperationalRecord) ServiceSide() ClientID {
	return ClientID{
		Instance:      r.ServiceXRoadInstance,
		MemberClass:   r.ServiceMemberClass,
		MemberCode:    r.ServiceMemberCode,
		SubsystemCode: r.ServiceSubsystemCode,
	}
}

// ServiceID returns the full service identity of the record.
func (r *OperationalRecord) ServiceID() ServiceID {
	return ServiceID{
		Provider:       r.ServiceSide(),
		ServiceCode:    r.ServiceCode,
		ServiceVersion: r.ServiceVersion,
	}
}

// Validate checks the invariants a record must satisfy before it is
// accepted for storage.
func (r *OperationalRecord) Validate() error {
	switch r.SecurityServerType {
	case SecurityServerTypeClient, SecurityServerTypeProducer:
	default:
		return fmt.Errorf("invalid securityServerType %q", r.SecurityServerType)
	}

	if r.Succeeded == nil {
		return fmt.Errorf("succeeded is required")
	}
	if *r.Succeeded && (r.FaultCode != "" || r.FaultString != "") {
		return fmt.Errorf("fault information present on a succeeded record")
	}

	if err := r.ClientSide().Validate(); err != nil {
		return fmt.Errorf("client identity: %w", err)
	}
	if err := r.ServiceSide().Validate(); err != nil {
		return fmt.Errorf("service identity: %w", err)
	}

	// Completed stages must be ordered. A stage skipped by a fault leaves
	// its timestamps nil, which is not an ordering violation.
	prev := int64(0)
	for _, ts := range []*int64{r.RequestInTs, r.RequestOutTs, r.ResponseInTs, r.ResponseOutTs} {
		if ts == nil {
			continue
		}
		if *ts < prev {
			return fmt.Errorf("timestamps out of order: %d after %d", *ts, prev)
		}
		prev = *ts
	}

	return nil
}
