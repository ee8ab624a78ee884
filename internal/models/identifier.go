package models

import (
	"fmt"
	"strings"
)

const identifierSeparator = "/"

// ClientID identifies a member or a subsystem of a member in the
// federation. SubsystemCode is empty for member-level identifiers.
type ClientID struct {
	Instance      string `json:"xRoadInstance" yaml:"instance"`
	MemberClass   string `json:"memberClass" yaml:"memberClass"`
	MemberCode    string `json:"memberCode" yaml:"memberCode"`
	SubsystemCode string `json:"subsystemCode,omitempty" yaml:"subsystemCode,omitempty"`
}

// ParseClientID parses "instance/class/code" or
// "instance/class/code/subsystem".
func ParseClientID(s string) (ClientID, error) {
	parts := strings.Split(s, identifierSeparator)
	if len(parts) < 3 || len(parts) > 4 {
		return ClientID{}, fmt.Errorf("invalid client identifier %q: expected 3 or 4 parts", s)
	}
	for i, p := range parts {
		if strings.TrimSpace(p) == "" {
			return ClientID{}, fmt.Errorf("invalid client identifier %q: empty part at position %d", s, i)
		}
	}

	id := ClientID{
		Instance:    parts[0],
		MemberClass: parts[1],
		MemberCode:  parts[2],
	}
	if len(parts) == 4 {
		id.SubsystemCode = parts[3]
	}
	return id, nil
}

func (c ClientID) String() string {
	parts := []string{c.Instance, c.MemberClass, c.MemberCode}
	if c.SubsystemCode != "" {
		parts = append(parts, c.SubsystemCode)
	}
	return strings.Join(parts, identifierSeparator)
}

// IsZero reports whether the identifier is unset.
func (c ClientID) IsZero() bool {
	return c.Instance == "" && c.MemberClass == "" && c.MemberCode == "" && c.SubsystemCode == ""
}

// IsMember reports whether the identifier is member-level (no subsystem).
func (c ClientID) IsMember() bool {
	return c.SubsystemCode == ""
}

// MemberID returns the member-level identifier.
func (c ClientID) MemberID() ClientID {
	c.SubsystemCode = ""
	return c
}

// Validate checks that the mandatory parts are present.
func (c ClientID) Validate() error {
	if c.Instance == "" || c.MemberClass == "" || c.MemberCode == "" {
		return fmt.Errorf("invalid client identifier %q: instance, member class and member code are required", c)
	}
	return nil
}

// Matches reports whether other falls within this identifier.
// A subsystem-level identifier matches only the exact subsystem.
// A member-level identifier matches the member and all of its subsystems.
func (c ClientID) Matches(other ClientID) bool {
	if c.Instance != other.Instance || c.MemberClass != other.MemberClass || c.MemberCode != other.MemberCode {
		return false
	}
	if c.IsMember() {
		return true
	}
	return c.SubsystemCode == other.SubsystemCode
}

// ServiceID identifies a service offered by a provider subsystem.
type ServiceID struct {
	Provider       ClientID `json:"provider"`
	ServiceCode    string   `json:"serviceCode"`
	ServiceVersion string   `json:"serviceVersion,omitempty"`
}

func (s ServiceID) String() string {
	parts := []string{s.Provider.String(), s.ServiceCode}
	if s.ServiceVersion != "" {
		parts = append(parts, s.ServiceVersion)
	}
	return strings.Join(parts, identifierSeparator)
}

func (s ServiceID) Validate() error {
	if err := s.Provider.Validate(); err != nil {
		return err
	}
	if s.ServiceCode == "" {
		return fmt.Errorf("invalid service identifier %q: service code is required", s)
	}
	return nil
}
