package store

import (
	"strings"
	"testing"

	"github.com/meshgate/opmond/internal/models"
)

func TestBuildPredicateTimeRangeOnly(t *testing.T) {
	where, args := buildPredicate(Criteria{RecordsFrom: 100, RecordsTo: 200})

	if where != "monitoring_data_ts BETWEEN $1 AND $2" {
		t.Errorf("where = %q", where)
	}
	if len(args) != 2 || args[0] != int64(100) || args[1] != int64(200) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildPredicateEitherSide(t *testing.T) {
	subsystem := models.ClientID{Instance: "DEV", MemberClass: "GOV", MemberCode: "1", SubsystemCode: "Sub"}

	where, args := buildPredicate(Criteria{RecordsFrom: 1, RecordsTo: 2, EitherSide: []models.ClientID{subsystem}})

	if !strings.Contains(where, "client_xroad_instance = $3") {
		t.Errorf("client side missing: %q", where)
	}
	if !strings.Contains(where, "service_xroad_instance = $7") {
		t.Errorf("service side missing: %q", where)
	}
	if !strings.Contains(where, " OR ") {
		t.Errorf("either-side match must be a disjunction: %q", where)
	}
	// 2 range args + 4 identity parts per side.
	if len(args) != 10 {
		t.Errorf("len(args) = %d, want 10", len(args))
	}
}

func TestBuildPredicateMemberLevel(t *testing.T) {
	member := models.ClientID{Instance: "DEV", MemberClass: "GOV", MemberCode: "1"}

	where, _ := buildPredicate(Criteria{RecordsFrom: 1, RecordsTo: 2, EitherSide: []models.ClientID{member}})

	// A member-level identifier matches all subsystems, so no subsystem
	// condition may appear.
	if strings.Contains(where, "subsystem_code") {
		t.Errorf("member-level match must not constrain subsystem: %q", where)
	}
}

func TestBuildPredicateServiceSide(t *testing.T) {
	provider := models.ClientID{Instance: "DEV", MemberClass: "GOV", MemberCode: "0", SubsystemCode: "Center"}

	where, _ := buildPredicate(Criteria{RecordsFrom: 1, RecordsTo: 2, ServiceSide: &provider})

	if strings.Contains(where, "client_xroad_instance") {
		t.Errorf("service-side criterion must not touch the client side: %q", where)
	}
	if !strings.Contains(where, "service_subsystem_code") {
		t.Errorf("subsystem-level provider must constrain the subsystem: %q", where)
	}
}

func TestBuildPredicateConjunction(t *testing.T) {
	caller := models.ClientID{Instance: "DEV", MemberClass: "COM", MemberCode: "9", SubsystemCode: "Query"}
	client := models.ClientID{Instance: "DEV", MemberClass: "GOV", MemberCode: "1", SubsystemCode: "Sub"}

	where, _ := buildPredicate(Criteria{
		RecordsFrom: 1,
		RecordsTo:   2,
		EitherSide:  []models.ClientID{caller, client},
	})

	// Both matchers must be present: criteria narrow, never widen.
	if strings.Count(where, ") AND (") < 1 {
		t.Errorf("expected conjunction of matchers: %q", where)
	}
}
