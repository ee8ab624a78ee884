package query

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/meshgate/opmond/internal/health"
	"github.com/meshgate/opmond/internal/logging"
	"github.com/meshgate/opmond/internal/models"
	"github.com/meshgate/opmond/internal/registry"
	"github.com/meshgate/opmond/internal/store"
)

var (
	ownerSubsystem = models.ClientID{Instance: "DEV", MemberClass: "GOV", MemberCode: "00000000", SubsystemCode: "Center"}
	centralClient  = models.ClientID{Instance: "DEV", MemberClass: "GOV", MemberCode: "00000077", SubsystemCode: "CentralMonitoring"}
	regularClient  = models.ClientID{Instance: "DEV", MemberClass: "GOV", MemberCode: "00000001", SubsystemCode: "System1"}
	otherClient    = models.ClientID{Instance: "DEV", MemberClass: "COM", MemberCode: "00000002", SubsystemCode: "System2"}
)

type fakeStore struct {
	lastCriteria store.Criteria
	records      []models.OperationalRecord
	more         bool
	err          error
}

func (f *fakeStore) Append(ctx context.Context, batch []models.OperationalRecord) error { return nil }

func (f *fakeStore) Query(ctx context.Context, c store.Criteria) ([]models.OperationalRecord, bool, error) {
	f.lastCriteria = c
	return f.records, f.more, f.err
}

func (f *fakeStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) { return 0, nil }
func (f *fakeStore) Ping(ctx context.Context) error                                  { return nil }
func (f *fakeStore) Close()                                                          {}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Parse([]byte(`
owner: DEV/GOV/00000000
central_monitoring_client: DEV/GOV/00000077/CentralMonitoring
clients:
  - DEV/GOV/00000000/Center
  - DEV/GOV/00000001/System1
`))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func testEngine(t *testing.T, s store.Records) *Engine {
	t.Helper()
	agg := health.New(600)
	t.Cleanup(agg.Stop)
	logger := logging.NewWithWriter(io.Discard, slog.LevelError, "text")
	e := NewEngine(s, testRegistry(t), agg, 60, 100, time.Second, logger)
	// Pin the clock so the availability window is deterministic.
	e.now = func() time.Time { return time.Unix(1474969100, 0) }
	return e
}

func storedRecord(ts int64, internalIP string) models.OperationalRecord {
	succeeded := true
	return models.OperationalRecord{
		MonitoringDataTs:         ts,
		SecurityServerInternalIP: internalIP,
		SecurityServerType:       models.SecurityServerTypeClient,
		ClientXRoadInstance:      regularClient.Instance,
		ClientMemberClass:        regularClient.MemberClass,
		ClientMemberCode:         regularClient.MemberCode,
		ClientSubsystemCode:      regularClient.SubsystemCode,
		ServiceXRoadInstance:     ownerSubsystem.Instance,
		ServiceMemberClass:       ownerSubsystem.MemberClass,
		ServiceMemberCode:        ownerSubsystem.MemberCode,
		ServiceSubsystemCode:     ownerSubsystem.SubsystemCode,
		ServiceCode:              "getData",
		Succeeded:                &succeeded,
	}
}

func request(from, to int64) *OperationalDataRequest {
	return &OperationalDataRequest{RecordsFrom: &from, RecordsTo: &to}
}

func faultCode(t *testing.T, err error) string {
	t.Helper()
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("error %v is not a fault", err)
	}
	return fault.Code
}

func TestQueryValidation(t *testing.T) {
	e := testEngine(t, &fakeStore{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  *OperationalDataRequest
	}{
		{"missing range", &OperationalDataRequest{}},
		{"negative from", request(-1, 100)},
		{"reversed range", request(200, 100)},
		{"from inside offset window", request(1474969090, 1474969100)},
		{"from at the availability boundary", request(1474969040, 1474969100)},
		{"unknown output field", func() *OperationalDataRequest {
			r := request(100, 200)
			r.OutputSpec = []string{"nosuchfield"}
			return r
		}()},
		{"bad client criterion", func() *OperationalDataRequest {
			r := request(100, 200)
			r.SearchCriteria = &SearchCriteria{Client: &models.ClientID{Instance: "DEV"}}
			return r
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.QueryOperationalData(ctx, ownerSubsystem, tc.req)
			if err == nil {
				t.Fatal("invalid request accepted")
			}
			if code := faultCode(t, err); code != FaultInvalidRequest {
				t.Errorf("fault code = %q, want %q", code, FaultInvalidRequest)
			}
		})
	}
}

func TestQueryClampsRecordsTo(t *testing.T) {
	s := &fakeStore{}
	e := testEngine(t, s)

	if _, err := e.QueryOperationalData(context.Background(), ownerSubsystem, request(100, 1474969999)); err != nil {
		t.Fatalf("QueryOperationalData() error = %v", err)
	}

	// now is pinned at 1474969100 and the offset is 60 seconds.
	if s.lastCriteria.RecordsTo != 1474969040 {
		t.Errorf("recordsTo = %d, want clamped to 1474969040", s.lastCriteria.RecordsTo)
	}
	if s.lastCriteria.RecordsFrom != 100 {
		t.Errorf("recordsFrom = %d, want 100", s.lastCriteria.RecordsFrom)
	}
}

func TestQueryRoleCriteria(t *testing.T) {
	s := &fakeStore{}
	e := testEngine(t, s)
	ctx := context.Background()

	// The owner queries without implicit restriction.
	if _, err := e.QueryOperationalData(ctx, ownerSubsystem, request(100, 200)); err != nil {
		t.Fatalf("owner query error = %v", err)
	}
	if len(s.lastCriteria.EitherSide) != 0 {
		t.Errorf("owner criteria = %v, want no identity restriction", s.lastCriteria.EitherSide)
	}

	// So does the central monitoring client.
	if _, err := e.QueryOperationalData(ctx, centralClient, request(100, 200)); err != nil {
		t.Fatalf("central query error = %v", err)
	}
	if len(s.lastCriteria.EitherSide) != 0 {
		t.Errorf("central criteria = %v, want no identity restriction", s.lastCriteria.EitherSide)
	}

	// A regular client is pinned to its own exchanges; an explicit client
	// criterion narrows further instead of replacing the restriction.
	req := request(100, 200)
	req.SearchCriteria = &SearchCriteria{Client: &otherClient}
	if _, err := e.QueryOperationalData(ctx, regularClient, req); err != nil {
		t.Fatalf("regular query error = %v", err)
	}
	if len(s.lastCriteria.EitherSide) != 2 {
		t.Fatalf("regular criteria = %v, want caller plus criterion", s.lastCriteria.EitherSide)
	}
	if s.lastCriteria.EitherSide[0] != regularClient || s.lastCriteria.EitherSide[1] != otherClient {
		t.Errorf("regular criteria = %v", s.lastCriteria.EitherSide)
	}

	// The service provider criterion is one-sided.
	req = request(100, 200)
	req.SearchCriteria = &SearchCriteria{ServiceProvider: &ownerSubsystem}
	if _, err := e.QueryOperationalData(ctx, ownerSubsystem, req); err != nil {
		t.Fatalf("provider query error = %v", err)
	}
	if s.lastCriteria.ServiceSide == nil || *s.lastCriteria.ServiceSide != ownerSubsystem {
		t.Errorf("service side = %v, want %v", s.lastCriteria.ServiceSide, ownerSubsystem)
	}
}

func TestQueryDecodedSearchCriteria(t *testing.T) {
	s := &fakeStore{}
	e := testEngine(t, s)

	// The wire form carries the narrowing criteria in a searchCriteria
	// sub-object; it must reach the store as a predicate.
	body := `{"recordsFrom": 100, "recordsTo": 200, "searchCriteria": {
		"client": {"xRoadInstance": "DEV", "memberClass": "COM",
			"memberCode": "00000002", "subsystemCode": "System2"}}}`
	var req OperationalDataRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if _, err := e.QueryOperationalData(context.Background(), ownerSubsystem, &req); err != nil {
		t.Fatalf("query error = %v", err)
	}
	if len(s.lastCriteria.EitherSide) != 1 || s.lastCriteria.EitherSide[0] != otherClient {
		t.Errorf("either-side criteria = %v, want %v", s.lastCriteria.EitherSide, otherClient)
	}
}

func TestQueryInternalIPVisibility(t *testing.T) {
	s := &fakeStore{records: []models.OperationalRecord{storedRecord(150, "192.168.3.250")}}
	e := testEngine(t, s)
	ctx := context.Background()

	hasIP := func(caller models.ClientID) bool {
		result, err := e.QueryOperationalData(ctx, caller, request(100, 200))
		if err != nil {
			t.Fatalf("query error = %v", err)
		}
		if result.RecordsCount != 1 {
			t.Fatalf("records = %d, want 1", result.RecordsCount)
		}
		_, ok := result.Records[0]["securityServerInternalIp"]
		return ok
	}

	if !hasIP(ownerSubsystem) {
		t.Error("owner must see the internal IP")
	}
	if hasIP(centralClient) {
		t.Error("central monitoring client must not see the internal IP")
	}
	if hasIP(regularClient) {
		t.Error("regular client must not see the internal IP")
	}
}

func TestQueryPaginationCursor(t *testing.T) {
	s := &fakeStore{
		records: []models.OperationalRecord{storedRecord(150, ""), storedRecord(160, "")},
		more:    true,
	}
	e := testEngine(t, s)

	result, err := e.QueryOperationalData(context.Background(), ownerSubsystem, request(100, 200))
	if err != nil {
		t.Fatalf("query error = %v", err)
	}
	if result.NextRecordsFrom == nil || *result.NextRecordsFrom != 161 {
		t.Errorf("nextRecordsFrom = %v, want 161", result.NextRecordsFrom)
	}

	s.more = false
	result, err = e.QueryOperationalData(context.Background(), ownerSubsystem, request(100, 200))
	if err != nil {
		t.Fatalf("query error = %v", err)
	}
	if result.NextRecordsFrom != nil {
		t.Errorf("nextRecordsFrom = %v, want absent on the last page", *result.NextRecordsFrom)
	}
}

func TestQueryOutputProjection(t *testing.T) {
	s := &fakeStore{records: []models.OperationalRecord{storedRecord(150, "")}}
	e := testEngine(t, s)

	req := request(100, 200)
	req.OutputSpec = []string{"monitoringDataTs", "serviceCode"}

	result, err := e.QueryOperationalData(context.Background(), ownerSubsystem, req)
	if err != nil {
		t.Fatalf("query error = %v", err)
	}
	record := result.Records[0]
	if len(record) != 2 {
		t.Fatalf("projected record has %d fields, want 2: %v", len(record), record)
	}
	var ts int64
	if err := json.Unmarshal(record["monitoringDataTs"], &ts); err != nil || ts != 150 {
		t.Errorf("monitoringDataTs = %s, want 150", record["monitoringDataTs"])
	}
}

func TestQueryStoreUnavailable(t *testing.T) {
	s := &fakeStore{err: store.ErrUnavailable}
	e := testEngine(t, s)

	_, err := e.QueryOperationalData(context.Background(), ownerSubsystem, request(100, 200))
	if err == nil {
		t.Fatal("store outage not reported")
	}
	if code := faultCode(t, err); code != FaultStoreUnavailable {
		t.Errorf("fault code = %q, want %q", code, FaultStoreUnavailable)
	}
}

type blockedStore struct {
	fakeStore
}

func (b *blockedStore) Query(ctx context.Context, c store.Criteria) ([]models.OperationalRecord, bool, error) {
	<-ctx.Done()
	return nil, false, ctx.Err()
}

func TestQueryTimeoutMapsToStoreUnavailable(t *testing.T) {
	e := testEngine(t, &blockedStore{})
	e.queryTimeout = 5 * time.Millisecond

	_, err := e.QueryOperationalData(context.Background(), ownerSubsystem, request(100, 200))
	if err == nil {
		t.Fatal("timed out scan not reported")
	}
	if code := faultCode(t, err); code != FaultStoreUnavailable {
		t.Errorf("fault code = %q, want %q", code, FaultStoreUnavailable)
	}
}

func TestHealthDataRoles(t *testing.T) {
	e := testEngine(t, &fakeStore{})
	ctx := context.Background()

	service := models.ServiceID{Provider: ownerSubsystem, ServiceCode: "getData"}
	e.health.RecordEvent(service, regularClient, true, 100, 10, 20)

	otherService := models.ServiceID{Provider: ownerSubsystem, ServiceCode: "putData"}
	e.health.RecordEvent(otherService, otherClient, true, 100, 10, 20)

	// Owner and central monitoring client see everything.
	for _, caller := range []models.ClientID{ownerSubsystem, centralClient} {
		data, err := e.QueryHealthData(ctx, caller, &HealthDataRequest{})
		if err != nil {
			t.Fatalf("health query error = %v", err)
		}
		if len(data.ServicesEvents.ServiceEvents) != 2 {
			t.Errorf("%s sees %d services, want 2", caller, len(data.ServicesEvents.ServiceEvents))
		}
	}

	// A regular client only sees services it consumed, regardless of the
	// filter it sends.
	data, err := e.QueryHealthData(ctx, regularClient, &HealthDataRequest{})
	if err != nil {
		t.Fatalf("health query error = %v", err)
	}
	if len(data.ServicesEvents.ServiceEvents) != 1 {
		t.Fatalf("regular client sees %d services, want 1", len(data.ServicesEvents.ServiceEvents))
	}

	// Asking for another client's view is denied, not silently narrowed.
	_, err = e.QueryHealthData(ctx, regularClient,
		&HealthDataRequest{FilterCriteria: &HealthFilterCriteria{Client: &otherClient}})
	if err == nil {
		t.Fatal("cross-client health filter accepted")
	}
	if code := faultCode(t, err); code != FaultAccessDenied {
		t.Errorf("fault code = %q, want %q", code, FaultAccessDenied)
	}

	// The owner filtering by a specific consumer narrows the view.
	data, err = e.QueryHealthData(ctx, ownerSubsystem,
		&HealthDataRequest{FilterCriteria: &HealthFilterCriteria{Client: &regularClient}})
	if err != nil {
		t.Fatalf("health query error = %v", err)
	}
	if len(data.ServicesEvents.ServiceEvents) != 1 {
		t.Errorf("filtered owner view has %d services, want 1", len(data.ServicesEvents.ServiceEvents))
	}
}
