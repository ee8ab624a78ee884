package handlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/meshgate/opmond/internal/auth"
	"github.com/meshgate/opmond/internal/buffer"
	"github.com/meshgate/opmond/internal/health"
	"github.com/meshgate/opmond/internal/logging"
	"github.com/meshgate/opmond/internal/models"
	"github.com/meshgate/opmond/internal/query"
	"github.com/meshgate/opmond/internal/ratelimit"
	"github.com/meshgate/opmond/internal/registry"
	"github.com/meshgate/opmond/internal/store"
)

var (
	ownerSubsystem = models.ClientID{Instance: "DEV", MemberClass: "GOV", MemberCode: "00000000", SubsystemCode: "Center"}
	regularClient  = models.ClientID{Instance: "DEV", MemberClass: "GOV", MemberCode: "00000001", SubsystemCode: "System1"}
)

type fakeStore struct {
	lastCriteria store.Criteria
	records      []models.OperationalRecord
	more         bool
	pingErr      error
}

func (f *fakeStore) Append(ctx context.Context, batch []models.OperationalRecord) error { return nil }

func (f *fakeStore) Query(ctx context.Context, c store.Criteria) ([]models.OperationalRecord, bool, error) {
	f.lastCriteria = c
	return f.records, f.more, nil
}

func (f *fakeStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) { return 0, nil }
func (f *fakeStore) Ping(ctx context.Context) error                                  { return f.pingErr }
func (f *fakeStore) Close()                                                          {}

type testEnv struct {
	handler *Handler
	tokens  *auth.TokenGenerator
	health  *health.Aggregator
	store   *fakeStore
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("proxy-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	reg, err := registry.Parse([]byte(`
owner: DEV/GOV/00000000
clients:
  - DEV/GOV/00000000/Center
  - DEV/GOV/00000001/System1
producer_tokens:
  - name: proxy-1
    hash: "` + string(hash) + `"
`))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	logger := logging.NewWithWriter(io.Discard, slog.LevelError, "text")
	s := &fakeStore{}
	agg := health.New(600)
	t.Cleanup(agg.Stop)
	buf := buffer.New(s, 100, time.Hour, logger)
	t.Cleanup(func() { buf.Stop(context.Background()) })
	tokens := auth.NewTokenGenerator("test-secret")
	engine := query.NewEngine(s, reg, agg, 60, 100, time.Second, logger)

	return &testEnv{
		handler: New(engine, buf, reg, &ratelimit.NoOpRateLimiter{}, tokens, agg, s, logger),
		tokens:  tokens,
		health:  agg,
		store:   s,
	}
}

func (e *testEnv) authorize(t *testing.T, r *http.Request, caller models.ClientID) {
	t.Helper()
	token, err := e.tokens.GenerateCallerToken(caller)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	r.Header.Set("Authorization", "Bearer "+token)
}

func producerRecord(ts int64) models.OperationalRecord {
	succeeded := true
	reqIn, respOut := ts*1000, ts*1000+250
	reqSize, respSize := int64(1000), int64(2000)
	return models.OperationalRecord{
		MonitoringDataTs:     ts,
		SecurityServerType:   models.SecurityServerTypeProducer,
		ClientXRoadInstance:  regularClient.Instance,
		ClientMemberClass:    regularClient.MemberClass,
		ClientMemberCode:     regularClient.MemberCode,
		ClientSubsystemCode:  regularClient.SubsystemCode,
		ServiceXRoadInstance: ownerSubsystem.Instance,
		ServiceMemberClass:   ownerSubsystem.MemberClass,
		ServiceMemberCode:    ownerSubsystem.MemberCode,
		ServiceSubsystemCode: ownerSubsystem.SubsystemCode,
		ServiceCode:          "getData",
		RequestInTs:          &reqIn,
		ResponseOutTs:        &respOut,
		RequestSize:          &reqSize,
		ResponseSize:         &respSize,
		Succeeded:            &succeeded,
	}
}

func storeDataBody(t *testing.T, records ...models.OperationalRecord) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(storeDataRequest{Records: records})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(raw)
}

func TestStoreDataAuth(t *testing.T) {
	env := setup(t)

	r := httptest.NewRequest(http.MethodPost, "/store_data", storeDataBody(t, producerRecord(100)))
	w := httptest.NewRecorder()
	env.handler.HandleStoreData(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/store_data", storeDataBody(t, producerRecord(100)))
	r.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	env.handler.HandleStoreData(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", w.Code)
	}
}

func TestStoreDataAcceptsBatch(t *testing.T) {
	env := setup(t)

	r := httptest.NewRequest(http.MethodPost, "/store_data",
		storeDataBody(t, producerRecord(100), producerRecord(101)))
	r.Header.Set("Authorization", "Bearer proxy-secret")
	w := httptest.NewRecorder()
	env.handler.HandleStoreData(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp storeDataResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Submitted != 2 {
		t.Errorf("submitted = %d, want 2", resp.Submitted)
	}

	// Producer-side records must reach the health aggregator.
	data := env.health.Snapshot(nil)
	if len(data.ServicesEvents.ServiceEvents) != 1 {
		t.Fatalf("health services = %d, want 1", len(data.ServicesEvents.ServiceEvents))
	}
	stats := data.ServicesEvents.ServiceEvents[0].LastPeriodStatistics
	if stats == nil || stats.SuccessfulRequestCount != 2 {
		t.Errorf("health statistics = %+v, want 2 successful requests", stats)
	}
	if *stats.RequestMinDuration != 250 {
		t.Errorf("request duration = %d, want 250", *stats.RequestMinDuration)
	}
}

func TestStoreDataRejectsInvalidRecord(t *testing.T) {
	env := setup(t)

	bad := producerRecord(100)
	bad.Succeeded = nil
	r := httptest.NewRequest(http.MethodPost, "/store_data", storeDataBody(t, bad))
	r.Header.Set("Authorization", "Bearer proxy-secret")
	w := httptest.NewRecorder()
	env.handler.HandleStoreData(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func queryBody(t *testing.T, from, to int64) *strings.Reader {
	t.Helper()
	raw, err := json.Marshal(map[string]int64{"recordsFrom": from, "recordsTo": to})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return strings.NewReader(string(raw))
}

func TestOperationalDataRequiresCallerToken(t *testing.T) {
	env := setup(t)

	r := httptest.NewRequest(http.MethodPost, "/query/operational-data", queryBody(t, 100, 200))
	w := httptest.NewRecorder()
	env.handler.HandleOperationalData(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestOperationalDataMultipartResponse(t *testing.T) {
	env := setup(t)
	env.store.records = []models.OperationalRecord{producerRecord(150)}

	r := httptest.NewRequest(http.MethodPost, "/query/operational-data", queryBody(t, 100, 200))
	env.authorize(t, r, ownerSubsystem)
	w := httptest.NewRecorder()
	env.handler.HandleOperationalData(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	mediaType, params, err := mime.ParseMediaType(w.Header().Get("Content-Type"))
	if err != nil {
		t.Fatalf("content type: %v", err)
	}
	if mediaType != "multipart/related" {
		t.Fatalf("media type = %q, want multipart/related", mediaType)
	}

	mr := multipart.NewReader(w.Body, params["boundary"])

	summaryPart, err := mr.NextPart()
	if err != nil {
		t.Fatalf("summary part: %v", err)
	}
	var summary struct {
		RecordsCount    int    `json:"recordsCount"`
		NextRecordsFrom *int64 `json:"nextRecordsFrom"`
	}
	if err := json.NewDecoder(summaryPart).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.RecordsCount != 1 || summary.NextRecordsFrom != nil {
		t.Errorf("summary = %+v", summary)
	}

	recordsPart, err := mr.NextPart()
	if err != nil {
		t.Fatalf("records part: %v", err)
	}
	if ct := recordsPart.Header.Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("attachment content type = %q", ct)
	}
	if !strings.Contains(recordsPart.Header.Get("Content-Disposition"), attachmentName) {
		t.Errorf("attachment disposition = %q", recordsPart.Header.Get("Content-Disposition"))
	}

	gz, err := gzip.NewReader(recordsPart)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	var payload struct {
		Records []map[string]json.RawMessage `json:"records"`
	}
	if err := json.NewDecoder(gz).Decode(&payload); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(payload.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(payload.Records))
	}
	var ts int64
	if err := json.Unmarshal(payload.Records[0]["monitoringDataTs"], &ts); err != nil || ts != 150 {
		t.Errorf("monitoringDataTs = %s, want 150", payload.Records[0]["monitoringDataTs"])
	}
}

func TestOperationalDataSearchCriteria(t *testing.T) {
	env := setup(t)

	body := `{"recordsFrom": 100, "recordsTo": 200, "searchCriteria": {
		"client": {"xRoadInstance": "DEV", "memberClass": "GOV",
			"memberCode": "00000001", "subsystemCode": "System1"},
		"serviceProvider": {"xRoadInstance": "DEV", "memberClass": "GOV",
			"memberCode": "00000000", "subsystemCode": "Center"}}}`
	r := httptest.NewRequest(http.MethodPost, "/query/operational-data", strings.NewReader(body))
	env.authorize(t, r, ownerSubsystem)
	w := httptest.NewRecorder()
	env.handler.HandleOperationalData(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	c := env.store.lastCriteria
	if len(c.EitherSide) != 1 || c.EitherSide[0] != regularClient {
		t.Errorf("either-side criteria = %v, want %v", c.EitherSide, regularClient)
	}
	if c.ServiceSide == nil || *c.ServiceSide != ownerSubsystem {
		t.Errorf("service-side criterion = %v, want %v", c.ServiceSide, ownerSubsystem)
	}
}

func TestOperationalDataFaultIsPlainJSON(t *testing.T) {
	env := setup(t)

	r := httptest.NewRequest(http.MethodPost, "/query/operational-data",
		strings.NewReader(`{"recordsFrom": 200, "recordsTo": 100}`))
	env.authorize(t, r, ownerSubsystem)
	w := httptest.NewRecorder()
	env.handler.HandleOperationalData(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var fault query.Fault
	if err := json.NewDecoder(w.Body).Decode(&fault); err != nil {
		t.Fatalf("decode fault: %v", err)
	}
	if fault.Code != query.FaultInvalidRequest {
		t.Errorf("fault code = %q", fault.Code)
	}
}

func TestHealthDataQuery(t *testing.T) {
	env := setup(t)
	env.health.RecordEvent(models.ServiceID{Provider: ownerSubsystem, ServiceCode: "getData"},
		regularClient, true, 100, 10, 20)

	r := httptest.NewRequest(http.MethodPost, "/query/health-data", strings.NewReader(`{}`))
	env.authorize(t, r, ownerSubsystem)
	w := httptest.NewRecorder()
	env.handler.HandleHealthData(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var data health.HealthData
	if err := json.NewDecoder(w.Body).Decode(&data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.MonitoringStartupTimestamp == 0 || data.StatisticsPeriodSeconds != 600 {
		t.Errorf("envelope = %+v", data)
	}
	if len(data.ServicesEvents.ServiceEvents) != 1 {
		t.Errorf("services = %d, want 1", len(data.ServicesEvents.ServiceEvents))
	}
}

func TestReadyzReflectsStore(t *testing.T) {
	env := setup(t)

	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	env.handler.Readyz(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}

	env.store.pingErr = store.ErrUnavailable
	w = httptest.NewRecorder()
	env.handler.Readyz(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
