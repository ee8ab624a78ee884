// Package query implements the operational data and health data queries:
// request validation, role-based visibility, timestamp-cursor pagination
// and output projection.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/meshgate/opmond/internal/health"
	"github.com/meshgate/opmond/internal/logging"
	"github.com/meshgate/opmond/internal/metrics"
	"github.com/meshgate/opmond/internal/models"
	"github.com/meshgate/opmond/internal/registry"
	"github.com/meshgate/opmond/internal/store"
)

// SearchCriteria narrows an operational data query. The client criterion
// matches either side of a record, the service provider criterion only the
// service side.
type SearchCriteria struct {
	Client          *models.ClientID `json:"client,omitempty"`
	ServiceProvider *models.ClientID `json:"serviceProvider,omitempty"`
}

// OperationalDataRequest is the decoded operational data query. OutputSpec
// limits the fields of the returned records, empty meaning all fields.
type OperationalDataRequest struct {
	RecordsFrom    *int64          `json:"recordsFrom"`
	RecordsTo      *int64          `json:"recordsTo"`
	SearchCriteria *SearchCriteria `json:"searchCriteria,omitempty"`
	OutputSpec     []string        `json:"outputSpec,omitempty"`
}

func (r *OperationalDataRequest) client() *models.ClientID {
	if r.SearchCriteria == nil {
		return nil
	}
	return r.SearchCriteria.Client
}

func (r *OperationalDataRequest) serviceProvider() *models.ClientID {
	if r.SearchCriteria == nil {
		return nil
	}
	return r.SearchCriteria.ServiceProvider
}

// OperationalDataResult is one page of query results. NextRecordsFrom is
// set only when matching records beyond this page exist; resubmitting the
// query with recordsFrom = NextRecordsFrom continues the scan without
// gaps or duplicates.
type OperationalDataResult struct {
	Records         []map[string]json.RawMessage
	RecordsCount    int
	NextRecordsFrom *int64
}

// HealthFilterCriteria narrows health data to services consumed by one
// client.
type HealthFilterCriteria struct {
	Client *models.ClientID `json:"client,omitempty"`
}

type HealthDataRequest struct {
	FilterCriteria *HealthFilterCriteria `json:"filterCriteria,omitempty"`
}

func (r *HealthDataRequest) client() *models.ClientID {
	if r.FilterCriteria == nil {
		return nil
	}
	return r.FilterCriteria.Client
}

type Engine struct {
	store    store.Records
	registry *registry.Registry
	health   *health.Aggregator
	logger   *logging.Logger

	// offset keeps the most recent records out of query results while
	// buffered writes for that window may still be in flight.
	offset       time.Duration
	maxRecords   int
	queryTimeout time.Duration

	now func() time.Time
}

func NewEngine(records store.Records, reg *registry.Registry, agg *health.Aggregator,
	offsetSeconds, maxRecords int, queryTimeout time.Duration, logger *logging.Logger) *Engine {
	return &Engine{
		store:        records,
		registry:     reg,
		health:       agg,
		logger:       logger,
		offset:       time.Duration(offsetSeconds) * time.Second,
		maxRecords:   maxRecords,
		queryTimeout: queryTimeout,
		now:          time.Now,
	}
}

// queryContext bounds a store scan so a slow range query cannot hold the
// transport open indefinitely.
func (e *Engine) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.queryTimeout)
}

// QueryOperationalData runs one page of the operational data query for
// the given caller. Errors of type *Fault carry the wire fault code.
func (e *Engine) QueryOperationalData(ctx context.Context, caller models.ClientID, req *OperationalDataRequest) (*OperationalDataResult, error) {
	role := ResolveRole(e.registry, caller)

	criteria, fault := e.validate(role, caller, req)
	if fault != nil {
		metrics.QueriesTotal.WithLabelValues("operational-data", "invalid").Inc()
		return nil, fault
	}

	qctx, cancel := e.queryContext(ctx)
	defer cancel()

	records, more, err := e.store.Query(qctx, criteria)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("operational-data", "error").Inc()
		e.logger.ErrorContext(ctx, "operational data query failed",
			"caller", caller.String(), "error", err)
		if errors.Is(err, store.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			return nil, storeUnavailable()
		}
		return nil, err
	}

	result := &OperationalDataResult{
		Records:      make([]map[string]json.RawMessage, 0, len(records)),
		RecordsCount: len(records),
	}

	for i := range records {
		if role != RoleOwner {
			records[i].SecurityServerInternalIP = ""
		}
		projected, err := models.Project(&records[i], req.OutputSpec)
		if err != nil {
			return nil, err
		}
		result.Records = append(result.Records, projected)
	}

	if more && len(records) > 0 {
		next := records[len(records)-1].MonitoringDataTs + 1
		result.NextRecordsFrom = &next
	}

	metrics.QueriesTotal.WithLabelValues("operational-data", "ok").Inc()
	e.logger.InfoContext(ctx, "operational data query served",
		"caller", caller.String(), "role", role.String(),
		"records", result.RecordsCount, "more", more)

	return result, nil
}

func (e *Engine) validate(role Role, caller models.ClientID, req *OperationalDataRequest) (store.Criteria, *Fault) {
	if req.RecordsFrom == nil || req.RecordsTo == nil {
		return store.Criteria{}, invalidRequest("recordsFrom and recordsTo are required")
	}
	from, to := *req.RecordsFrom, *req.RecordsTo
	if from < 0 || to < 0 {
		return store.Criteria{}, invalidRequest("recordsFrom and recordsTo must not be negative")
	}
	if to < from {
		return store.Criteria{}, invalidRequest("recordsTo must not precede recordsFrom")
	}

	// Records from the trailing offset window are not served yet: their
	// batch may still sit in a proxy buffer. The cutoff instant itself is
	// inside the window, so recordsFrom must fall strictly before it.
	cutoff := e.now().Add(-e.offset)
	if !time.Unix(from, 0).Before(cutoff) {
		return store.Criteria{}, invalidRequest(
			"records are available before %d, requested from %d", cutoff.Unix(), from)
	}
	if availableBefore := cutoff.Unix(); to > availableBefore {
		to = availableBefore
	}

	if err := models.ValidateOutputSpec(req.OutputSpec); err != nil {
		return store.Criteria{}, invalidRequest("%s", err.Error())
	}

	for _, id := range []*models.ClientID{req.client(), req.serviceProvider()} {
		if id != nil {
			if err := id.Validate(); err != nil {
				return store.Criteria{}, invalidRequest("%s", err.Error())
			}
		}
	}

	criteria := effectiveCriteria(role, caller, req, e.maxRecords)
	criteria.RecordsFrom = from
	criteria.RecordsTo = to
	return criteria, nil
}

// QueryHealthData serves per-service health statistics. Only the owner
// and the central monitoring client may look at other clients' traffic; a
// regular client's view is pinned to the services it consumed itself.
func (e *Engine) QueryHealthData(ctx context.Context, caller models.ClientID, req *HealthDataRequest) (*health.HealthData, error) {
	role := ResolveRole(e.registry, caller)

	filter := req.client()
	if role == RoleRegularClient {
		if filter != nil && !caller.Matches(*filter) {
			metrics.QueriesTotal.WithLabelValues("health-data", "denied").Inc()
			return nil, accessDenied("client %s may not query health data filtered by %s",
				caller, *filter)
		}
		filter = &caller
	}
	if filter != nil {
		if err := filter.Validate(); err != nil {
			metrics.QueriesTotal.WithLabelValues("health-data", "invalid").Inc()
			return nil, invalidRequest("%s", err.Error())
		}
		// The owner's own identity means the unfiltered view.
		if e.registry.IsOwner(*filter) && role != RoleRegularClient {
			filter = nil
		}
	}

	data := e.health.Snapshot(filter)

	metrics.QueriesTotal.WithLabelValues("health-data", "ok").Inc()
	e.logger.InfoContext(ctx, "health data query served",
		"caller", caller.String(), "role", role.String(),
		"services", len(data.ServicesEvents.ServiceEvents))

	return &data, nil
}
