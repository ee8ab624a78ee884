// Package store persists operational records and serves time-range scans
// over them. Records are ordered by (monitoring_data_ts, seq) so that the
// timestamp pagination cursor is stable: seq is a monotonic insertion
// sequence breaking ties between records logged within the same second.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/meshgate/opmond/internal/models"
)

// ErrUnavailable marks backend connectivity failures and timeouts. The
// query engine maps it to a fault code distinct from validation faults so
// callers can decide to retry.
var ErrUnavailable = errors.New("record store unavailable")

// Criteria selects records for a range scan.
//
// EitherSide entries each must match the client or the service side of a
// record (member-level identifiers match all subsystems of the member).
// ServiceSide must match the service-provider side only. All predicates
// are conjunctive: criteria only ever narrow a result set.
type Criteria struct {
	RecordsFrom int64
	RecordsTo   int64

	EitherSide  []models.ClientID
	ServiceSide *models.ClientID

	// Limit is the soft page size. A page is never cut inside a group of
	// records sharing monitoring_data_ts, so a result may exceed Limit
	// when one second holds more matching records than the limit.
	Limit int
}

// Records is a store interface consumed by the ingestion buffer and the
// query engine.
type Records interface {
	// Append writes a batch of records. Appends are at-least-once;
	// duplicate batches after a retried flush are tolerated.
	Append(ctx context.Context, batch []models.OperationalRecord) error

	// Query returns matching records ordered by (monitoring_data_ts, seq)
	// and reports whether matching records beyond the returned page exist.
	Query(ctx context.Context, c Criteria) ([]models.OperationalRecord, bool, error)

	// Cleanup deletes records with monitoring_data_ts older than the
	// given time and returns the number of deleted rows.
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)

	// Ping reports backend reachability, used by the readiness probe.
	Ping(ctx context.Context) error

	Close()
}
