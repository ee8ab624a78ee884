package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meshgate/opmond/internal/metrics"
	"github.com/meshgate/opmond/internal/models"
)

var recordColumnList = []string{
	"monitoring_data_ts", "security_server_internal_ip", "security_server_type",
	"request_in_ts", "request_out_ts", "response_in_ts", "response_out_ts",
	"client_xroad_instance", "client_member_class", "client_member_code", "client_subsystem_code",
	"service_xroad_instance", "service_member_class", "service_member_code", "service_subsystem_code",
	"service_code", "service_version", "service_type",
	"represented_party_class", "represented_party_code",
	"message_id", "message_user_id", "message_issue", "message_protocol_version", "x_request_id",
	"request_size", "request_mime_size", "request_attachment_count",
	"response_size", "response_mime_size", "response_attachment_count",
	"succeeded", "status_code", "fault_code", "fault_string",
}

var recordColumns = strings.Join(recordColumnList, ", ")

// PostgresStore implements Records on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping record store: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, batch []models.OperationalRecord) error {
	if len(batch) == 0 {
		return nil
	}

	started := time.Now()

	rows := make([][]any, 0, len(batch))
	for i := range batch {
		r := &batch[i]
		rows = append(rows, []any{
			r.MonitoringDataTs, nullStr(r.SecurityServerInternalIP), r.SecurityServerType,
			r.RequestInTs, r.RequestOutTs, r.ResponseInTs, r.ResponseOutTs,
			r.ClientXRoadInstance, r.ClientMemberClass, r.ClientMemberCode, nullStr(r.ClientSubsystemCode),
			r.ServiceXRoadInstance, r.ServiceMemberClass, r.ServiceMemberCode, nullStr(r.ServiceSubsystemCode),
			nullStr(r.ServiceCode), nullStr(r.ServiceVersion), nullStr(r.ServiceType),
			nullStr(r.RepresentedPartyClass), nullStr(r.RepresentedPartyCode),
			nullStr(r.MessageID), nullStr(r.MessageUserID), nullStr(r.MessageIssue),
			nullStr(r.MessageProtocolVersion), nullStr(r.XRequestID),
			r.RequestSize, r.RequestMimeSize, r.RequestAttachmentCount,
			r.ResponseSize, r.ResponseMimeSize, r.ResponseAttachmentCount,
			r.Succeeded, r.StatusCode, nullStr(r.FaultCode), nullStr(r.FaultString),
		})
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"operational_records"},
		recordColumnList,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to append %d records: %v", ErrUnavailable, len(batch), err)
	}

	metrics.StoreAppendDuration.Observe(time.Since(started).Seconds())
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, c Criteria) ([]models.OperationalRecord, bool, error) {
	started := time.Now()
	defer func() {
		metrics.StoreQueryDuration.Observe(time.Since(started).Seconds())
	}()

	where, args := buildPredicate(c)

	// Fetch one row past the limit to detect overflow.
	query := fmt.Sprintf(`SELECT %s FROM operational_records WHERE %s
		ORDER BY monitoring_data_ts, seq LIMIT %d`, recordColumns, where, c.Limit+1)

	records, err := s.fetch(ctx, query, args)
	if err != nil {
		return nil, false, err
	}

	if len(records) <= c.Limit {
		return records, false, nil
	}

	// The page never cuts inside one second: keep everything up to the
	// timestamp of the last record within the limit, then pull in the
	// rest of that second.
	boundary := records[c.Limit-1].MonitoringDataTs

	page := records[:0:0]
	for i := range records {
		if records[i].MonitoringDataTs < boundary {
			page = append(page, records[i])
		}
	}

	boundaryWhere, boundaryArgs := buildPredicate(Criteria{
		RecordsFrom: boundary,
		RecordsTo:   boundary,
		EitherSide:  c.EitherSide,
		ServiceSide: c.ServiceSide,
	})
	boundaryQuery := fmt.Sprintf(`SELECT %s FROM operational_records WHERE %s
		ORDER BY monitoring_data_ts, seq`, recordColumns, boundaryWhere)

	boundaryRecords, err := s.fetch(ctx, boundaryQuery, boundaryArgs)
	if err != nil {
		return nil, false, err
	}
	page = append(page, boundaryRecords...)

	moreWhere, moreArgs := buildPredicate(Criteria{
		RecordsFrom: boundary + 1,
		RecordsTo:   c.RecordsTo,
		EitherSide:  c.EitherSide,
		ServiceSide: c.ServiceSide,
	})

	var more bool
	err = s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM operational_records WHERE %s)`, moreWhere),
		moreArgs...).Scan(&more)
	if err != nil {
		return nil, false, fmt.Errorf("%w: overflow check failed: %v", ErrUnavailable, err)
	}

	return page, more, nil
}

func (s *PostgresStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM operational_records WHERE monitoring_data_ts < $1`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup failed: %v", ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) fetch(ctx context.Context, query string, args []any) ([]models.OperationalRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: query timed out: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: query failed: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var records []models.OperationalRecord
	for rows.Next() {
		var (
			r                                              models.OperationalRecord
			internalIP, clientSubsystem, serviceSubsystem  *string
			serviceCode, serviceVersion, serviceType       *string
			repClass, repCode                              *string
			messageID, userID, issue, protocol, xRequestID *string
			faultCode, faultString                         *string
		)
		err := rows.Scan(
			&r.MonitoringDataTs, &internalIP, &r.SecurityServerType,
			&r.RequestInTs, &r.RequestOutTs, &r.ResponseInTs, &r.ResponseOutTs,
			&r.ClientXRoadInstance, &r.ClientMemberClass, &r.ClientMemberCode, &clientSubsystem,
			&r.ServiceXRoadInstance, &r.ServiceMemberClass, &r.ServiceMemberCode, &serviceSubsystem,
			&serviceCode, &serviceVersion, &serviceType,
			&repClass, &repCode,
			&messageID, &userID, &issue, &protocol, &xRequestID,
			&r.RequestSize, &r.RequestMimeSize, &r.RequestAttachmentCount,
			&r.ResponseSize, &r.ResponseMimeSize, &r.ResponseAttachmentCount,
			&r.Succeeded, &r.StatusCode, &faultCode, &faultString,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		r.SecurityServerInternalIP = deref(internalIP)
		r.ClientSubsystemCode = deref(clientSubsystem)
		r.ServiceSubsystemCode = deref(serviceSubsystem)
		r.ServiceCode = deref(serviceCode)
		r.ServiceVersion = deref(serviceVersion)
		r.ServiceType = deref(serviceType)
		r.RepresentedPartyClass = deref(repClass)
		r.RepresentedPartyCode = deref(repCode)
		r.MessageID = deref(messageID)
		r.MessageUserID = deref(userID)
		r.MessageIssue = deref(issue)
		r.MessageProtocolVersion = deref(protocol)
		r.XRequestID = deref(xRequestID)
		r.FaultCode = deref(faultCode)
		r.FaultString = deref(faultString)

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating records: %v", ErrUnavailable, err)
	}
	return records, nil
}

// buildPredicate renders the criteria as a WHERE clause with positional
// args. Every criterion is conjunctive.
func buildPredicate(c Criteria) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	clauses = append(clauses,
		fmt.Sprintf("monitoring_data_ts BETWEEN %s AND %s", arg(c.RecordsFrom), arg(c.RecordsTo)))

	sideMatch := func(prefix string, id models.ClientID) string {
		match := fmt.Sprintf("%s_xroad_instance = %s AND %s_member_class = %s AND %s_member_code = %s",
			prefix, arg(id.Instance), prefix, arg(id.MemberClass), prefix, arg(id.MemberCode))
		if !id.IsMember() {
			match += fmt.Sprintf(" AND %s_subsystem_code = %s", prefix, arg(id.SubsystemCode))
		}
		return match
	}

	for _, id := range c.EitherSide {
		clauses = append(clauses,
			fmt.Sprintf("((%s) OR (%s))", sideMatch("client", id), sideMatch("service", id)))
	}

	if c.ServiceSide != nil {
		clauses = append(clauses, fmt.Sprintf("(%s)", sideMatch("service", *c.ServiceSide)))
	}

	return strings.Join(clauses, " AND "), args
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
