// Package health accumulates rolling per-service request statistics for
// the health data query. Statistics cover the current period only and are
// cleared on every period boundary; the last request timestamps and the
// aggregator startup timestamp survive resets.
package health

import (
	"sync"
	"time"

	"github.com/meshgate/opmond/internal/models"
)

// HealthData is the health query response payload.
type HealthData struct {
	MonitoringStartupTimestamp int64          `json:"monitoringStartupTimestamp"`
	StatisticsPeriodSeconds    int            `json:"statisticsPeriodSeconds"`
	ServicesEvents             ServicesEvents `json:"servicesEvents"`
}

type ServicesEvents struct {
	ServiceEvents []ServiceEvents `json:"serviceEvents"`
}

type ServiceEvents struct {
	Service                          models.ServiceID  `json:"service"`
	LastSuccessfulRequestTimestamp   *int64            `json:"lastSuccessfulRequestTimestamp,omitempty"`
	LastUnsuccessfulRequestTimestamp *int64            `json:"lastUnsuccessfulRequestTimestamp,omitempty"`
	LastPeriodStatistics             *PeriodStatistics `json:"lastPeriodStatistics,omitempty"`
}

// PeriodStatistics is only present when the service saw at least one event
// in the current period; duration and size figures are only present when
// at least one of those events succeeded.
type PeriodStatistics struct {
	SuccessfulRequestCount   int64 `json:"successfulRequestCount"`
	UnsuccessfulRequestCount int64 `json:"unsuccessfulRequestCount"`

	RequestMinDuration     *int64   `json:"requestMinDuration,omitempty"`
	RequestAverageDuration *float64 `json:"requestAverageDuration,omitempty"`
	RequestMaxDuration     *int64   `json:"requestMaxDuration,omitempty"`
	RequestDurationStdDev  *float64 `json:"requestDurationStdDev,omitempty"`

	RequestMinSize     *int64   `json:"requestMinSize,omitempty"`
	RequestAverageSize *float64 `json:"requestAverageSize,omitempty"`
	RequestMaxSize     *int64   `json:"requestMaxSize,omitempty"`
	RequestSizeStdDev  *float64 `json:"requestSizeStdDev,omitempty"`

	ResponseMinSize     *int64   `json:"responseMinSize,omitempty"`
	ResponseAverageSize *float64 `json:"responseAverageSize,omitempty"`
	ResponseMaxSize     *int64   `json:"responseMaxSize,omitempty"`
	ResponseSizeStdDev  *float64 `json:"responseSizeStdDev,omitempty"`
}

// Aggregator holds per-service statistics for the Producer role. It is
// safe for concurrent RecordEvent callers; the mutex is held only for the
// map update, never across I/O.
type Aggregator struct {
	startupTs int64
	period    time.Duration

	mu       sync.Mutex
	services map[string]*serviceStats

	stopCh chan struct{}
	doneCh chan struct{}

	now func() time.Time
}

type serviceStats struct {
	service       models.ServiceID
	lastSuccessTs int64
	lastFailureTs int64

	successCount int64
	failureCount int64
	duration     welford
	requestSize  welford
	responseSize welford

	// consumers seen in the current period, keyed by subsystem string.
	consumers map[string]models.ClientID
}

func New(periodSeconds int) *Aggregator {
	a := &Aggregator{
		startupTs: time.Now().UnixMilli(),
		period:    time.Duration(periodSeconds) * time.Second,
		services:  make(map[string]*serviceStats),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		now:       time.Now,
	}
	go a.run()
	return a
}

func (a *Aggregator) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

// RecordEvent registers one observed exchange for a service offered by
// this security server. Only Producer-role observations reach the
// aggregator; the caller enforces that. consumer is the client-side
// identity of the exchange and drives filtered health queries.
func (a *Aggregator) RecordEvent(service models.ServiceID, consumer models.ClientID, succeeded bool, durationMs, requestSize, responseSize int64) {
	nowMs := a.now().UnixMilli()
	key := service.String()

	a.mu.Lock()
	defer a.mu.Unlock()

	stats, ok := a.services[key]
	if !ok {
		stats = &serviceStats{
			service:   service,
			consumers: make(map[string]models.ClientID),
		}
		a.services[key] = stats
	}

	stats.consumers[consumer.String()] = consumer

	if succeeded {
		stats.successCount++
		stats.lastSuccessTs = nowMs
		stats.duration.observe(durationMs)
		stats.requestSize.observe(requestSize)
		stats.responseSize.observe(responseSize)
	} else {
		stats.failureCount++
		stats.lastFailureTs = nowMs
	}
}

// ObserveRecord feeds the aggregator from an accepted operational record.
// Only provider-side observations count: the client side of an exchange
// says nothing about the health of a service offered here.
func (a *Aggregator) ObserveRecord(r *models.OperationalRecord) {
	if r.SecurityServerType != models.SecurityServerTypeProducer || r.Succeeded == nil {
		return
	}

	var duration, requestSize, responseSize int64
	if r.RequestInTs != nil && r.ResponseOutTs != nil {
		duration = *r.ResponseOutTs - *r.RequestInTs
	}
	if r.RequestSize != nil {
		requestSize = *r.RequestSize
	}
	if r.ResponseSize != nil {
		responseSize = *r.ResponseSize
	}

	a.RecordEvent(r.ServiceID(), r.ClientSide(), *r.Succeeded, duration, requestSize, responseSize)
}

// Snapshot renders the current health data. A nil filter returns every
// service; a non-nil filter narrows to services the given client consumed
// during the current period. An identity that consumed nothing yields an
// empty (not missing) serviceEvents list.
func (a *Aggregator) Snapshot(filter *models.ClientID) HealthData {
	a.mu.Lock()
	defer a.mu.Unlock()

	data := HealthData{
		MonitoringStartupTimestamp: a.startupTs,
		StatisticsPeriodSeconds:    int(a.period / time.Second),
		ServicesEvents:             ServicesEvents{ServiceEvents: []ServiceEvents{}},
	}

	for _, stats := range a.services {
		if filter != nil && !stats.consumedBy(*filter) {
			continue
		}
		data.ServicesEvents.ServiceEvents = append(data.ServicesEvents.ServiceEvents, stats.render())
	}

	return data
}

func (s *serviceStats) consumedBy(client models.ClientID) bool {
	for _, consumer := range s.consumers {
		if client.Matches(consumer) {
			return true
		}
	}
	return false
}

func (s *serviceStats) render() ServiceEvents {
	events := ServiceEvents{Service: s.service}

	if s.lastSuccessTs > 0 {
		ts := s.lastSuccessTs
		events.LastSuccessfulRequestTimestamp = &ts
	}
	if s.lastFailureTs > 0 {
		ts := s.lastFailureTs
		events.LastUnsuccessfulRequestTimestamp = &ts
	}

	if s.successCount == 0 && s.failureCount == 0 {
		// Zero events this period: the statistics block is omitted
		// entirely rather than rendered with zero values.
		return events
	}

	stats := &PeriodStatistics{
		SuccessfulRequestCount:   s.successCount,
		UnsuccessfulRequestCount: s.failureCount,
	}

	if s.successCount > 0 {
		stats.RequestMinDuration, stats.RequestAverageDuration,
			stats.RequestMaxDuration, stats.RequestDurationStdDev = s.duration.summary()
		stats.RequestMinSize, stats.RequestAverageSize,
			stats.RequestMaxSize, stats.RequestSizeStdDev = s.requestSize.summary()
		stats.ResponseMinSize, stats.ResponseAverageSize,
			stats.ResponseMaxSize, stats.ResponseSizeStdDev = s.responseSize.summary()
	}

	events.LastPeriodStatistics = stats
	return events
}

func (a *Aggregator) run() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.reset()
		case <-a.stopCh:
			return
		}
	}
}

// reset clears all period statistics atomically. Last request timestamps
// and the startup timestamp are untouched.
func (a *Aggregator) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, stats := range a.services {
		stats.successCount = 0
		stats.failureCount = 0
		stats.duration = welford{}
		stats.requestSize = welford{}
		stats.responseSize = welford{}
		stats.consumers = make(map[string]models.ClientID)
	}
}
