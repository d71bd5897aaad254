// Package core defines the domain model shared by the argus detection and alerting pipeline.
//
// # Architecture Overview
//
// The core package provides:
//   - Domain types (SecurityEvent, ThreatDetectionRule, SecurityIncident, SecurityAlert)
//   - Closed enums for event types, severities, response actions and lifecycle statuses
//   - Lifecycle transition rules for incidents and alerts
//   - Shared infrastructure with no domain dependencies: Clock, CircuitBreaker, WorkerPool
//
// # Pipeline
//
//	EventInput -> detect.Processor -> SecurityEvent ---> notify.Dispatcher -> Senders
//	                  |                     |                  |
//	                  v                     v                  v
//	            detect.EventCache    storage.IncidentStore  storage.AlertStore
//
// Every type here is safe to copy by value except where a method comment says otherwise;
// stores hand out copies so callers never mutate shared state.
package core
