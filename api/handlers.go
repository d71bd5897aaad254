package api

import (
	"errors"
	"net/http"
	"time"

	"argus/core"
	"argus/storage"

	"github.com/gorilla/mux"
)

type incidentStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type acknowledgeRequest struct {
	UserID string `json:"user_id" validate:"required,max=256"`
}

func (a *API) getSecurityStats(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, a.processor.Stats(), http.StatusOK)
}

func (a *API) getAlertStats(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, a.alerts.Stats(), http.StatusOK)
}

// getIncidents lists incidents newest first, optionally filtered by ?status=
func (a *API) getIncidents(w http.ResponseWriter, r *http.Request) {
	var status core.IncidentStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := core.ParseIncidentStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
			return
		}
		status = parsed
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	incidents := a.incidents.List(status, limit)
	if incidents == nil {
		incidents = []*core.SecurityIncident{}
	}
	a.writeJSON(w, incidents, http.StatusOK)
}

func (a *API) getIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := a.incidents.Get(mux.Vars(r)["id"])
	if err != nil {
		a.writeLookupError(w, "Incident", err)
		return
	}
	a.writeJSON(w, incident, http.StatusOK)
}

// updateIncident applies a lifecycle transition
func (a *API) updateIncident(w http.ResponseWriter, r *http.Request) {
	var req incidentStatusRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request: "+validationSummary(err), err, a.logger)
		return
	}
	status, err := core.ParseIncidentStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	id := mux.Vars(r)["id"]
	incident, err := a.incidents.UpdateStatus(id, status)
	if err != nil {
		a.writeLookupError(w, "Incident", err)
		return
	}
	a.logger.Infow("Incident status changed", "incident_id", id, "status", incident.Status)
	a.writeJSON(w, incident, http.StatusOK)
}

// getAlerts lists alerts newest first, filtered by ?status=, ?severity= and ?limit=
func (a *API) getAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter storage.AlertFilter
	if raw := q.Get("status"); raw != "" {
		status, err := core.ParseAlertStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
			return
		}
		filter.Status = status
	}
	if raw := q.Get("severity"); raw != "" {
		severity, err := core.ParseSeverity(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
			return
		}
		filter.Severity = severity
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	filter.Limit = limit

	alerts := a.alerts.List(filter)
	if alerts == nil {
		alerts = []*core.SecurityAlert{}
	}
	a.writeJSON(w, alerts, http.StatusOK)
}

func (a *API) getAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := a.alerts.Get(mux.Vars(r)["id"])
	if err != nil {
		a.writeLookupError(w, "Alert", err)
		return
	}
	a.writeJSON(w, alert, http.StatusOK)
}

// acknowledgeAlert marks an alert as handled. Repeating it is harmless.
func (a *API) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request: "+validationSummary(err), err, a.logger)
		return
	}

	alert, err := a.alerts.Acknowledge(mux.Vars(r)["id"], req.UserID)
	if err != nil {
		a.writeLookupError(w, "Alert", err)
		return
	}
	a.writeJSON(w, alert, http.StatusOK)
}

// writeLookupError maps store errors onto HTTP statuses
func (a *API) writeLookupError(w http.ResponseWriter, kind string, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, kind+" not found", err, a.logger)
	case errors.Is(err, core.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error(), err, a.logger)
	default:
		writeError(w, http.StatusInternalServerError, "Failed to access "+kind, err, a.logger)
	}
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}
