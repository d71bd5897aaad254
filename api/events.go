package api

import (
	"net/http"

	"argus/core"

	"github.com/go-playground/validator/v10"
)

// eventRequest is the ingestion DTO. Only shape is validated here; the processor owns semantics.
type eventRequest struct {
	Type     string `json:"type" validate:"required,event_type"`
	Severity string `json:"severity,omitempty" validate:"omitempty,severity"`
	SourceIP string `json:"source_ip" validate:"required,ip"`
	UserID   string `json:"user_id,omitempty" validate:"omitempty,max=256"`
	Request  struct {
		URL       string `json:"url,omitempty" validate:"omitempty,max=2048"`
		Method    string `json:"method,omitempty" validate:"omitempty,max=16"`
		UserAgent string `json:"user_agent,omitempty" validate:"omitempty,max=1024"`
	} `json:"request"`
	Metadata map[string]interface{} `json:"metadata,omitempty" validate:"omitempty,max=64"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for empty tags or nil funcs
	_ = v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
		_, err := core.ParseEventType(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		_, err := core.ParseSeverity(fl.Field().String())
		return err == nil
	})
	return v
}

// toInput converts a validated request into processor input
func (req *eventRequest) toInput() core.EventInput {
	in := core.EventInput{
		SourceIP: req.SourceIP,
		UserID:   req.UserID,
		Request: core.RequestInfo{
			URL:       req.Request.URL,
			Method:    req.Request.Method,
			UserAgent: req.Request.UserAgent,
		},
		Metadata: req.Metadata,
	}
	in.Type, _ = core.ParseEventType(req.Type)
	if req.Severity != "" {
		in.Severity, _ = core.ParseSeverity(req.Severity)
	}
	return in
}

// ingestEvent runs one event through the pipeline and returns the processed result
func (a *API) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event: "+validationSummary(err), err, a.logger)
		return
	}

	event := a.processor.Process(r.Context(), req.toInput())
	a.logger.Debugw("Event ingested",
		"event_id", event.ID,
		"type", event.Type,
		"severity", event.Severity,
		"risk_score", event.RiskScore)
	a.writeJSON(w, event, http.StatusOK)
}

// validationSummary names the failing fields without echoing their values
func validationSummary(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "malformed request"
	}
	msg := ""
	for i, fe := range verrs {
		if i > 0 {
			msg += ", "
		}
		msg += fe.Namespace() + " failed " + fe.Tag()
	}
	return msg
}
