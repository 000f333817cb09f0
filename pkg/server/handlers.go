package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/credalabs/credence/pkg/audit"
	"github.com/credalabs/credence/pkg/governance"
)

// decodeBody decodes the JSON request body into v, rejecting unknown
// fields so typos surface as 400s instead of silent defaults.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, r, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// approverFor resolves the approver identity for execute and outcome
// calls: the authenticated subject wins; the body field is honored
// only when auth is disabled.
func (s *Server) approverFor(r *http.Request, bodyApprover string) string {
	if p, ok := PrincipalFrom(r.Context()); ok && p.Subject != "" {
		return p.Subject
	}
	if s.validator == nil {
		return bodyApprover
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addAssumptionRequest struct {
	ID          string              `json:"id"`
	Description string              `json:"description"`
	Confidence  float64             `json:"confidence"`
	Category    governance.Category `json:"category"`
}

func (s *Server) handleAddAssumption(w http.ResponseWriter, r *http.Request) {
	var req addAssumptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, err := s.kernel.AddAssumption(req.ID, req.Description, req.Confidence, req.Category)
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// assumptionView is an assumption plus its decayed confidence at the
// time of the request.
type assumptionView struct {
	governance.Assumption
	EffectiveConfidence float64 `json:"effective_confidence"`
}

func (s *Server) handleGetAssumption(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.kernel.GetAssumption(id)
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	eff, err := s.kernel.EffectiveConfidence(id, s.clock.Now().UTC())
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assumptionView{Assumption: a, EffectiveConfidence: eff})
}

func (s *Server) handleListAssumptions(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now().UTC()
	assumptions := s.kernel.Assumptions()
	views := make([]assumptionView, 0, len(assumptions))
	for _, a := range assumptions {
		eff, err := s.kernel.EffectiveConfidence(a.ID, now)
		if err != nil {
			writeInternal(w, r, err)
			return
		}
		views = append(views, assumptionView{Assumption: a, EffectiveConfidence: eff})
	}
	writeJSON(w, http.StatusOK, views)
}

type revalidateRequest struct {
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (s *Server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	var req revalidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, err := s.kernel.RevalidateAssumption(r.PathValue("id"), req.Confidence, req.Reason, s.clock.Now().UTC())
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type adjustRequest struct {
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason"`
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, err := s.kernel.AdjustConfidence(r.PathValue("id"), req.Delta, req.Reason, s.clock.Now().UTC())
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type linkRequest struct {
	SupportID string `json:"support_id"`
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.kernel.LinkAssumptions(r.PathValue("id"), req.SupportID); err != nil {
		writeKernelError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerActionRequest struct {
	ID             string          `json:"id"`
	Description    string          `json:"description"`
	DependsOn      []string        `json:"depends_on"`
	Criticality    int             `json:"criticality"`
	NoDependencies bool            `json:"no_dependencies,omitempty"`
	Guard          string          `json:"guard,omitempty"`
	ContextSchema  json.RawMessage `json:"context_schema,omitempty"`
}

func (s *Server) handleRegisterAction(w http.ResponseWriter, r *http.Request) {
	var req registerActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var opts []governance.ActionOption
	if req.NoDependencies {
		opts = append(opts, governance.WithNoDependencies())
	}
	if req.Guard != "" {
		opts = append(opts, governance.WithGuard(req.Guard))
	}
	if len(req.ContextSchema) > 0 {
		opts = append(opts, governance.WithContextSchema(req.ContextSchema))
	}
	a, err := s.kernel.RegisterAction(req.ID, req.Description, req.DependsOn, req.Criticality, opts...)
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	a, err := s.kernel.GetAction(r.PathValue("id"))
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.kernel.Actions())
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	ev, err := s.kernel.EvaluateAction(r.PathValue("id"), s.clock.Now().UTC())
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type executeRequest struct {
	Approver string         `json:"approver,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	// The body is optional here, so an empty one (including chunked
	// requests, where ContentLength is unknown) must not be a 400.
	var req executeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, r, "invalid request body: "+err.Error())
		return
	}
	ev, err := s.kernel.ExecuteAction(r.PathValue("id"), s.approverFor(r, req.Approver), req.Context)
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type outcomeRequest struct {
	Outcome  governance.Outcome `json:"outcome"`
	Approver string             `json:"approver,omitempty"`
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := s.kernel.RecordOutcome(r.PathValue("id"), req.Outcome, s.approverFor(r, req.Approver), s.clock.Now().UTC())
	if err != nil {
		writeKernelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.kernel.State())
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	f := audit.Filter{
		Kind:    audit.Kind(r.URL.Query().Get("kind")),
		Subject: r.URL.Query().Get("subject"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeBadRequest(w, r, "limit must be a non-negative integer")
			return
		}
		f.Limit = limit
	}
	writeJSON(w, http.StatusOK, s.kernel.AuditLog().Query(f))
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if err := s.kernel.AuditLog().VerifyChain(); err != nil {
		writeKernelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"entries": s.kernel.AuditLog().Len(),
		"head":    s.kernel.AuditLog().Head(),
	})
}
