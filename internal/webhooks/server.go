package webhooks

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CruGlobal/dot/internal/pubsub"
)

const maxBodySize = 1 << 20

// dbt Cloud marks a successful run with status code 10.
const dbtRunSuccess = 10

// Config wires the webhook server: shared secrets, topic publishers, and the
// dbt-to-Fabric job mapping.
type Config struct {
	// FivetranSecret verifies X-Fivetran-Signature-256 headers.
	FivetranSecret string
	// DBTSecret verifies dbt Cloud Authorization headers.
	DBTSecret string
	// FabricJobs maps dbt Cloud job IDs to Fabric job names.
	FabricJobs map[string]string
}

// Server handles incoming webhook requests.
type Server struct {
	cfg            Config
	fivetranEvents pubsub.Publisher
	fabricEvents   pubsub.Publisher
	jobCompleted   pubsub.Publisher
	logger         *slog.Logger
}

// NewServer creates a webhook server. Publishers for unused endpoints may be nil.
func NewServer(cfg Config, fivetranEvents, fabricEvents, jobCompleted pubsub.Publisher, logger *slog.Logger) *Server {
	return &Server{
		cfg:            cfg,
		fivetranEvents: fivetranEvents,
		fabricEvents:   fabricEvents,
		jobCompleted:   jobCompleted,
		logger:         logger,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/fivetran", s.handleFivetran)
	mux.HandleFunc("POST /webhooks/dbt", s.handleDBT)
	mux.HandleFunc("POST /webhooks/events", s.handleGeneral)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// handleFivetran verifies the hex HMAC signature and forwards the raw payload.
func (s *Server) handleFivetran(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Fivetran-Signature-256")
	if signature == "" {
		http.Error(w, "missing signature", http.StatusBadRequest)
		return
	}
	if !verifyHex([]byte(s.cfg.FivetranSecret), body, strings.ToLower(signature)) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	id, err := s.fivetranEvents.Publish(r.Context(), body, map[string]string{"source": "fivetran"})
	if err != nil {
		s.logger.Error("publish fivetran event", "error", err)
		http.Error(w, "publish failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info("forwarded fivetran event", "message_id", id)
	w.WriteHeader(http.StatusOK)
}

type dbtEvent struct {
	EventType string `json:"eventType"`
	Data      struct {
		JobID         json.Number `json:"jobId"`
		JobName       string      `json:"jobName"`
		RunID         json.Number `json:"runId"`
		RunStatus     string      `json:"runStatus"`
		RunStatusCode int         `json:"runStatusCode"`
	} `json:"data"`
}

// handleDBT verifies the Authorization HMAC, filters for successful run
// completions, and publishes a Fabric job request for mapped jobs.
func (s *Server) handleDBT(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Authorization")
	if signature == "" {
		http.Error(w, "missing signature", http.StatusBadRequest)
		return
	}
	if !verifyHex([]byte(s.cfg.DBTSecret), body, strings.ToLower(signature)) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var event dbtEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if event.EventType != "job.run.completed" ||
		(event.Data.RunStatus != "Success" && event.Data.RunStatusCode != dbtRunSuccess) {
		s.logger.Info("ignoring dbt event", "type", event.EventType, "status", event.Data.RunStatus)
		w.WriteHeader(http.StatusOK)
		return
	}

	fabricJob, ok := s.cfg.FabricJobs[event.Data.JobID.String()]
	if !ok {
		s.logger.Info("no fabric mapping for dbt job", "dbt_job_id", event.Data.JobID)
		w.WriteHeader(http.StatusOK)
		return
	}

	payload := map[string]string{
		"fabric_job": fabricJob,
		"dbt_job_id": event.Data.JobID.String(),
		"dbt_run_id": event.Data.RunID.String(),
	}
	id, err := pubsub.PublishJSON(r.Context(), s.fabricEvents, payload, map[string]string{"source": "dbt"})
	if err != nil {
		s.logger.Error("publish fabric job event", "error", err)
		http.Error(w, "publish failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info("requested fabric job", "fabric_job", fabricJob, "message_id", id)
	w.WriteHeader(http.StatusOK)
}

// handleGeneral accepts webhook events from any origin. Requests whose
// Origin points at fivetran.com are signature-verified and their connector
// details published; everything else is acknowledged and dropped.
func (s *Server) handleGeneral(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || len(payload) == 0 {
		http.Error(w, "no JSON payload received", http.StatusBadRequest)
		return
	}

	origin := r.Header.Get("Origin")
	if strings.Contains(origin, "fivetran.com") {
		s.handleFivetranEvent(w, r, body, payload)
		return
	}

	if event, _ := payload["event"].(string); event != "" {
		s.logger.Info("processing generic event", "origin", origin, "event", event)
	} else {
		s.logger.Info("processing generic payload", "origin", origin)
	}
	w.WriteHeader(http.StatusOK)
}

// handleFivetranEvent verifies the base64 signature, filters for sync
// lifecycle events, and publishes the connector details.
func (s *Server) handleFivetranEvent(w http.ResponseWriter, r *http.Request, body []byte, payload map[string]any) {
	signature := r.Header.Get("X-Fivetran-Signature")
	if signature == "" {
		http.Error(w, "missing signature", http.StatusBadRequest)
		return
	}
	if !verifyBase64([]byte(s.cfg.FivetranSecret), body, signature) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	event, _ := payload["event"].(string)
	if event == "" {
		http.Error(w, "missing event field", http.StatusBadRequest)
		return
	}
	if event != "sync_start" && event != "sync_end" {
		s.logger.Info("skipping non-sync webhook event", "event", event)
		w.WriteHeader(http.StatusOK)
		return
	}

	connectorID, _ := payload["connector_id"].(string)
	connectorName, _ := payload["connector_name"].(string)
	if connectorID == "" || connectorName == "" {
		http.Error(w, "missing connector_id or connector_name", http.StatusBadRequest)
		return
	}

	extracted := map[string]string{
		"connector_id":   connectorID,
		"connector_name": connectorName,
		"event":          event,
	}
	id, err := pubsub.PublishJSON(r.Context(), s.jobCompleted, extracted, map[string]string{"source": "fivetran"})
	if err != nil {
		s.logger.Error("publish sync event", "error", err)
		http.Error(w, "publish failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info("forwarded sync event", "connector_id", connectorID, "event", event, "message_id", id)
	w.WriteHeader(http.StatusOK)
}
