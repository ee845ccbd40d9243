// Package handlers processes the requests clients send over their
// connection.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/telhawk-systems/resulthub/common/logging"
	"github.com/telhawk-systems/resulthub/internal/activity"
	"github.com/telhawk-systems/resulthub/internal/metrics"
	"github.com/telhawk-systems/resulthub/internal/models"
	"github.com/telhawk-systems/resulthub/internal/store"
	"github.com/telhawk-systems/resulthub/internal/tokens"
)

// Connections is the part of the registry the handler mutates.
type Connections interface {
	Send(id string, env models.Envelope) error
	SetIdentity(id string, identity *tokens.Identity) error
	Identity(id string) *tokens.Identity
	SetSubscription(id, session string) error
	Subscription(id string) string
}

// DetailEnricher inlines the images a detail record references.
type DetailEnricher interface {
	Attach(ctx context.Context, rec models.Record, refs models.Refs) models.Record
}

// Handler dispatches client requests by request_type.
type Handler struct {
	conns        Connections
	verifier     tokens.Verifier
	store        store.Store
	kinds        *store.Kinds
	enricher     DetailEnricher
	activity     *activity.Recorder
	queryTimeout time.Duration
	logger       *logging.Logger
}

// Config wires the handler's collaborators.
type Config struct {
	Connections  Connections
	Verifier     tokens.Verifier
	Store        store.Store
	Kinds        *store.Kinds
	Enricher     DetailEnricher
	Activity     *activity.Recorder
	QueryTimeout time.Duration
	Logger       *logging.Logger
}

func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Kinds == nil {
		cfg.Kinds = store.NewKinds()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	return &Handler{
		conns:        cfg.Connections,
		verifier:     cfg.Verifier,
		store:        cfg.Store,
		kinds:        cfg.Kinds,
		enricher:     cfg.Enricher,
		activity:     cfg.Activity,
		queryTimeout: cfg.QueryTimeout,
		logger:       cfg.Logger,
	}
}

// Handle processes one inbound message from connID. It never returns an
// error: every failure is either logged or answered on the same connection.
func (h *Handler) Handle(ctx context.Context, connID string, raw []byte) {
	logger := h.logger.WithContext(ctx).With(logging.ConnID(connID))

	var req models.ClientRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logger.Warn("dropping malformed request", logging.Error(err))
		return
	}
	logger = logger.With(logging.RequestType(req.RequestType))

	if req.RequestType == models.RequestInitialize {
		h.initialize(logger, connID, &req)
		return
	}

	identity := h.conns.Identity(connID)
	if identity == nil {
		metrics.RequestsTotal.WithLabelValues(req.RequestType, metrics.OutcomeUnauthorized).Inc()
		logger.Debug("ignoring request on unauthenticated connection")
		return
	}
	logger = logger.With(logging.UserID(identity.UserID))

	switch req.RequestType {
	case models.RequestSetSession:
		h.setSession(logger, connID, identity, req.SessionID)
	case models.RequestUnsetSession:
		h.setSession(logger, connID, identity, "")
	case models.RequestGetResults:
		h.getResults(ctx, logger, connID, identity, &req)
	case models.RequestGetResultDetails:
		h.getResultDetails(ctx, logger, connID, identity, &req)
	case models.RequestUpdateResult:
		h.updateResult(ctx, logger, identity, &req)
	default:
		metrics.RequestsTotal.WithLabelValues("unknown", metrics.OutcomeError).Inc()
		logger.Warn("unknown request type")
	}
}

func (h *Handler) initialize(logger *logging.Logger, connID string, req *models.ClientRequest) {
	identity, err := h.verifier.Verify(req.Token)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(req.RequestType, metrics.OutcomeUnauthorized).Inc()
		logger.Warn("token verification failed", logging.Error(err))
		h.reply(logger, connID, models.AuthFailureEnvelope())
		return
	}

	if err := h.conns.SetIdentity(connID, identity); err != nil {
		logger.Warn("connection vanished during initialize", logging.Error(err))
		return
	}
	metrics.RequestsTotal.WithLabelValues(req.RequestType, metrics.OutcomeOK).Inc()
	logger.Info("connection authenticated", logging.UserID(identity.UserID))
}

// setSession applies a subscription change. An empty session unsets it.
func (h *Handler) setSession(logger *logging.Logger, connID string, identity *tokens.Identity, session string) {
	requestType := models.RequestSetSession
	if session == "" {
		requestType = models.RequestUnsetSession
	} else if !identity.AllowsSession(session) {
		metrics.RequestsTotal.WithLabelValues(requestType, metrics.OutcomeRefused).Inc()
		logger.Warn("session outside permitted scope", logging.SessionID(session))
		return
	}

	if err := h.conns.SetSubscription(connID, session); err != nil {
		logger.Warn("failed to set subscription", logging.Error(err))
		return
	}
	metrics.RequestsTotal.WithLabelValues(requestType, metrics.OutcomeOK).Inc()
	logger.Debug("subscription changed", logging.SessionID(session))
}

func (h *Handler) getResults(ctx context.Context, logger *logging.Logger, connID string, identity *tokens.Identity, req *models.ClientRequest) {
	fail := func(reason string) {
		metrics.RequestsTotal.WithLabelValues(req.RequestType, metrics.OutcomeError).Inc()
		h.reply(logger, connID, models.FailureEnvelope(models.MsgTypeResults, reason))
	}

	session := req.SessionID
	if session == "" {
		session = h.conns.Subscription(connID)
	}
	if session == "" {
		fail("session_id is required")
		return
	}
	if !identity.AllowsSession(session) {
		logger.Warn("results requested outside permitted scope", logging.SessionID(session))
		fail("session not permitted")
		return
	}

	namespace, class := models.SplitDataType(req.DataType)
	filter, err := h.kinds.ClassFilter(namespace, class)
	if err != nil {
		logger.Warn("unknown result class", "data_type", req.DataType)
		fail(err.Error())
		return
	}

	results := []models.Record{}
	if !filter.MatchesNothing() {
		queryCtx, cancel := context.WithTimeout(ctx, h.queryTimeout)
		defer cancel()
		results, err = h.store.ListResults(queryCtx, session, filter)
	}
	if err != nil {
		logger.Error("failed to list results", logging.SessionID(session), logging.Error(err))
		fail("failed to load results")
		return
	}
	if results == nil {
		results = []models.Record{}
	}

	metrics.RequestsTotal.WithLabelValues(req.RequestType, metrics.OutcomeOK).Inc()
	h.reply(logger, connID, models.ResultsEnvelope(results))
	h.activity.Record(identity.UserID, req.RequestType, activitySubtype(req), session)
}

func (h *Handler) getResultDetails(ctx context.Context, logger *logging.Logger, connID string, identity *tokens.Identity, req *models.ClientRequest) {
	fail := func(reason string) {
		metrics.RequestsTotal.WithLabelValues(req.RequestType, metrics.OutcomeError).Inc()
		h.reply(logger, connID, models.FailureEnvelope(models.MsgTypeResultDetails, reason))
	}

	if req.DataType == "" || req.PluginType == "" || req.ResultID == "" {
		fail("data_type, plugin_type and result_id are required")
		return
	}

	namespace, _ := models.SplitDataType(req.DataType)
	kind, created := h.kinds.Lookup(namespace, req.PluginType, req.PluginVersion)
	if created {
		logger.Info("registered generic record kind", "kind", kind.Key(), logging.Index(kind.Index))
	}

	queryCtx, cancel := context.WithTimeout(ctx, h.queryTimeout)
	defer cancel()

	rec, err := h.store.GetDetail(queryCtx, kind, req.ResultID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Debug("result not found", logging.ResultID(req.ResultID), logging.Index(kind.Index))
		fail("result not found")
		return
	case err != nil:
		logger.Error("failed to load result", logging.ResultID(req.ResultID), logging.Error(err))
		fail("failed to load result")
		return
	}

	detail := h.enricher.Attach(queryCtx, rec, models.RefsFromRecord(rec))

	metrics.RequestsTotal.WithLabelValues(req.RequestType, metrics.OutcomeOK).Inc()
	h.reply(logger, connID, models.DetailEnvelope(detail))
	h.activity.Record(identity.UserID, req.RequestType, activitySubtype(req), "")
}

// updateResult sends no envelope; failures are logged only.
func (h *Handler) updateResult(ctx context.Context, logger *logging.Logger, identity *tokens.Identity, req *models.ClientRequest) {
	id, _ := req.Result["_id"].(string)
	if id == "" {
		metrics.RequestsTotal.WithLabelValues(req.RequestType, metrics.OutcomeError).Inc()
		logger.Warn("update_result without result._id")
		return
	}

	queryCtx, cancel := context.WithTimeout(ctx, h.queryTimeout)
	defer cancel()

	if err := h.store.UpdateResult(queryCtx, id, req.Result); err != nil {
		metrics.RequestsTotal.WithLabelValues(req.RequestType, metrics.OutcomeError).Inc()
		logger.Error("failed to update result", logging.ResultID(id), logging.Error(err))
		return
	}

	metrics.RequestsTotal.WithLabelValues(req.RequestType, metrics.OutcomeOK).Inc()
	h.activity.Record(identity.UserID, req.RequestType, activitySubtype(req), "")
}

func (h *Handler) reply(logger *logging.Logger, connID string, env models.Envelope) {
	if err := h.conns.Send(connID, env); err != nil {
		logger.Warn("failed to send reply", logging.MsgType(env.MsgType), logging.Error(err))
	}
}

func activitySubtype(req *models.ClientRequest) string {
	return req.DataType + "_" + req.PluginType
}
