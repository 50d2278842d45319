// Package orchestrator implements the Orchestrator (C8): the end-to-end
// request handler that validates the caller's bearer, resolves or
// creates a session, drives routing and decomposition, dispatches in
// parallel, combines responses, and persists history.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/orchestra/internal/a2a"
	"github.com/kadirpekel/orchestra/internal/agentmodel"
	"github.com/kadirpekel/orchestra/internal/authn"
	"github.com/kadirpekel/orchestra/internal/decomposer"
	"github.com/kadirpekel/orchestra/internal/observability"
	"github.com/kadirpekel/orchestra/internal/orcherr"
	"github.com/kadirpekel/orchestra/internal/registry"
	"github.com/kadirpekel/orchestra/internal/router"
	"github.com/kadirpekel/orchestra/internal/sessionstore"
)

// noAgentAvailableMessage is the fixed response when routing yields no
// candidates.
const noAgentAvailableMessage = "No agent is currently available to help with that request."

// Invoker is the subset of the A2A client (C5) the orchestrator needs.
type Invoker interface {
	Invoke(ctx context.Context, endpoint, bearer, subQuery, correlationID string) a2a.InvokeResult
}

// CardResolver resolves a remote agent's invocation endpoint.
type CardResolver interface {
	Get(ctx context.Context, url string) (*a2a.AgentCard, error)
}

// Resolution is the outcome of one request.
type Resolution struct {
	Response string
	SessionID string
}

// Config bounds the orchestrator's timeouts and concurrency.
type Config struct {
	RequestTimeout time.Duration
	AgentInvokeTimeout time.Duration
	ActivityWindow time.Duration
	PerAgentConcurrency int
}

// Orchestrator is the Orchestrator (C8).
type Orchestrator struct {
	auth authn.Verifier
	sessions *sessionstore.Store
	reg *registry.Registry
	rt *router.Router
	dec *decomposer.Decomposer
	invoker Invoker
	cards CardResolver
	cfg Config
	log *slog.Logger
	tracer trace.Tracer
	metrics *observability.Metrics
}

// New builds an Orchestrator. tracer and metrics may be nil to disable
// tracing/metrics respectively.
func New(auth authn.Verifier, sessions *sessionstore.Store, reg *registry.Registry, rt *router.Router, dec *decomposer.Decomposer, invoker Invoker, cards CardResolver, cfg Config, logger *slog.Logger, tracer trace.Tracer, metrics *observability.Metrics) *Orchestrator {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.AgentInvokeTimeout == 0 {
		cfg.AgentInvokeTimeout = 30 * time.Second
	}
	if cfg.ActivityWindow == 0 {
		cfg.ActivityWindow = 24 * time.Hour
	}
	if cfg.PerAgentConcurrency == 0 {
		cfg.PerAgentConcurrency = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{auth: auth, sessions: sessions, reg: reg, rt: rt, dec: dec, invoker: invoker, cards: cards, cfg: cfg, log: logger, tracer: tracer, metrics: metrics}
}

// Handle runs one end-to-end request: auth -> session ->
// route -> decompose -> dispatch -> combine -> persist.
func (o *Orchestrator) Handle(ctx context.Context, query, bearer, requestedSessionID string) (Resolution, error) {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "orchestrator.handle")
		defer span.End()
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	claims, err := o.auth.Verify(ctx, bearer)
	if err != nil {
		return Resolution{}, err
	}

	log := o.log.With("user_id", claims.UserID)

	sessionID, err := o.resolveSession(ctx, claims.UserID, requestedSessionID)
	if err != nil {
		return Resolution{}, err
	}
	log = log.With("session_id", sessionID)

	// The user message is always recorded before any dispatch, even on the empty-registry path below.
	if _, err := o.sessions.AppendMessage(ctx, sessionID, sessionstore.RoleUser, query); err != nil {
		return Resolution{}, fmt.Errorf("orchestrator: record user message: %w: %w", err, orcherr.ErrPersistFailed)
	}

	full, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Resolution{}, err
	}
	lastAgent := ""
	if full.Context != nil {
		lastAgent = full.Context.LastAgentCalled
	}

	routed, err := o.rt.Route(ctx, query, lastAgent)
	if err != nil {
		return Resolution{}, err
	}

	if len(routed.Selected) == 0 {
		if _, err := o.sessions.AppendMessage(ctx, sessionID, sessionstore.RoleAssistant, noAgentAvailableMessage); err != nil {
			return Resolution{}, fmt.Errorf("orchestrator: record assistant message: %w: %w", err, orcherr.ErrPersistFailed)
		}
		return Resolution{Response: noAgentAvailableMessage, SessionID: sessionID}, nil
	}

	subQueries, err := o.dec.Decompose(ctx, query, routed.Selected, claims.UserID)
	if err != nil {
		return Resolution{}, err
	}

	results := o.dispatch(ctx, sessionID, bearer, routed.Selected, subQueries)

	combined := combine(routed.Selected, results)
	if _, err := o.sessions.AppendMessage(ctx, sessionID, sessionstore.RoleAssistant, combined); err != nil {
		return Resolution{}, fmt.Errorf("orchestrator: record assistant message: %w: %w", err, orcherr.ErrPersistFailed)
	}

	log.Info("handled request", "agents", len(routed.Selected))
	return Resolution{Response: combined, SessionID: sessionID}, nil
}

// resolveSession finds the caller's resumable session or creates one.
func (o *Orchestrator) resolveSession(ctx context.Context, userID, requestedSessionID string) (string, error) {
	if requestedSessionID != "" {
		full, err := o.sessions.GetSession(ctx, requestedSessionID)
		if err != nil {
			return "", err
		}
		if full.Session.UserID != userID {
			return "", fmt.Errorf("orchestrator: session %q does not belong to caller: %w", requestedSessionID, orcherr.ErrUnauthorized)
		}
		if full.Session.Status == sessionstore.StatusCompleted {
			return "", fmt.Errorf("orchestrator: session %q is completed: %w", requestedSessionID, orcherr.ErrNotFound)
		}
		return requestedSessionID, nil
	}

	active, err := o.sessions.ActiveSessionForUser(ctx, userID, o.cfg.ActivityWindow)
	if err != nil {
		return "", err
	}
	if active != "" {
		return active, nil
	}
	return o.sessions.CreateSession(ctx, userID)
}

type dispatchResult struct {
	agentName string
	invoke a2a.InvokeResult
}

// dispatch invokes every selected agent concurrently, each individually
// time-bounded, recording every outcome.
func (o *Orchestrator) dispatch(ctx context.Context, sessionID, bearer string, selected []agentmodel.AgentRecord, subQueries map[string]string) []dispatchResult {
	results := make([]dispatchResult, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.PerAgentConcurrency)

	for i, agent := range selected {
		i, agent := i, agent
		g.Go(func() error {
				subQuery := subQueries[agent.Name]
				invokeCtx, cancel := context.WithTimeout(gctx, o.cfg.AgentInvokeTimeout)
				defer cancel()

				if o.tracer != nil {
					var span trace.Span
					invokeCtx, span = o.tracer.Start(invokeCtx, "a2a.invoke", trace.WithAttributes(
						attribute.String("agent.name", agent.Name),
					))
					defer span.End()
				}

				res := o.invokeOne(invokeCtx, agent, bearer, subQuery, sessionID)
				results[i] = dispatchResult{agentName: agent.Name, invoke: res}

				if o.metrics != nil {
					o.metrics.RecordAgentCall(agent.Name, res.Success, time.Duration(res.DurationMS)*time.Millisecond)
				}

				_ = o.sessions.RecordInvocation(ctx, sessionstore.Invocation{
						SessionID: sessionID, AgentName: agent.Name, Query: subQuery,
						Response: res.Response, Success: res.Success, ErrorMessage: res.ErrorMessage,
						DurationMS: res.DurationMS,
				})
				return nil // individual agent failures are never fatal
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) invokeOne(ctx context.Context, agent agentmodel.AgentRecord, bearer, subQuery, correlationID string) a2a.InvokeResult {
	if ctx.Err() != nil {
		return a2a.InvokeResult{Success: false, ErrorMessage: "cancelled"}
	}

	switch agent.Kind {
	case agentmodel.KindLocal:
		local, err := o.reg.ResolveLocal(agent)
		if err != nil {
			return a2a.InvokeResult{Success: false, ErrorMessage: "agent unavailable"}
		}
		start := time.Now()
		text, err := local.Invoke(ctx, subQuery)
		if err != nil {
			if ctx.Err() != nil {
				return a2a.InvokeResult{Success: false, ErrorMessage: "cancelled", DurationMS: time.Since(start).Milliseconds()}
			}
			return a2a.InvokeResult{Success: false, ErrorMessage: "agent error", DurationMS: time.Since(start).Milliseconds()}
		}
		return a2a.InvokeResult{Success: true, Response: text, DurationMS: time.Since(start).Milliseconds()}

	case agentmodel.KindRemote:
		card, err := o.cards.Get(ctx, agent.AgentCardURL)
		if err != nil {
			return a2a.InvokeResult{Success: false, ErrorMessage: "agent unreachable"}
		}
		return o.invoker.Invoke(ctx, card.Endpoints.Invoke, bearer, subQuery, correlationID)

	default:
		return a2a.InvokeResult{Success: false, ErrorMessage: "unknown agent kind"}
	}
}

// combine builds the user-visible response: the sole
// agent's text for a single selection, or sectioned output ordered by
// Stage-1 score for multiple.
func combine(selected []agentmodel.AgentRecord, results []dispatchResult) string {
	if len(selected) == 1 {
		r := results[0]
		if r.invoke.Success {
			return r.invoke.Response
		}
		return failureAnnotation(r.agentName)
	}

	byName := make(map[string]dispatchResult, len(results))
	for _, r := range results {
		byName[r.agentName] = r
	}

	// selected is already in Stage-1 score order.
	var b strings.Builder
	for i, agent := range selected {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("### " + agent.Name + "\n")
		r := byName[agent.Name]
		if r.invoke.Success {
			b.WriteString(r.invoke.Response)
		} else {
			b.WriteString(failureAnnotation(agent.Name))
		}
	}
	return b.String()
}

func failureAnnotation(agentName string) string {
	return fmt.Sprintf("%s was unable to respond at this time.", agentName)
}
