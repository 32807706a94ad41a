package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"
	"connectsphere/internal/core/services"
	apperrors "connectsphere/pkg/errors"
	"connectsphere/pkg/tracing"
	"connectsphere/pkg/utils"
	"connectsphere/pkg/validation"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type GatewayConfig struct {
	RequireAuth       bool
	MaxBodyBytes      int
	BroadcastPresence bool
	PushFallback      bool
	PushTimeout       time.Duration
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		MaxBodyBytes:      64 * 1024,
		BroadcastPresence: true,
		PushFallback:      true,
		PushTimeout:       5 * time.Second,
	}
}

// GatewayDeps are the components the gateway routes into. Auth and Push
// are optional.
type GatewayDeps struct {
	Hub      *Hub
	Registry ports.ConnectionRegistry
	Presence ports.PresenceTracker
	Relay    ports.RelayEngine
	Calls    ports.CallManager
	Auth     services.AuthService
	Push     ports.PushDispatcher
	Metrics  ports.MetricsRecorder
}

// Gateway translates transport events into calls on the core components.
// Its only state is the hub of live handles.
type Gateway struct {
	cfg      GatewayConfig
	hub      *Hub
	registry ports.ConnectionRegistry
	presence ports.PresenceTracker
	relay    ports.RelayEngine
	calls    ports.CallManager
	auth     services.AuthService
	push     ports.PushDispatcher
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger

	pushWG sync.WaitGroup
}

var _ ports.SignalingGateway = (*Gateway)(nil)

func NewGateway(cfg GatewayConfig, deps GatewayDeps, logger *zap.SugaredLogger) *Gateway {
	if deps.Metrics == nil {
		deps.Metrics = services.NopMetrics{}
	}
	g := &Gateway{
		cfg:      cfg,
		hub:      deps.Hub,
		registry: deps.Registry,
		presence: deps.Presence,
		relay:    deps.Relay,
		calls:    deps.Calls,
		auth:     deps.Auth,
		push:     deps.Push,
		metrics:  deps.Metrics,
		logger:   logger,
	}
	if deps.Presence != nil {
		deps.Presence.Subscribe(g.onPresence)
	}
	return g
}

func (g *Gateway) OnConnect(t ports.Transport, remoteAddr string) domain.ConnectionID {
	conn := g.registry.Register(remoteAddr)
	g.hub.Attach(conn.ID, t)
	g.metrics.ConnectionOpened()

	g.logger.Debugw("connection opened", "connection_id", conn.ID, "remote_addr", remoteAddr)
	return conn.ID
}

// OnDisconnect unbinds the connection. The registry change cascades into
// presence and, once the user is confirmed offline, into the call manager.
func (g *Gateway) OnDisconnect(id domain.ConnectionID) {
	g.hub.Detach(id)

	conn, err := g.registry.Unbind(id)
	if err != nil {
		g.logger.Debugw("disconnect for unknown connection", "connection_id", id)
		return
	}
	g.metrics.ConnectionClosed()

	g.logger.Infow("connection closed",
		"connection_id", id,
		"user_id", conn.UserID,
		"duration", utils.FormatDuration(time.Since(conn.CreatedAt)),
	)
}

func (g *Gateway) OnMessage(ctx context.Context, id domain.ConnectionID, raw []byte) {
	var env domain.Envelope

	defer func() {
		if r := recover(); r != nil {
			g.logger.Errorw("panic while handling event",
				"connection_id", id,
				"kind", env.Kind,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			g.replyError(id, &env, apperrors.NewInternalError("internal error"))
		}
	}()

	g.registry.Touch(id)
	conn, ok := g.registry.Get(id)
	if !ok {
		g.logger.Debugw("event for unknown connection dropped", "connection_id", id)
		return
	}

	if err := json.Unmarshal(raw, &env); err != nil {
		g.logger.Debugw("malformed frame", "connection_id", id, "frame", utils.TruncateString(string(raw), 256))
		g.reject(ctx, conn, &env, fmt.Errorf("%w: malformed envelope: %v", domain.ErrValidation, err))
		return
	}

	ctx, span := tracing.TraceInboundEvent(ctx, env.Kind, string(id))
	defer span.End()

	var err error
	switch {
	case env.Kind == domain.KindJoin:
		err = g.handleJoin(ctx, conn, &env)
	case env.Kind == "":
		err = fmt.Errorf("%w: kind is required", domain.ErrValidation)
	case !conn.IsBound():
		err = apperrors.NewUnauthorizedError("join before sending events")
	case domain.EventKind(env.Kind).IsRelay():
		err = g.handleRelay(ctx, conn, &env)
	case domain.IsCallKind(env.Kind):
		err = g.handleCall(ctx, conn, &env)
	default:
		err = fmt.Errorf("%w: unknown kind %q", domain.ErrValidation, env.Kind)
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		g.reject(ctx, conn, &env, err)
	}
}

// OnRateLimited queues the error behind frames already pending for the
// connection.
func (g *Gateway) OnRateLimited(id domain.ConnectionID) {
	g.replyError(id, &domain.Envelope{}, apperrors.NewRateLimitError())
}

// Close waits for in-flight offline dispatches.
func (g *Gateway) Close() {
	g.pushWG.Wait()
}

func (g *Gateway) handleJoin(ctx context.Context, conn *domain.Connection, env *domain.Envelope) error {
	if err := validation.ValidateIdentifier(string(env.UserID), "userId"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if g.cfg.RequireAuth {
		if g.auth == nil {
			return apperrors.NewServiceUnavailableError("authentication is not configured")
		}
		if err := g.auth.AuthorizeJoin(env.Token, env.UserID); err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, "invalid join token", http.StatusUnauthorized)
		}
	}

	if err := g.registry.Bind(conn.ID, env.UserID); err != nil {
		return err
	}

	g.send(conn.ID, &domain.Envelope{Kind: domain.KindJoined, ConnectionID: conn.ID, UserID: env.UserID})
	g.send(conn.ID, &domain.Envelope{Kind: domain.KindPresenceSnapshot, Users: g.onlineUsers()})
	for _, s := range g.calls.LiveSessionsFor(env.UserID) {
		g.send(conn.ID, callStateFrame(s))
	}

	g.logger.Infow("connection joined", "connection_id", conn.ID, "user_id", env.UserID)
	return nil
}

// onlineUsers follows the debounced tracker when there is one, so the
// snapshot matches the presence frames sent afterwards.
func (g *Gateway) onlineUsers() []domain.UserID {
	if g.presence != nil {
		return g.presence.OnlineUsers()
	}
	return g.registry.OnlineUsers()
}

func (g *Gateway) handleRelay(ctx context.Context, conn *domain.Connection, env *domain.Envelope) error {
	if env.SenderID != "" && env.SenderID != conn.UserID {
		return fmt.Errorf("%w: senderId does not match the joined user", domain.ErrValidation)
	}
	if err := g.validateRelay(env); err != nil {
		return err
	}

	ev := &domain.RelayEvent{
		ID:        env.ID,
		Kind:      domain.EventKind(env.Kind),
		SenderID:  conn.UserID,
		TargetID:  env.TargetID,
		GroupID:   env.GroupID,
		Body:      env.Body,
		CreatedAt: time.Now(),
	}
	if ev.ID == "" {
		ev.ID = utils.NewEventID()
	}

	result, err := g.relay.Deliver(ctx, ev)
	if err != nil {
		if apperrors.FromDomain(err).Code == apperrors.ErrCodeValidation {
			return err
		}
		// relay is fire-and-forget for the sender
		g.logger.Warnw("relay failed", "event_id", ev.ID, "kind", ev.Kind, "sender_id", ev.SenderID, "error", err)
		return nil
	}

	if len(result.OfflineIDs) > 0 {
		g.dispatchOffline(ev, result.OfflineIDs)
	}
	return nil
}

func (g *Gateway) validateRelay(env *domain.Envelope) error {
	hasTarget, hasGroup := env.TargetID != "", env.GroupID != ""
	switch {
	case hasTarget == hasGroup:
		return fmt.Errorf("%w: exactly one of targetId and groupId is required", domain.ErrValidation)
	case hasTarget:
		if err := validation.ValidateIdentifier(string(env.TargetID), "targetId"); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	default:
		if err := validation.ValidateIdentifier(string(env.GroupID), "groupId"); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	}
	if err := validation.ValidateJSONPayload(env.Body, g.cfg.MaxBodyBytes, "body"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// dispatchOffline hands the event to the push layer for every target with
// no live connection. It runs off the caller's goroutine.
func (g *Gateway) dispatchOffline(ev *domain.RelayEvent, users []domain.UserID) {
	if !g.cfg.PushFallback || g.push == nil {
		return
	}

	g.pushWG.Add(1)
	go func() {
		defer g.pushWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.PushTimeout)
		defer cancel()

		for _, u := range users {
			if err := g.push.DispatchOffline(ctx, u, ev); err != nil {
				g.logger.Warnw("offline dispatch failed", "event_id", ev.ID, "user_id", u, "error", err)
			}
		}
	}()
}

func (g *Gateway) handleCall(ctx context.Context, conn *domain.Connection, env *domain.Envelope) error {
	if env.From != "" && env.From != conn.UserID {
		return fmt.Errorf("%w: from does not match the joined user", domain.ErrValidation)
	}
	me := conn.UserID

	if env.Kind == domain.KindCallRequest {
		if err := validation.ValidateIdentifier(string(env.To), "to"); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		kind := env.CallKind
		if kind == "" {
			kind = domain.CallVoice
		}
		s, err := g.calls.Request(ctx, me, env.To, kind)
		if err != nil {
			return err
		}
		frame := callStateFrame(s)
		frame.Kind = domain.KindCallRequested
		g.send(conn.ID, frame)
		return nil
	}

	if err := validation.ValidateIdentifier(string(env.SessionID), "sessionId"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	trace.SpanFromContext(ctx).SetAttributes(tracing.SessionIDKey.String(string(env.SessionID)))

	switch env.Kind {
	case domain.KindCallAccept:
		s, err := g.calls.Accept(ctx, env.SessionID, me)
		if err != nil {
			return err
		}
		if s.State == domain.CallEnded {
			g.send(conn.ID, callStateFrame(s))
		}

	case domain.KindCallDecline:
		if _, err := g.calls.Decline(ctx, env.SessionID, me); err != nil {
			return err
		}

	case domain.KindCallSignal:
		if err := validation.ValidateJSONPayload(env.Payload, g.cfg.MaxBodyBytes, "payload"); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		if err := validateSignalPayload(env.Payload); err != nil {
			return err
		}
		return g.calls.Signal(ctx, env.SessionID, me, env.Payload)

	case domain.KindCallEnd:
		if _, err := g.calls.End(ctx, env.SessionID, me); err != nil {
			return err
		}
	}
	return nil
}

// onPresence runs under the presence tracker's lock; it may only push.
func (g *Gateway) onPresence(ev domain.PresenceEvent) {
	g.metrics.SetOnlineUsers(g.registry.Stats().OnlineUsers)

	if ev.Status == domain.PresenceOffline {
		g.calls.OnUserOffline(ev.UserID)
	}
	if !g.cfg.BroadcastPresence {
		return
	}

	frame, err := encode(&domain.Envelope{
		Kind:      domain.KindPresence,
		UserID:    ev.UserID,
		Status:    ev.Status,
		Timestamp: ev.Timestamp.UnixMilli(),
	})
	if err != nil {
		g.logger.Errorw("failed to encode presence frame", "user_id", ev.UserID, "error", err)
		return
	}
	for _, id := range g.registry.BoundConnections() {
		if !g.hub.Push(id, frame) {
			g.metrics.FrameDropped()
		}
	}
}

func (g *Gateway) reject(ctx context.Context, conn *domain.Connection, env *domain.Envelope, err error) {
	appErr := apperrors.FromDomain(err)
	fields := []interface{}{
		"connection_id", conn.ID,
		"user_id", conn.UserID,
		"kind", env.Kind,
		"code", appErr.Code,
		"error", err,
	}
	if traceID := tracing.TraceID(ctx); traceID != "" {
		fields = append(fields, "trace_id", traceID)
	}

	switch appErr.Code {
	case apperrors.ErrCodeValidation:
		g.metrics.EnvelopeRejected(env.Kind)
		g.logger.Warnw("event rejected", fields...)
	case apperrors.ErrCodeInternal:
		g.logger.Errorw("event failed", fields...)
	default:
		g.logger.Infow("event refused", fields...)
	}
	g.replyError(conn.ID, env, appErr)
}

// replyError answers the originating connection only.
func (g *Gateway) replyError(id domain.ConnectionID, env *domain.Envelope, appErr *apperrors.AppError) {
	g.send(id, &domain.Envelope{
		Kind:      domain.KindError,
		ID:        env.ID,
		SessionID: env.SessionID,
		Code:      string(appErr.Code),
		Message:   appErr.Message,
	})
}

func (g *Gateway) send(id domain.ConnectionID, env *domain.Envelope) {
	frame, err := encode(env)
	if err != nil {
		g.logger.Errorw("failed to encode frame", "kind", env.Kind, "error", err)
		return
	}
	if !g.hub.Push(id, frame) {
		g.metrics.FrameDropped()
	}
}

func encode(env *domain.Envelope) ([]byte, error) {
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	return json.Marshal(env)
}

func callStateFrame(s domain.CallSession) *domain.Envelope {
	return &domain.Envelope{
		Kind:      domain.KindCallState,
		SessionID: s.ID,
		From:      s.CallerID,
		To:        s.CalleeID,
		CallKind:  s.Kind,
		State:     s.State,
		Reason:    s.EndReason,
	}
}
