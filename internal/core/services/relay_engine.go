package services

import (
	"context"
	"fmt"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"
	"connectsphere/pkg/cache"
	"connectsphere/pkg/tracing"

	"go.uber.org/zap"
)

type RelayConfig struct {
	// SelfEchoKinds are also pushed to every connection of the sender.
	SelfEchoKinds     []domain.EventKind
	DirectoryCacheTTL time.Duration
	LookupTimeout     time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		SelfEchoKinds:     []domain.EventKind{domain.EventMessage},
		DirectoryCacheTTL: 5 * time.Minute,
		LookupTimeout:     200 * time.Millisecond,
	}
}

// EventPersister receives persistent events after fan-out.
type EventPersister interface {
	Persist(ev *domain.RelayEvent) bool
}

type relayEngine struct {
	cfg       RelayConfig
	selfEcho  map[domain.EventKind]struct{}
	notifier  *notifier
	groups    ports.GroupDirectory
	users     ports.UserDirectory
	persister EventPersister
	profiles  *cache.Cache[domain.UserID, *domain.UserDisplayInfo]
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger
}

// NewRelayEngine wires the fan-out path. users and persister may be nil.
func NewRelayEngine(
	cfg RelayConfig,
	registry ports.ConnectionRegistry,
	pusher ports.Pusher,
	groups ports.GroupDirectory,
	users ports.UserDirectory,
	persister EventPersister,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) ports.RelayEngine {
	echo := make(map[domain.EventKind]struct{}, len(cfg.SelfEchoKinds))
	for _, k := range cfg.SelfEchoKinds {
		echo[k] = struct{}{}
	}

	r := &relayEngine{
		cfg:       cfg,
		selfEcho:  echo,
		notifier:  &notifier{registry: registry, pusher: pusher, metrics: metrics},
		groups:    groups,
		users:     users,
		persister: persister,
		metrics:   metrics,
		logger:    logger,
	}
	if users != nil {
		r.profiles = cache.New[domain.UserID, *domain.UserDisplayInfo](cfg.DirectoryCacheTTL)
	}
	return r
}

func (r *relayEngine) Deliver(ctx context.Context, ev *domain.RelayEvent) (*domain.DeliveryResult, error) {
	if ev == nil || !ev.Kind.IsRelay() {
		return nil, fmt.Errorf("%w: not a relay event", domain.ErrValidation)
	}
	if ev.SenderID == "" || (ev.TargetID == "") == (ev.GroupID == "") {
		return nil, fmt.Errorf("%w: relay event needs a sender and exactly one target", domain.ErrValidation)
	}

	ctx, span := tracing.StartSpan(ctx, "relay.deliver")
	defer span.End()
	span.SetAttributes(tracing.EventKindKey.String(string(ev.Kind)), tracing.UserIDKey.String(string(ev.SenderID)))

	targets, err := r.resolveTargets(ctx, ev)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	if ev.Sender == nil {
		ev.Sender = r.lookupSender(ctx, ev.SenderID)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	frame, err := encodeFrame(&domain.Envelope{
		Kind:      string(ev.Kind),
		ID:        ev.ID,
		SenderID:  ev.SenderID,
		TargetID:  ev.TargetID,
		GroupID:   ev.GroupID,
		Body:      ev.Body,
		Sender:    ev.Sender,
		Timestamp: ev.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode relay frame: %w", err)
	}

	result := &domain.DeliveryResult{Status: domain.DeliveryOffline}
	senderIsTarget := false
	for _, u := range targets {
		if u == ev.SenderID {
			senderIsTarget = true
		}
		delivered, dropped := r.notifier.pushFrame(u, frame)
		if delivered+dropped == 0 {
			result.OfflineIDs = append(result.OfflineIDs, u)
			continue
		}
		result.Recipients = append(result.Recipients, u)
		result.Delivered += delivered
		result.Dropped += dropped
	}
	if len(result.Recipients) > 0 {
		result.Status = domain.DeliveryDelivered
	}

	if _, echo := r.selfEcho[ev.Kind]; echo && !senderIsTarget {
		delivered, dropped := r.notifier.pushFrame(ev.SenderID, frame)
		result.Delivered += delivered
		result.Dropped += dropped
	}

	span.SetAttributes(tracing.RecipientsKey.Int(result.Delivered))
	if result.Status == domain.DeliveryOffline {
		r.metrics.RelayOffline(ev.Kind)
	}
	r.metrics.RelayDelivered(ev.Kind, result.Delivered)

	if ev.Kind.IsPersistent() && r.persister != nil {
		r.persister.Persist(ev)
	}

	r.logger.Debugw("relay delivered",
		"event_id", ev.ID,
		"kind", ev.Kind,
		"sender_id", ev.SenderID,
		"status", result.Status,
		"connections", result.Delivered,
		"dropped", result.Dropped,
		"offline", len(result.OfflineIDs),
	)
	return result, nil
}

// resolveTargets expands a group into its members minus the sender.
func (r *relayEngine) resolveTargets(ctx context.Context, ev *domain.RelayEvent) ([]domain.UserID, error) {
	if !ev.IsGroup() {
		return []domain.UserID{ev.TargetID}, nil
	}
	if r.groups == nil {
		return nil, fmt.Errorf("%w: group targets are not supported", domain.ErrValidation)
	}

	members, err := r.groups.GetGroupMembers(ctx, ev.GroupID)
	if err != nil {
		return nil, fmt.Errorf("resolve group %s: %w", ev.GroupID, err)
	}

	seen := make(map[domain.UserID]struct{}, len(members))
	targets := make([]domain.UserID, 0, len(members))
	for _, m := range members {
		if m == ev.SenderID || m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		targets = append(targets, m)
	}
	return targets, nil
}

// lookupSender never fails delivery; a missing profile just means no
// enrichment.
func (r *relayEngine) lookupSender(ctx context.Context, userID domain.UserID) *domain.UserDisplayInfo {
	if r.users == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	info, err := r.profiles.GetOrLoad(ctx, userID, func(ctx context.Context) (*domain.UserDisplayInfo, error) {
		return r.users.GetUserDisplayInfo(ctx, userID)
	})
	if err != nil {
		r.logger.Debugw("sender enrichment skipped", "user_id", userID, "error", err)
		return nil
	}
	return info
}
