// Package ingest handles node pings and captured events: authorization,
// rule evaluation and publication downstream.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/internal/rules"
)

// Authorizer resolves an organization for an ingest credential.
type Authorizer interface {
	GetIfAuthorizedForIngestPing(ctx context.Context, org, credential string) (*domain.Organization, error)
	GetIfAuthorizedForIngestEvent(ctx context.Context, org, credential, eventType string) (*domain.Organization, error)
}

// HealthRecorder records node pings.
type HealthRecorder interface {
	Ping(ctx context.Context, org, nodeID string) (domain.PingResult, error)
}

// Evaluator runs events through an organization's rules.
type Evaluator interface {
	EvaluateHTTP(ctx context.Context, org *domain.Organization, metadata domain.HTTPMetadata) rules.Decision
	EvaluateCustom(ctx context.Context, org *domain.Organization, eventType string, metadata map[string]string) rules.CustomDecision
}

// Sink receives evaluated events for one organization.
type Sink interface {
	SendFor(ctx context.Context, org, key string, payload []byte) error
}

// Notifier is told when a node comes online.
type Notifier interface {
	NotifyNodeOnline(org, nodeID string, at time.Time)
}

// NodeConfig is what a node receives in reply to a ping.
type NodeConfig struct {
	Mode                     domain.Mode `json:"mode"`
	AwaitTimeoutMs           int64       `json:"awaitTimeoutMs"`
	CollectAdditionalHeaders []string    `json:"collectAdditionalHeaders"`
}

// Envelope is the record published downstream for every event.
type Envelope struct {
	ID               string            `json:"id"`
	OrganizationName string            `json:"organizationName"`
	EventType        string            `json:"eventType"`
	Key              string            `json:"key"`
	ReceivedAt       time.Time         `json:"receivedAt"`
	Event            any               `json:"event"`
	Action           *domain.Action    `json:"action,omitempty"`
	Result           map[string]string `json:"result,omitempty"`
}

// Service wires the ingest path together.
type Service struct {
	orgs     Authorizer
	health   HealthRecorder
	engine   Evaluator
	mappers  *Mappers
	sink     Sink
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// Config holds optional collaborators.
type Config struct {
	Mappers  *Mappers
	Notifier Notifier
	Now      func() time.Time
}

// New constructs a Service.
func New(orgs Authorizer, health HealthRecorder, engine Evaluator, sink Sink, logger *slog.Logger, cfg Config) Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return Service{
		orgs:     orgs,
		health:   health,
		engine:   engine,
		mappers:  cfg.Mappers,
		sink:     sink,
		notifier: cfg.Notifier,
		logger:   logger.With("component", "ingest"),
		now:      cfg.Now,
	}
}

// Ping records node liveness and returns the organization's node settings.
func (s Service) Ping(ctx context.Context, orgName, credential, nodeID string) (NodeConfig, error) {
	org, err := s.orgs.GetIfAuthorizedForIngestPing(ctx, orgName, credential)
	if err != nil {
		return NodeConfig{}, err
	}
	result, err := s.health.Ping(ctx, org.Name, nodeID)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("record ping: %w", err)
	}
	if result.FirstPing() {
		s.logger.InfoContext(ctx, "node online", "org", org.Name, "node", result.Current.ID)
		if s.notifier != nil {
			s.notifier.NotifyNodeOnline(org.Name, result.Current.ID, result.Current.LastPing)
		}
	}
	headers := org.CollectAdditionalHeaders
	if headers == nil {
		headers = []string{}
	}
	return NodeConfig{
		Mode:                     org.Mode,
		AwaitTimeoutMs:           org.AwaitTimeoutMs,
		CollectAdditionalHeaders: headers,
	}, nil
}

// HTTPEvent evaluates a captured request and publishes it. In DISABLED mode
// the request is allowed without evaluation or publication.
func (s Service) HTTPEvent(ctx context.Context, orgName, credential string, metadata domain.HTTPMetadata) (domain.Action, error) {
	org, err := s.orgs.GetIfAuthorizedForIngestEvent(ctx, orgName, credential, domain.WebEventType)
	if err != nil {
		return domain.Action{}, err
	}
	if org.Mode == domain.ModeDisabled {
		return domain.AllowAction(), nil
	}
	if metadata.Timestamp.IsZero() {
		metadata.Timestamp = s.now().UTC()
	}
	metadata = s.mappers.Apply(ctx, org, metadata)

	decision := s.engine.EvaluateHTTP(ctx, org, metadata)
	action := decision.Action
	env := s.envelope(org.Name, domain.WebEventType, decision.Key, metadata)
	env.Action = &action
	if err := s.publish(ctx, env); err != nil {
		return domain.Action{}, err
	}
	return action, nil
}

// CustomEvent evaluates an integration-defined event and publishes it.
func (s Service) CustomEvent(ctx context.Context, orgName, credential, eventType string, metadata map[string]string) (map[string]string, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" || eventType == domain.WebEventType {
		return nil, fmt.Errorf("%w: event type %q", ErrInvalidEventType, eventType)
	}
	org, err := s.orgs.GetIfAuthorizedForIngestEvent(ctx, orgName, credential, eventType)
	if err != nil {
		return nil, err
	}
	if org.Mode == domain.ModeDisabled {
		return map[string]string{}, nil
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	decision := s.engine.EvaluateCustom(ctx, org, eventType, metadata)
	env := s.envelope(org.Name, eventType, decision.Key, metadata)
	env.Result = decision.Result
	if err := s.publish(ctx, env); err != nil {
		return nil, err
	}
	return decision.Result, nil
}

func (s Service) envelope(org, eventType, key string, event any) Envelope {
	id := uuid.NewString()
	if key == "" {
		key = id
	}
	return Envelope{
		ID:               id,
		OrganizationName: org,
		EventType:        eventType,
		Key:              key,
		ReceivedAt:       s.now().UTC(),
		Event:            event,
	}
}

func (s Service) publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.sink.SendFor(ctx, env.OrganizationName, env.Key, payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
