package services

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"gopkg.in/yaml.v3"

	"kimi/internal/repositories"
)

var notifyLog = logging.Logger("notify")

// Event is one participant-facing fact about a transaction or dispute.
type Event struct {
	Type          string            `json:"type"`
	TransactionID uuid.UUID         `json:"transaction_id"`
	Reference     string            `json:"reference"`
	Recipients    []uuid.UUID       `json:"recipients"`
	Data          map[string]string `json:"data"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// Notifier is fire-and-forget. Implementations never block the caller and
// never report delivery errors back.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// EventPublisher is the outbound event bus; infra.KafkaPublisher satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

//go:embed templates/notifications.yaml
var templateFS embed.FS

type messageTemplate struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
	CTA     string `yaml:"cta"`

	subject *template.Template
	body    *template.Template
}

type TemplateCatalog struct {
	byType map[string]*messageTemplate
}

func LoadTemplateCatalog() (*TemplateCatalog, error) {
	raw, err := templateFS.ReadFile("templates/notifications.yaml")
	if err != nil {
		return nil, err
	}
	return ParseTemplateCatalog(raw)
}

func ParseTemplateCatalog(raw []byte) (*TemplateCatalog, error) {
	var entries map[string]*messageTemplate
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse notification templates: %w", err)
	}
	for name, t := range entries {
		var err error
		if t.subject, err = template.New(name + ".subject").Option("missingkey=zero").Parse(t.Subject); err != nil {
			return nil, fmt.Errorf("template %s subject: %w", name, err)
		}
		if t.body, err = template.New(name + ".body").Option("missingkey=zero").Parse(t.Body); err != nil {
			return nil, fmt.Errorf("template %s body: %w", name, err)
		}
	}
	return &TemplateCatalog{byType: entries}, nil
}

// Render returns subject, body and call-to-action text for ev.
func (c *TemplateCatalog) Render(ev Event) (string, string, string, error) {
	t, ok := c.byType[ev.Type]
	if !ok {
		return "", "", "", fmt.Errorf("no template for %s", ev.Type)
	}
	data := map[string]string{"reference": ev.Reference}
	for k, v := range ev.Data {
		data[k] = v
	}
	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return "", "", "", err
	}
	if err := t.body.Execute(&body, data); err != nil {
		return "", "", "", err
	}
	return subject.String(), body.String(), t.CTA, nil
}

type NotificationService struct {
	queue     chan Event
	accounts  repositories.AccountRepository
	mail      IMailService
	publisher EventPublisher
	templates *TemplateCatalog

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// NewNotificationService builds the async notifier. mail and publisher are
// optional; with neither configured events are only logged.
func NewNotificationService(accounts repositories.AccountRepository, mail IMailService, publisher EventPublisher, templates *TemplateCatalog, queueSize int) *NotificationService {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &NotificationService{
		queue:     make(chan Event, queueSize),
		accounts:  accounts,
		mail:      mail,
		publisher: publisher,
		templates: templates,
	}
}

func (n *NotificationService) Notify(_ context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stopped {
		notifyLog.Warnw("notifier stopped, dropping event", "type", ev.Type, "reference", ev.Reference)
		return
	}
	select {
	case n.queue <- ev:
	default:
		notifyLog.Warnw("notification queue full, dropping event", "type", ev.Type, "reference", ev.Reference)
	}
}

func (n *NotificationService) Start() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for ev := range n.queue {
			n.deliver(context.Background(), ev)
		}
	}()
}

// Stop drains queued events and waits for the worker to finish.
func (n *NotificationService) Stop() {
	n.mu.Lock()
	if !n.stopped {
		n.stopped = true
		close(n.queue)
	}
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *NotificationService) deliver(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if n.publisher != nil {
		payload, _ := json.Marshal(ev)
		if err := n.publisher.Publish(ctx, ev.Type, payload, ev.TransactionID.String()); err != nil {
			notifyLog.Warnw("publish event failed", "type", ev.Type, "reference", ev.Reference, "err", err)
		}
	}

	if n.mail == nil || n.templates == nil {
		notifyLog.Infow("notification", "type", ev.Type, "reference", ev.Reference, "recipients", len(ev.Recipients))
		return
	}

	subject, body, cta, err := n.templates.Render(ev)
	if err != nil {
		notifyLog.Warnw("render notification failed", "type", ev.Type, "err", err)
		return
	}
	for _, id := range ev.Recipients {
		acc, err := n.accounts.FindById(ctx, id)
		if err != nil || acc == nil || acc.Email == "" {
			notifyLog.Warnw("notification recipient not found", "account", id, "err", err)
			continue
		}
		url := ""
		if ev.TransactionID != uuid.Nil {
			url = "/transactions/" + ev.TransactionID.String()
		}
		if err := n.mail.SendMailToNotifyUser(acc.Email, subject, body, cta, url); err != nil {
			notifyLog.Warnw("send notification mail failed", "type", ev.Type, "account", id, "err", err)
		}
	}
}

// RecordingNotifier keeps events in memory; handy for tests and dry runs.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *RecordingNotifier) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *RecordingNotifier) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *RecordingNotifier) Types() []string {
	var out []string
	for _, ev := range r.Events() {
		out = append(out, ev.Type)
	}
	return out
}
