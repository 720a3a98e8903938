package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.gatehouse/internal/events"
	"uk.co.dudmesh.gatehouse/internal/model"
	"uk.co.dudmesh.gatehouse/internal/siteconfig"
)

const (
	DefaultTimeout = 3 * time.Second

	HeaderDeliveryID = "X-Delivery-ID"
	HeaderSignature  = "X-Gatehouse-Signature"
)

type Settings interface {
	String(key string, def string) (string, error)
}

type Recorder interface {
	Notification(result string)
}

type Notifier struct {
	settings Settings
	client   *http.Client
	signer   *Signer
	metrics  Recorder
	wg       sync.WaitGroup
}

type Option func(*Notifier)

func WithSigner(signer *Signer) Option {
	return func(n *Notifier) { n.signer = signer }
}

func WithTimeout(timeout time.Duration) Option {
	return func(n *Notifier) { n.client.Timeout = timeout }
}

func WithMetrics(metrics Recorder) Option {
	return func(n *Notifier) { n.metrics = metrics }
}

func New(settings Settings, opts ...Option) *Notifier {
	n := &Notifier{
		settings: settings,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe posts a short message to the webhook for account events.
func (n *Notifier) Subscribe(d *events.Dispatcher) {
	d.On(events.UserRegisterAfter, func(payload interface{}) {
		if e, ok := payload.(events.UserEvent); ok {
			n.Notify(events.UserRegisterAfter, fmt.Sprintf("New user registered: **%s**", e.Handle))
		}
	})
	d.On(events.UserTokensRevoked, func(payload interface{}) {
		if e, ok := payload.(events.UserEvent); ok {
			n.Notify(events.UserTokensRevoked, fmt.Sprintf("All sessions of **%s** were signed out (%d)", e.Handle, e.Count))
		}
	})
}

// Notify delivers content in the background. Failures are logged only.
func (n *Notifier) Notify(event string, content string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		delivery, err := n.Send(context.Background(), event, content)
		if err != nil {
			log.Warnf("webhook delivery for %s failed: %+v", event, err)
			return
		}
		if delivery.Status == model.DeliveryStatusSent {
			log.Debugf("webhook delivery %s for %s sent", delivery.ID, event)
		}
	}()
}

// Wait blocks until background deliveries finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) Send(ctx context.Context, event string, content string) (*model.Delivery, error) {
	delivery := &model.Delivery{
		ID:        model.CreateID(),
		Event:     event,
		Status:    model.DeliveryStatusPending,
		Timestamp: time.Now().UTC(),
	}

	url, err := n.settings.String(siteconfig.SettingDiscordWebhook, "")
	if err != nil {
		return n.finish(delivery, model.DeliveryStatusFailed), fmt.Errorf("reading webhook url: %w", err)
	}
	if url == "" {
		return n.finish(delivery, model.DeliveryStatusSkipped), nil
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return n.finish(delivery, model.DeliveryStatusFailed), fmt.Errorf("marshalling body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return n.finish(delivery, model.DeliveryStatusFailed), fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderDeliveryID, delivery.ID)

	if n.signer != nil {
		signature, err := n.signer.Sign(body, event)
		if err != nil {
			return n.finish(delivery, model.DeliveryStatusFailed), fmt.Errorf("signing body: %w", err)
		}
		delivery.Signature = signature
		req.Header.Set(HeaderSignature, signature)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return n.finish(delivery, model.DeliveryStatusFailed), fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	delivery.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return n.finish(delivery, model.DeliveryStatusFailed), fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return n.finish(delivery, model.DeliveryStatusSent), nil
}

func (n *Notifier) finish(delivery *model.Delivery, status model.DeliveryStatus) *model.Delivery {
	delivery.Status = status
	if n.metrics != nil {
		n.metrics.Notification(status.String())
	}
	return delivery
}
