package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"dasma/cmd/identity/ids"

	"github.com/samber/lo"
)

const defaultDispatchTimeout = 30 * time.Second

// Delivery is the outcome of one channel attempt for one target.
type Delivery struct {
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient,omitempty"`
	Target    string  `json:"target,omitempty"`
	Err       error   `json:"-"`
}

// MarshalJSON renders Err as a string.
func (d Delivery) MarshalJSON() ([]byte, error) {
	type alias Delivery
	var msg string
	if d.Err != nil {
		msg = d.Err.Error()
	}
	return json.Marshal(struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(d), Error: msg})
}

// Report summarizes one fan-out. Callers may log it; nothing in it is an error
// that should reach the domain write that raised the event.
type Report struct {
	ProjectID  string     `json:"projectId"`
	Recipients []string   `json:"recipients"`
	Suppressed []string   `json:"suppressed"`
	Created    []Record   `json:"created"`
	Deliveries []Delivery `json:"deliveries"`
	// Err is set when recipients could not be resolved.
	Err error `json:"-"`
}

// Failed counts deliveries that returned an error.
func (r Report) Failed() int {
	return lo.CountBy(r.Deliveries, func(d Delivery) bool { return d.Err != nil })
}

// Dispatcher fans an RSVP event out to in-app, email and push channels.
type Dispatcher struct {
	store    Store
	dir      Directory
	resolver *Resolver
	dedup    *Deduplicator

	email     EmailProvider
	push      PushSender
	publisher Publisher
	metrics   *Metrics
	log       *slog.Logger
	loc       Localizer

	extraEmails   []string
	fallbackEmail string
	deepLink      string
	window        time.Duration
	timeout       time.Duration
	clock         func() time.Time
	newID         func(time.Time) (string, error)

	// inflight serializes dedup and insert per (recipient, message).
	inflight *keyedLocks

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures the Dispatcher.
type Option func(*Dispatcher) error

// WithEmail enables the email channel. A nil provider leaves it disabled.
func WithEmail(p EmailProvider) Option {
	return func(d *Dispatcher) error {
		d.email = p
		return nil
	}
}

// WithPush enables the push channel. A nil sender leaves it disabled.
func WithPush(p PushSender) Option {
	return func(d *Dispatcher) error {
		d.push = p
		return nil
	}
}

// WithPublisher forwards every created record to a live feed.
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) error {
		d.publisher = p
		return nil
	}
}

// WithMetrics attaches collectors.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) error {
		d.metrics = m
		return nil
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		if l == nil {
			return ErrInvalidInput
		}
		d.log = l
		return nil
	}
}

// WithLocale selects the copy language ("sq", "en", ...).
func WithLocale(raw string) Option {
	return func(d *Dispatcher) error {
		d.loc = NewLocalizer(raw)
		return nil
	}
}

// WithExtraEmails adds addresses notified alongside every non-empty survivor set.
func WithExtraEmails(addrs ...string) Option {
	return func(d *Dispatcher) error {
		d.extraEmails = cleanAddresses(addrs)
		return nil
	}
}

// WithFallbackEmail sets the address used when no survivor has a stored email.
func WithFallbackEmail(addr string) Option {
	return func(d *Dispatcher) error {
		d.fallbackEmail = strings.TrimSpace(addr)
		return nil
	}
}

// WithDeepLink sets the link carried by email and push.
func WithDeepLink(link string) Option {
	return func(d *Dispatcher) error {
		link = strings.TrimSpace(link)
		if link != "" {
			if _, err := url.Parse(link); err != nil {
				return ErrInvalidInput
			}
		}
		d.deepLink = link
		return nil
	}
}

// WithDedupWindow overrides the trailing dedup window.
func WithDedupWindow(w time.Duration) Option {
	return func(d *Dispatcher) error {
		if w <= 0 {
			return ErrInvalidInput
		}
		d.window = w
		return nil
	}
}

// WithTimeout bounds background dispatches started by Go.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) error {
		if t <= 0 {
			return ErrInvalidInput
		}
		d.timeout = t
		return nil
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) error {
		if clock == nil {
			return ErrInvalidInput
		}
		d.clock = clock
		return nil
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(fn func(time.Time) (string, error)) Option {
	return func(d *Dispatcher) error {
		if fn == nil {
			return ErrInvalidInput
		}
		d.newID = fn
		return nil
	}
}

// NewDispatcher constructs a Dispatcher. store persists records; dir answers
// stakeholder, email and push subscription lookups.
func NewDispatcher(store Store, dir Directory, opts ...Option) (*Dispatcher, error) {
	if store == nil || dir == nil {
		return nil, ErrStoreNotConfigured
	}
	d := &Dispatcher{
		store:    store,
		dir:      dir,
		log:      slog.Default(),
		loc:      NewLocalizer(""),
		window:   DefaultDedupWindow,
		timeout:  defaultDispatchTimeout,
		clock:    time.Now,
		newID:    ids.NewULID,
		inflight: newKeyedLocks(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.resolver = NewResolver(dir)
	d.dedup = NewDeduplicator(store, d.window, d.clock)
	return d, nil
}

// Go runs Notify in the background with its own timeout. It reports false once
// Wait has been called.
func (d *Dispatcher) Go(ev RSVPEvent) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("notify.dispatch.rejected", "project_id", ev.ProjectID, "reason", "shutting down")
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.Notify(ctx, ev)
	}()
	return true
}

// Wait stops accepting background work and blocks until in-flight dispatches finish.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// Notify resolves recipients, filters them through the dedup window, persists
// in-app records and then attempts email and push. Channel failures are logged
// and reported, never returned.
func (d *Dispatcher) Notify(ctx context.Context, ev RSVPEvent) Report {
	start := time.Now()
	defer d.metrics.observe(start)

	rep := Report{
		ProjectID:  strings.TrimSpace(ev.ProjectID),
		Recipients: []string{},
		Suppressed: []string{},
		Created:    []Record{},
		Deliveries: []Delivery{},
	}
	log := d.log.With("project_id", rep.ProjectID, "status", string(ev.Status))

	recipients, err := d.resolver.Resolve(ctx, rep.ProjectID)
	if err != nil {
		log.Error("notify.resolve.fail", "err", err)
		d.metrics.event("resolve_error")
		rep.Err = err
		return rep
	}
	rep.Recipients = recipients
	if len(recipients) == 0 {
		log.Info("notify.skip", "reason", "no recipients")
		d.metrics.event("no_recipients")
		return rep
	}

	content := RenderRSVP(d.loc, ev)

	keys := make([]string, 0, len(recipients))
	for _, rid := range recipients {
		keys = append(keys, dedupKey(rid, content.Message))
	}
	unlock := d.inflight.lock(keys)

	survivors := make([]string, 0, len(recipients))
	for _, rid := range recipients {
		suppress, err := d.dedup.ShouldSuppress(ctx, content.Message, rid)
		if err != nil {
			log.Warn("notify.dedup.fail", "recipient_id", rid, "err", err)
			d.metrics.delivery(ChannelInApp, "dedup_error")
		}
		if suppress {
			rep.Suppressed = append(rep.Suppressed, rid)
			d.metrics.delivery(ChannelInApp, "suppressed")
			continue
		}
		survivors = append(survivors, rid)
	}
	if len(survivors) == 0 {
		unlock()
		log.Info("notify.skip", "reason", "all suppressed", "suppressed", len(rep.Suppressed))
		d.metrics.event("suppressed")
		return rep
	}

	var late []string
	rep.Created, rep.Deliveries, late = d.persist(ctx, log, survivors, content)
	unlock()

	if len(late) > 0 {
		rep.Suppressed = append(rep.Suppressed, late...)
		survivors = lo.Without(survivors, late...)
		if len(survivors) == 0 {
			log.Info("notify.skip", "reason", "all suppressed", "suppressed", len(rep.Suppressed))
			d.metrics.event("suppressed")
			return rep
		}
	}

	rep.Deliveries = append(rep.Deliveries, d.sendEmails(ctx, log, survivors, content)...)
	rep.Deliveries = append(rep.Deliveries, d.sendPushes(ctx, log, ev, survivors, content)...)

	d.metrics.event("dispatched")
	log.Info("notify.dispatched",
		"recipients", len(recipients),
		"suppressed", len(rep.Suppressed),
		"created", len(rep.Created),
		"deliveries", len(rep.Deliveries),
		"failed", rep.Failed(),
	)
	return rep
}

// persist writes one record per survivor. Against a ConditionalInserter it also
// returns the recipients whose identical record another writer stored first.
func (d *Dispatcher) persist(ctx context.Context, log *slog.Logger, survivors []string, c Content) ([]Record, []Delivery, []string) {
	now := d.clock().UTC()
	recs := make([]Record, 0, len(survivors))
	deliveries := make([]Delivery, 0, len(survivors))

	for _, rid := range survivors {
		id, err := d.newID(now)
		if err != nil {
			log.Error("notify.record.id.fail", "recipient_id", rid, "err", err)
			deliveries = append(deliveries, Delivery{Channel: ChannelInApp, Recipient: rid, Err: err})
			d.metrics.delivery(ChannelInApp, "error")
			continue
		}
		recs = append(recs, Record{
			ID:          id,
			RecipientID: rid,
			Title:       c.Title,
			Message:     c.Message,
			Seen:        false,
			CreatedAt:   now,
		})
	}
	if len(recs) == 0 {
		return []Record{}, deliveries, nil
	}

	var late []string
	written, err := d.insert(ctx, recs, now)
	if err != nil {
		log.Error("notify.store.insert.fail", "count", len(recs), "err", err)
		for _, r := range recs {
			deliveries = append(deliveries, Delivery{Channel: ChannelInApp, Recipient: r.RecipientID, Err: err})
			d.metrics.delivery(ChannelInApp, "error")
		}
		return []Record{}, deliveries, nil
	}
	if len(written) < len(recs) {
		kept := lo.SliceToMap(written, func(r Record) (string, struct{}) { return r.ID, struct{}{} })
		for _, r := range recs {
			if _, ok := kept[r.ID]; !ok {
				late = append(late, r.RecipientID)
				d.metrics.delivery(ChannelInApp, "suppressed")
			}
		}
		log.Info("notify.dedup.late", "suppressed", len(late))
		recs = written
	}

	for _, r := range recs {
		deliveries = append(deliveries, Delivery{Channel: ChannelInApp, Recipient: r.RecipientID, Target: r.ID})
		d.metrics.delivery(ChannelInApp, "ok")
		if d.publisher != nil {
			d.publisher.Publish(r)
		}
	}
	return recs, deliveries, late
}

// insert prefers the store's atomic conditional write when it has one.
func (d *Dispatcher) insert(ctx context.Context, recs []Record, now time.Time) ([]Record, error) {
	if ci, ok := d.store.(ConditionalInserter); ok {
		return ci.InsertAbsent(ctx, recs, now.Add(-d.dedup.Window()))
	}
	if err := d.store.InsertMany(ctx, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

type emailTarget struct {
	recipient string
	address   string
}

// emailTargets resolves stored addresses for survivors, then applies the fallback
// and the always-notified extras. Addresses are unique case-insensitively.
func (d *Dispatcher) emailTargets(ctx context.Context, log *slog.Logger, survivors []string) ([]emailTarget, []Delivery) {
	var (
		targets  []emailTarget
		failures []Delivery
	)
	for _, rid := range survivors {
		addr, err := d.dir.EmailFor(ctx, rid)
		switch {
		case errors.Is(err, ErrNotFound):
			log.Debug("notify.email.no_address", "recipient_id", rid)
			continue
		case err != nil:
			log.Warn("notify.email.lookup.fail", "recipient_id", rid, "err", err)
			failures = append(failures, Delivery{Channel: ChannelEmail, Recipient: rid, Err: err})
			d.metrics.delivery(ChannelEmail, "error")
			continue
		}
		targets = append(targets, emailTarget{recipient: rid, address: addr})
	}

	if len(targets) == 0 && d.fallbackEmail != "" {
		targets = append(targets, emailTarget{address: d.fallbackEmail})
	}
	for _, addr := range d.extraEmails {
		targets = append(targets, emailTarget{address: addr})
	}

	targets = lo.UniqBy(targets, func(t emailTarget) string { return strings.ToLower(t.address) })
	return targets, failures
}

func (d *Dispatcher) sendEmails(ctx context.Context, log *slog.Logger, survivors []string, c Content) []Delivery {
	if d.email == nil {
		log.Debug("notify.email.skip", "reason", "no provider configured")
		return nil
	}

	targets, out := d.emailTargets(ctx, log, survivors)
	for _, t := range targets {
		msg, err := BuildEmail(d.loc, t.address, c, d.deepLink)
		if err == nil {
			err = d.email.Send(ctx, msg)
		}
		if err != nil {
			log.Warn("notify.email.fail", "recipient_id", t.recipient, "provider", d.email.Name(), "err", err)
			d.metrics.delivery(ChannelEmail, "error")
		} else {
			d.metrics.delivery(ChannelEmail, "ok")
		}
		out = append(out, Delivery{Channel: ChannelEmail, Recipient: t.recipient, Target: t.address, Err: err})
	}
	return out
}

func (d *Dispatcher) sendPushes(ctx context.Context, log *slog.Logger, ev RSVPEvent, survivors []string, c Content) []Delivery {
	if d.push == nil {
		log.Debug("notify.push.skip", "reason", "vapid keys not configured")
		return nil
	}

	payload, err := json.Marshal(pushPayload{
		Title: c.Title,
		Body:  c.Message,
		URL:   d.deepLink,
		Tag:   "rsvp-" + strings.TrimSpace(ev.ProjectID),
	})
	if err != nil {
		log.Error("notify.push.payload.fail", "err", err)
		return nil
	}

	var out []Delivery
	for _, rid := range survivors {
		subs, err := d.dir.PushSubscriptions(ctx, rid)
		if err != nil {
			log.Warn("notify.push.lookup.fail", "recipient_id", rid, "err", err)
			out = append(out, Delivery{Channel: ChannelPush, Recipient: rid, Err: err})
			d.metrics.delivery(ChannelPush, "error")
			continue
		}
		for _, sub := range subs {
			err := d.push.Send(ctx, sub, payload)
			if err != nil {
				log.Warn("notify.push.fail", "recipient_id", rid, "endpoint_host", endpointHost(sub.Endpoint), "err", err)
				d.metrics.delivery(ChannelPush, "error")
			} else {
				d.metrics.delivery(ChannelPush, "ok")
			}
			out = append(out, Delivery{Channel: ChannelPush, Recipient: rid, Target: sub.Endpoint, Err: err})
		}
	}
	return out
}

// endpointHost keeps push endpoint tokens out of logs.
func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Host
}

func cleanAddresses(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		for _, part := range strings.Split(a, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return lo.UniqBy(out, strings.ToLower)
}
