package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lojasmm/wabot/internal/session"
	"github.com/lojasmm/wabot/internal/store"
)

// DefaultCancelPattern ends a pending next step when the user types end, stop or cancel.
const DefaultCancelPattern = `(?i)(end|stop|cancel)$`

// Dispatcher routes updates to registered handlers.
//
// For every update the sender's pending next step, if any, is consumed and
// runs instead of the registrations. Otherwise registrations are walked in
// the order they were added: the first matching non-persistent handler runs,
// and every matching persistent handler runs as well.
type Dispatcher struct {
	phoneNumberID string
	replier       Replier
	store         ContextStore
	locks         *session.Manager
	log           logrus.FieldLogger
	markAsRead    bool

	mu            sync.RWMutex
	registrations []Registration
	next          map[string]*nextStep
}

type nextStep struct {
	handler  HandlerFunc
	typ      MessageType
	filter   Filter
	cancel   Filter
	onCancel HandlerFunc
}

func (n *nextStep) accepts(u *Update) bool {
	if n.typ != "" && n.typ != u.Type {
		return false
	}
	return n.filter == nil || n.filter.Match(u)
}

type Option func(*Dispatcher)

// WithContextStore replaces the default in-memory context store.
func WithContextStore(s ContextStore) Option {
	return func(d *Dispatcher) { d.store = s }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithMarkAsRead marks every dispatched message as read before handling it.
func WithMarkAsRead(on bool) Option {
	return func(d *Dispatcher) { d.markAsRead = on }
}

// WithSessions shares a session manager, e.g. to run its Cleanup from a ticker.
func WithSessions(m *session.Manager) Option {
	return func(d *Dispatcher) { d.locks = m }
}

// New creates a Dispatcher for the business number phoneNumberID. Updates
// addressed to another number are ignored; an empty id accepts all of them.
func New(phoneNumberID string, replier Replier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		phoneNumberID: phoneNumberID,
		replier:       replier,
		store:         store.NewMemoryStore(0),
		locks:         session.NewManager(),
		log:           logrus.StandardLogger(),
		next:          make(map[string]*nextStep),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// --- registration ---

// Register appends r to the registration list and returns its index.
func (d *Dispatcher) Register(r Registration) int {
	if r.Handler == nil {
		panic("dispatch: Register with nil handler")
	}
	if r.Filter == nil {
		r.Filter = Always()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registrations = append(d.registrations, r)
	d.log.WithFields(logrus.Fields{"type": r.Type, "name": r.Name, "persistent": r.Persistent}).
		Debug("dispatch: handler registered")
	return len(d.registrations) - 1
}

// On registers h for updates of type typ accepted by filter (nil matches all).
func (d *Dispatcher) On(typ MessageType, filter Filter, h HandlerFunc, opts ...RegisterOption) int {
	r := Registration{Type: typ, Filter: filter, Handler: h}
	for _, opt := range opts {
		opt(&r)
	}
	return d.Register(r)
}

func (d *Dispatcher) OnMessage(filter Filter, h HandlerFunc, opts ...RegisterOption) int {
	return d.On(TypeText, filter, h, opts...)
}

// OnInteractive handles button and list replies; the filter sees the reply id.
func (d *Dispatcher) OnInteractive(filter Filter, h HandlerFunc, opts ...RegisterOption) int {
	return d.On(TypeInteractive, filter, h, opts...)
}

// OnButton handles template quick-reply buttons; the filter sees the button payload.
func (d *Dispatcher) OnButton(filter Filter, h HandlerFunc, opts ...RegisterOption) int {
	return d.On(TypeButton, filter, h, opts...)
}

func (d *Dispatcher) OnImage(filter Filter, h HandlerFunc, opts ...RegisterOption) int {
	return d.On(TypeImage, filter, h, opts...)
}

func (d *Dispatcher) OnVideo(filter Filter, h HandlerFunc, opts ...RegisterOption) int {
	return d.On(TypeVideo, filter, h, opts...)
}

func (d *Dispatcher) OnDocument(filter Filter, h HandlerFunc, opts ...RegisterOption) int {
	return d.On(TypeDocument, filter, h, opts...)
}

func (d *Dispatcher) OnAudio(h HandlerFunc, opts ...RegisterOption) int {
	return d.On(TypeAudio, nil, h, opts...)
}

func (d *Dispatcher) OnSticker(h HandlerFunc, opts ...RegisterOption) int {
	return d.On(TypeSticker, nil, h, opts...)
}

func (d *Dispatcher) OnLocation(h HandlerFunc, opts ...RegisterOption) int {
	return d.On(TypeLocation, nil, h, opts...)
}

// OnAny registers h for every message type.
func (d *Dispatcher) OnAny(filter Filter, h HandlerFunc, opts ...RegisterOption) int {
	return d.On("", filter, h, opts...)
}

// Registrations returns a copy of the registration list.
func (d *Dispatcher) Registrations() []Registration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.registrations)
}

// --- next step ---

type NextStepOption func(*nextStep)

// CancelOn runs action instead of the next step when the update matches f.
func CancelOn(f Filter, action HandlerFunc) NextStepOption {
	return func(n *nextStep) {
		n.cancel = f
		n.onCancel = action
	}
}

// StepType restricts the next step to one message type.
func StepType(t MessageType) NextStepOption {
	return func(n *nextStep) { n.typ = t }
}

// StepFilter restricts the next step to updates matching f.
// A pending step is consumed by the next message either way; a non-matching
// one just doesn't run.
func StepFilter(f Filter) NextStepOption {
	return func(n *nextStep) { n.filter = f }
}

// CancelKeywords runs action when the user answers end, stop or cancel.
func CancelKeywords(action HandlerFunc) NextStepOption {
	return CancelOn(MustRegex(DefaultCancelPattern), action)
}

// SetNextStep makes h handle the next message from the update's sender,
// bypassing every registration exactly once. It replaces any pending step.
func (d *Dispatcher) SetNextStep(u *Update, h HandlerFunc, opts ...NextStepOption) {
	d.SetNextStepFor(u.Phone, h, opts...)
}

func (d *Dispatcher) SetNextStepFor(phone string, h HandlerFunc, opts ...NextStepOption) {
	n := &nextStep{handler: h}
	for _, opt := range opts {
		opt(n)
	}
	d.mu.Lock()
	d.next[phone] = n
	d.mu.Unlock()
	d.log.WithField("phone", phone).Debug("dispatch: next step set")
}

// ClearNextStep drops the pending step for phone and reports whether one existed.
func (d *Dispatcher) ClearNextStep(phone string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.next[phone]
	delete(d.next, phone)
	return ok
}

func (d *Dispatcher) HasNextStep(phone string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.next[phone]
	return ok
}

func (d *Dispatcher) takeNextStep(phone string) *nextStep {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.next[phone]
	delete(d.next, phone)
	return n
}

// --- processing ---

// ProcessUpdate parses a raw webhook payload and dispatches it. Payloads
// without messages (status callbacks) are skipped. Its signature matches
// whatsapp.UpdateFunc.
func (d *Dispatcher) ProcessUpdate(ctx context.Context, payload []byte) error {
	u, err := ParseUpdate(payload)
	if err != nil {
		return err
	}
	if u == nil {
		d.log.Debug("dispatch: update has no messages, skipping")
		return nil
	}
	return d.Dispatch(ctx, u)
}

// Go runs ProcessUpdate in a new goroutine and delivers its error on the returned channel.
func (d *Dispatcher) Go(ctx context.Context, payload []byte) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- d.ProcessUpdate(ctx, payload) }()
	return ch
}

// Dispatch routes an already parsed update.
func (d *Dispatcher) Dispatch(ctx context.Context, u *Update) error {
	if d.phoneNumberID != "" && u.PhoneNumberID != d.phoneNumberID {
		d.log.WithField("phone_number_id", u.PhoneNumberID).Debug("dispatch: update for another number, skipping")
		return nil
	}
	if u.Phone == "" {
		return fmt.Errorf("%w: no sender", ErrMalformedUpdate)
	}

	upd := *u
	upd.replier = d.replier
	log := d.log.WithFields(logrus.Fields{
		"phone":      upd.Phone,
		"message_id": upd.MessageID,
		"type":       upd.Type,
	})

	if d.markAsRead && d.replier != nil && upd.MessageID != "" {
		if _, err := d.replier.MarkAsRead(ctx, upd.MessageID, true); err != nil {
			log.WithError(err).Warn("dispatch: failed to mark message as read")
		}
	}

	return d.locks.WithLock(upd.Phone, func() error {
		return d.dispatchLocked(ctx, &upd, log)
	})
}

func (d *Dispatcher) dispatchLocked(ctx context.Context, u *Update, log logrus.FieldLogger) error {
	data, err := d.store.Load(u.Phone)
	if err != nil {
		return fmt.Errorf("loading context: %w", err)
	}
	uc := newUserContext(u.Phone, data)

	var errs []error
	if n := d.takeNextStep(u.Phone); n != nil {
		h := n.handler
		switch {
		case n.cancel != nil && n.cancel.Match(u):
			h = n.onCancel
			log.Debug("dispatch: next step cancelled by user")
		case !n.accepts(u):
			h = nil
			log.Debug("dispatch: next step did not match, dropped")
		}
		if h != nil {
			if err := d.run(ctx, h, u, uc); err != nil {
				log.WithError(err).Error("dispatch: next step failed")
				errs = append(errs, err)
			}
		}
	} else {
		d.mu.RLock()
		regs := slices.Clone(d.registrations)
		d.mu.RUnlock()

		handled := false
		for i := range regs {
			r := &regs[i]
			if handled && !r.Persistent {
				continue
			}
			if !r.accepts(u) {
				continue
			}
			if !r.Persistent {
				handled = true
			}
			if err := d.run(ctx, r.Handler, u, uc); err != nil {
				log.WithError(err).WithField("handler", r.Name).Error("dispatch: handler failed")
				errs = append(errs, err)
			}
		}
		if !handled {
			log.Debug("dispatch: no handler matched")
		}
	}

	if err := d.saveContext(uc); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) run(ctx context.Context, h HandlerFunc, u *Update, uc *UserContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, u, uc)
}

func (d *Dispatcher) saveContext(uc *UserContext) error {
	if !uc.dirty {
		return nil
	}
	if uc.cleared && len(uc.data) == 0 {
		if err := d.store.Delete(uc.Phone); err != nil {
			return fmt.Errorf("deleting context: %w", err)
		}
		return nil
	}
	if err := d.store.Save(uc.Phone, uc.data); err != nil {
		return fmt.Errorf("saving context: %w", err)
	}
	return nil
}
