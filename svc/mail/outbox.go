package mail

import (
	"context"
	"pastebin/metrics"
	"pastebin/svc/util"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var ErrOutboxFull = errors.New("mail outbox full")

// Outbox sends mail on a small worker pool so request handlers never wait on
// SMTP. Failed sends are logged and counted, not retried.
type Outbox struct {
	sender      Sender
	queue       chan Message
	wg          sync.WaitGroup
	closed      atomic.Bool
	mu          sync.RWMutex
	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
	log         zerolog.Logger
}

func NewOutbox(sender Sender, workers, queueSize int, log zerolog.Logger) *Outbox {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		sender:      sender,
		queue:       make(chan Message, queueSize),
		shutdownCtx: ctx,
		shutdownFn:  cancel,
		log:         log,
	}
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

// Enqueue never blocks. A full queue drops the message.
func (o *Outbox) Enqueue(m Message) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed.Load() {
		return errors.New("mail outbox closed")
	}
	select {
	case o.queue <- m:
		return nil
	default:
		metrics.MailSent.WithLabelValues("dropped").Inc()
		o.log.Warn().Str("to", util.RedactEmail(m.To)).Msg("mail outbox full, dropping message")
		return ErrOutboxFull
	}
}
func (o *Outbox) worker() {
	defer o.wg.Done()
	for m := range o.queue {
		o.send(m)
	}
}
func (o *Outbox) send(m Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.MailSent.WithLabelValues("error").Inc()
			o.log.Error().Interface("panic", r).Msg("mail worker panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(o.shutdownCtx, smtpTimeout)
	defer cancel()
	if err := o.sender.Send(ctx, m); err != nil {
		metrics.MailSent.WithLabelValues("error").Inc()
		o.log.Error().Err(err).Str("to", util.RedactEmail(m.To)).Msg("mail send failed")
		return
	}
	metrics.MailSent.WithLabelValues("ok").Inc()
}

// Close stops accepting mail and lets the workers drain the queue until
// timeout, after which in-flight sends are cancelled.
func (o *Outbox) Close(timeout time.Duration) {
	o.mu.Lock()
	if o.closed.Swap(true) {
		o.mu.Unlock()
		return
	}
	close(o.queue)
	o.mu.Unlock()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		o.log.Warn().Msg("mail workers didn't drain in time")
		o.shutdownFn()
		<-done
	}
	o.shutdownFn()
}
