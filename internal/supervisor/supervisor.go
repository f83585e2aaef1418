// Package supervisor drives one tenant's session: it owns the connection
// handle, the state machine and the outbound drain loop, reconnects with
// exponential backoff on transient failures and stops for good on terminal
// ones.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexwire/chatgate/internal/bus"
	"github.com/nexwire/chatgate/internal/credstore"
	"github.com/nexwire/chatgate/internal/logger"
	"github.com/nexwire/chatgate/internal/metrics"
	"github.com/nexwire/chatgate/internal/model"
	"github.com/nexwire/chatgate/internal/queue"
	"github.com/nexwire/chatgate/internal/retry"
	"github.com/nexwire/chatgate/internal/session"
	"github.com/nexwire/chatgate/internal/transport"
	"github.com/nexwire/chatgate/internal/util"
)

type Config struct {
	Backoff        retry.Config  // reconnect delay progression
	MaxReconnects  int           // consecutive transient failures before Closed
	AckTimeout     time.Duration // per-send transport ack deadline
	SendAttempts   int           // per-message send budget
	PairingTimeout time.Duration // how long to wait for pairing confirmation
	QueueCapacity  int
}

func (c *Config) applyDefaults() {
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 10
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
	if c.SendAttempts <= 0 {
		c.SendAttempts = 3
	}
	if c.PairingTimeout <= 0 {
		c.PairingTimeout = 2 * time.Minute
	}
}

// Supervisor owns one tenant's session end to end. It is started once and
// not restartable; the registry builds a fresh one on reset.
type Supervisor struct {
	tenant  model.Tenant
	cfg     Config
	dialer  transport.Dialer
	bus     *bus.Bus
	creds   credstore.Store
	machine *session.Machine
	queue   *queue.Queue
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	qrMu   sync.Mutex
	lastQR string
}

func New(tenant model.Tenant, cfg Config, dialer transport.Dialer, b *bus.Bus, creds credstore.Store) *Supervisor {
	cfg.applyDefaults()
	s := &Supervisor{
		tenant: tenant,
		cfg:    cfg,
		dialer: dialer,
		bus:    b,
		creds:  creds,
		queue:  queue.New(cfg.QueueCapacity),
		done:   make(chan struct{}),
		log:    logger.Named("supervisor", tenant.ID),
	}
	// the cancel func exists from construction on, so Stop is safe to call
	// concurrently with Start
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.machine = session.NewMachine(tenant.ID, s.onTransition)
	return s
}

// Start launches the supervision loop.
func (s *Supervisor) Start() {
	go s.run(s.ctx)
}

// Stop cancels any in-flight dial, backoff timer or drain operation and
// waits for the loop to exit, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor %s did not stop in time: %w", s.tenant.ID, ctx.Err())
	}
}

// Enqueue submits one outbound message. It never blocks; queue.ErrFull and
// queue.ErrClosed are the rejection reasons.
func (s *Supervisor) Enqueue(m *model.OutboundMessage) error {
	if err := s.queue.Enqueue(m); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return err
	}
	metrics.MessagesTotal.WithLabelValues("enqueued").Inc()
	return nil
}

func (s *Supervisor) State() session.State { return s.machine.State() }

func (s *Supervisor) Tenant() model.Tenant { return s.tenant }

// Status is the health surface for one tenant.
type Status struct {
	TenantID     string    `json:"tenant_id"`
	State        string    `json:"state"`
	Attempts     int       `json:"reconnect_attempts"`
	QueueLen     int       `json:"queue_len"`
	LastActivity time.Time `json:"last_activity"`
}

func (s *Supervisor) Status() Status {
	return Status{
		TenantID:     s.tenant.ID,
		State:        s.machine.State().String(),
		Attempts:     s.machine.Attempts(),
		QueueLen:     s.queue.Len(),
		LastActivity: s.machine.LastActivity(),
	}
}

// PairingCode returns the latest pairing artifact, empty when none was
// produced yet or pairing already completed.
func (s *Supervisor) PairingCode() string {
	s.qrMu.Lock()
	defer s.qrMu.Unlock()
	return s.lastQR
}

// Subscribe exposes this tenant's event stream to internal consumers.
func (s *Supervisor) Subscribe(name string, kinds ...model.EventKind) *bus.Subscription {
	opts := []bus.SubscribeOption{bus.WithTenant(s.tenant.ID)}
	if len(kinds) > 0 {
		opts = append(opts, bus.WithKinds(kinds...))
	}
	return s.bus.Subscribe(name, opts...)
}

// ---- supervision loop ----

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	backoff := retry.NewBackoff(s.cfg.Backoff)
	for {
		err := s.runSession(ctx)

		if ctx.Err() != nil {
			s.close(session.CauseStop)
			return
		}
		if transport.IsTerminal(err) {
			s.log.Warn("terminal session failure", zap.Error(err))
			if derr := s.creds.Delete(context.Background(), s.tenant.ID); derr != nil {
				s.log.Warn("delete revoked credentials", zap.Error(derr))
			}
			s.close(session.CauseAuthRevoked)
			return
		}

		// a zero counter means the last session reached Open, so the
		// delay progression starts over
		if s.machine.Attempts() == 0 {
			backoff.Reset()
		}
		attempts := s.machine.IncAttempts()
		metrics.ReconnectAttempts.Inc()
		if attempts > s.cfg.MaxReconnects {
			s.log.Warn("reconnect ceiling reached", zap.Int("attempts", attempts-1))
			s.close(session.CauseRetriesExhausted)
			return
		}

		if terr := s.machine.To(session.Reconnecting, session.CauseTransportLost); terr != nil {
			s.close(session.CauseStop)
			return
		}
		delay := backoff.Next()
		s.log.Info("scheduling reconnect",
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		if retry.Sleep(ctx, delay) != nil {
			s.close(session.CauseStop)
			return
		}
	}
}

// runSession performs one connect attempt and, on success, runs the session
// until the transport dies or ctx is cancelled. The returned error carries
// the transient/terminal classification.
func (s *Supervisor) runSession(ctx context.Context) error {
	if s.machine.State() == session.Idle {
		if err := s.machine.To(session.Connecting, session.CauseStart); err != nil {
			return err
		}
	}

	creds, err := s.creds.Load(ctx, s.tenant.ID)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	conn, err := s.dialer.Dial(ctx, s.tenant.ID, creds)
	if err != nil {
		return err
	}
	defer conn.Close()

	if creds == nil {
		if err := s.machine.To(session.AwaitingPairing, session.CauseNoCredential); err != nil {
			return err
		}
		if err := s.awaitPairing(ctx, conn); err != nil {
			return err
		}
		if err := s.machine.To(session.Open, session.CausePaired); err != nil {
			return err
		}
	} else {
		cause := session.CauseHandshakeOK
		if s.machine.State() == session.Reconnecting {
			cause = session.CauseReconnected
		}
		if err := s.machine.To(session.Open, cause); err != nil {
			return err
		}
	}
	s.machine.ResetAttempts()

	// Drain and inbound forwarding run concurrently for the lifetime of
	// this connection. Draining stops with the connection, which is what
	// pauses it whenever the session leaves Open.
	drainCtx, cancelDrain := context.WithCancel(ctx)
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		s.drain(drainCtx, conn)
	}()
	defer func() {
		cancelDrain()
		<-drainDone
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-conn.Frames():
			if !ok {
				if err := conn.Err(); err != nil {
					return err
				}
				return errors.New("transport closed")
			}
			s.handleFrame(ctx, f)
		}
	}
}

func (s *Supervisor) handleFrame(ctx context.Context, f transport.Frame) {
	s.machine.Touch()
	switch f.Kind {
	case transport.FrameMessage:
		s.publish(model.EventMessageInbound, model.InboundMessage{From: f.From, Body: f.Body})
	case transport.FramePaired:
		// mid-session credential rotation
		if err := s.creds.Save(ctx, f.Credentials); err != nil {
			s.log.Warn("persist rotated credentials", zap.Error(err))
		}
	case transport.FrameQRCode:
		s.setPairingCode(f.Code)
		s.publish(model.EventQRCodeUpdate, model.PairingCode{Code: f.Code})
	}
}

// awaitPairing forwards qr frames until the network confirms pairing and
// hands out the credential blob.
func (s *Supervisor) awaitPairing(ctx context.Context, conn transport.Conn) error {
	deadline := time.NewTimer(s.cfg.PairingTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.New("pairing timed out")
		case f, ok := <-conn.Frames():
			if !ok {
				if err := conn.Err(); err != nil {
					return err
				}
				return errors.New("transport closed during pairing")
			}
			switch f.Kind {
			case transport.FrameQRCode:
				s.setPairingCode(f.Code)
				s.publish(model.EventQRCodeUpdate, model.PairingCode{Code: f.Code})
			case transport.FramePaired:
				if err := s.creds.Save(ctx, f.Credentials); err != nil {
					// the session still works; a restart will re-pair
					s.log.Warn("persist credentials", zap.Error(err))
				}
				s.setPairingCode("")
				return nil
			}
		}
	}
}

// drain consumes the outbound queue strictly FIFO while the connection is
// alive. The head message is only removed after it is acknowledged or its
// send budget is spent; a message in flight when the transport dies keeps
// its place and its attempt count across the reconnect.
func (s *Supervisor) drain(ctx context.Context, conn transport.Conn) {
	for {
		msg, err := s.queue.Next(ctx)
		if err != nil {
			return
		}

		sent := false
		var lastErr error
		for msg.Attempts < s.cfg.SendAttempts {
			msg.Attempts++
			actx, cancel := context.WithTimeout(ctx, s.cfg.AckTimeout)
			lastErr = conn.Send(actx, *msg)
			cancel()
			if lastErr == nil {
				sent = true
				break
			}
			if ctx.Err() != nil || conn.Err() != nil {
				// stopping or transport dead: leave the head in place
				return
			}
		}

		s.queue.Ack(msg.ID)
		if sent {
			metrics.MessagesTotal.WithLabelValues("sent").Inc()
			s.publish(model.EventMessageOutboundAck, model.OutboundAck{
				MessageID:      msg.ID,
				IdempotencyKey: msg.IdempotencyKey,
				Status:         model.AckSent,
				Attempts:       msg.Attempts,
			})
			continue
		}

		if lastErr == nil {
			lastErr = errors.New("send attempts exhausted")
		}
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		s.publish(model.EventMessageOutboundAck, model.OutboundAck{
			MessageID:      msg.ID,
			IdempotencyKey: msg.IdempotencyKey,
			Status:         model.AckFailed,
			Attempts:       msg.Attempts,
			Error:          lastErr.Error(),
		})
	}
}

// close moves the machine to its terminal state and fails whatever is still
// queued so nothing disappears silently.
func (s *Supervisor) close(cause string) {
	_ = s.machine.To(session.Closed, cause)
	for _, m := range s.queue.Close() {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		s.publish(model.EventMessageOutboundAck, model.OutboundAck{
			MessageID:      m.ID,
			IdempotencyKey: m.IdempotencyKey,
			Status:         model.AckFailed,
			Attempts:       m.Attempts,
			Error:          "session closed",
		})
	}
}

func (s *Supervisor) setPairingCode(code string) {
	s.qrMu.Lock()
	s.lastQR = code
	s.qrMu.Unlock()
}

func (s *Supervisor) onTransition(old, next session.State, cause string) {
	metrics.SessionTransitions.WithLabelValues(next.String()).Inc()
	s.publish(model.EventConnectionUpdate, model.ConnectionUpdate{
		Old:   old.String(),
		New:   next.String(),
		Cause: cause,
	})
}

func (s *Supervisor) publish(kind model.EventKind, payload any) {
	s.bus.Publish(model.Event{
		ID:       util.NewID(),
		TenantID: s.tenant.ID,
		Kind:     kind,
		Payload:  payload,
		At:       time.Now(),
	})
}
