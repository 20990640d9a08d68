package notification

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/fieldpin/internal/logger"
)

const (
	// DefaultChannelBufferSize is the per subscriber buffer when none is configured
	DefaultChannelBufferSize = 32

	pushQueueSize   = 64
	pushSendTimeout = 10 * time.Second
)

// Pusher forwards messages to an external service.
type Pusher interface {
	Name() string
	Accepts(*Message) bool
	Send(ctx context.Context, msg *Message) error
}

// Subscriber represents a notification subscriber
type Subscriber struct {
	ch     chan *Message
	ctx    context.Context
	cancel context.CancelFunc
}

// Service fans messages out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the message.
type Service struct {
	bufferSize int
	log        logger.Logger

	subscribersMu sync.Mutex
	subscribers   []*Subscriber

	pushers   []Pusher
	pushQueue chan *Message
	pushWG    sync.WaitGroup

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewService creates a service. pushers may be empty; when present a single
// worker goroutine forwards accepted messages until Stop.
func NewService(bufferSize int, log logger.Logger, pushers ...Pusher) *Service {
	if bufferSize <= 0 {
		bufferSize = DefaultChannelBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		bufferSize: bufferSize,
		log:        log.Module("notification"),
		pushers:    pushers,
		ctx:        ctx,
		cancel:     cancel,
	}
	if len(pushers) > 0 {
		s.pushQueue = make(chan *Message, pushQueueSize)
		s.pushWG.Add(1)
		go s.pushLoop()
	}
	return s
}

// Subscribe returns a channel receiving every published message and a context
// that is cancelled when the subscription ends.
func (s *Service) Subscribe() (<-chan *Message, context.Context) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	sub := &Subscriber{
		ch:     make(chan *Message, s.bufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	s.subscribers = append(s.subscribers, sub)
	return sub.ch, ctx
}

// Unsubscribe removes a subscriber. The channel is not closed.
func (s *Service) Unsubscribe(ch <-chan *Message) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	for i, sub := range s.subscribers {
		if sub.ch == ch {
			sub.cancel()
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// Publish delivers msg to all subscribers and queues it for push forwarding.
func (s *Service) Publish(msg *Message) {
	if msg == nil || s.ctx.Err() != nil {
		return
	}

	s.broadcast(msg)

	if s.pushQueue == nil {
		return
	}
	select {
	case s.pushQueue <- msg.Clone():
	default:
		s.log.Warn("push queue full, dropping message",
			logger.String("kind", string(msg.Kind)))
	}
}

// PublishError converts err with FromError and publishes it.
func (s *Service) PublishError(err error) {
	if err == nil {
		return
	}
	s.Publish(FromError(err))
}

// Info publishes an informational message.
func (s *Service) Info(kind Kind, title, body string) {
	s.Publish(NewMessage(LevelInfo, kind, title, body))
}

func (s *Service) broadcast(msg *Message) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	active := s.subscribers[:0]
	dropped := 0
	for _, sub := range s.subscribers {
		if sub.ctx.Err() != nil {
			continue
		}
		active = append(active, sub)
		select {
		case sub.ch <- msg.Clone():
		default:
			dropped++
		}
	}
	s.subscribers = active

	if dropped > 0 {
		s.log.Debug("subscriber channel full, message skipped",
			logger.String("id", msg.ID),
			logger.Int("dropped", dropped))
	}
}

func (s *Service) pushLoop() {
	defer s.pushWG.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.pushQueue:
			s.forward(msg)
		}
	}
}

func (s *Service) forward(msg *Message) {
	for _, p := range s.pushers {
		if !p.Accepts(msg) {
			continue
		}
		ctx, cancel := context.WithTimeout(s.ctx, pushSendTimeout)
		err := p.Send(ctx, msg)
		cancel()
		if err != nil {
			s.log.Warn("push notification failed",
				logger.String("provider", p.Name()),
				logger.String("kind", string(msg.Kind)),
				logger.Error(err))
		}
	}
}

// Stop cancels all subscriptions and waits for the push worker to exit.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.pushWG.Wait()

		s.subscribersMu.Lock()
		s.subscribers = nil
		s.subscribersMu.Unlock()
	})
}
