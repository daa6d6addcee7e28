package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNoChannel — канал недоступен: соединение потеряно и ещё не восстановлено.
	ErrNoChannel = errors.New("no channel available")

	// ErrConnectionClosed — соединение закрыто вызовом Close.
	ErrConnectionClosed = errors.New("connection closed")
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// broker — установленная сессия с RabbitMQ: соединение и его канал.
type broker interface {
	Channel() *amqp.Channel
	// NotifyClose получает одно значение при потере соединения или канала.
	NotifyClose() <-chan *amqp.Error
	IsClosed() bool
	Close() error
}

type dialFunc func(url string) (broker, error)

// ConnectionConfig — параметры Connection.
type ConnectionConfig struct {
	URL    string
	Logger *slog.Logger

	// MinBackoff и MaxBackoff ограничивают паузу между попытками
	// переподключения; пауза удваивается после каждой неудачи.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// OnReconnect вызывается с новым каналом до уведомления подписчиков.
	// Ошибка считается неудачной попыткой переподключения.
	OnReconnect func(ch *amqp.Channel) error

	dial dialFunc
}

// Connection — AMQP соединение с одним каналом.
//
// Потеря соединения или канала запускает переподключение с backoff.
// Consumer и Publisher узнают о восстановлении через Subscribe/WaitConnected.
type Connection struct {
	url         string
	logger      *slog.Logger
	minBackoff  time.Duration
	maxBackoff  time.Duration
	onReconnect func(ch *amqp.Channel) error
	dial        dialFunc

	mu       sync.RWMutex
	broker   broker
	closed   bool
	closedCh chan struct{}

	subsMu  sync.Mutex
	subs    map[int]chan struct{}
	nextSub int

	reconnects atomic.Int64
}

// NewConnection подключается к RabbitMQ и запускает наблюдение за соединением.
func NewConnection(cfg ConnectionConfig) (*Connection, error) {
	c := &Connection{
		url:         cfg.URL,
		logger:      cfg.Logger,
		minBackoff:  cfg.MinBackoff,
		maxBackoff:  cfg.MaxBackoff,
		onReconnect: cfg.OnReconnect,
		dial:        cfg.dial,
		closedCh:    make(chan struct{}),
		subs:        make(map[int]chan struct{}),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.minBackoff <= 0 {
		c.minBackoff = defaultMinBackoff
	}
	if c.maxBackoff < c.minBackoff {
		c.maxBackoff = max(defaultMaxBackoff, c.minBackoff)
	}
	if c.dial == nil {
		c.dial = dialAMQP
	}

	b, err := c.dial(c.url)
	if err != nil {
		return nil, err
	}
	c.broker = b
	c.logger.Info("connected to RabbitMQ")

	go c.watch(b)

	return c, nil
}

// watch ждёт потери сессии b и восстанавливает соединение.
func (c *Connection) watch(b broker) {
	for {
		select {
		case <-c.closedCh:
			return
		case amqpErr := <-b.NotifyClose():
			if !c.drop(b) {
				return
			}
			if amqpErr != nil {
				c.logger.Warn("connection lost", "error", amqpErr.Error())
			} else {
				c.logger.Warn("connection lost")
			}

			next, ok := c.reconnect()
			if !ok {
				return
			}
			b = next
		}
	}
}

// drop снимает потерянную сессию. false — соединение уже закрыто.
func (c *Connection) drop(b broker) bool {
	c.mu.Lock()
	closed := c.closed
	if c.broker == b {
		c.broker = nil
	}
	c.mu.Unlock()

	_ = b.Close()
	return !closed
}

// reconnect подключается заново, пока не получится или пока не вызван Close.
func (c *Connection) reconnect() (broker, bool) {
	delay := c.minBackoff

	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-c.closedCh:
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		b, err := c.dial(c.url)
		if err == nil && c.onReconnect != nil {
			if hookErr := c.onReconnect(b.Channel()); hookErr != nil {
				_ = b.Close()
				err = fmt.Errorf("on reconnect: %w", hookErr)
			}
		}
		if err != nil {
			c.logger.Warn("reconnect failed", "attempt", attempt, "delay", delay, "error", err)
			delay = nextBackoff(delay, c.maxBackoff)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = b.Close()
			return nil, false
		}
		c.broker = b
		c.mu.Unlock()

		c.reconnects.Add(1)
		c.logger.Info("reconnected to RabbitMQ", "attempt", attempt)
		c.notify()
		return b, true
	}
}

func nextBackoff(delay, limit time.Duration) time.Duration {
	return min(delay*2, limit)
}

// Subscribe возвращает канал уведомлений о восстановлении соединения
// и функцию отписки. Непрочитанные уведомления не накапливаются.
func (c *Connection) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subsMu.Unlock()

	return ch, func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

func (c *Connection) notify() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// WaitConnected ждёт, пока соединение будет установлено.
// timeout <= 0 — ждать до отмены ctx. По таймауту возвращает ErrNoChannel.
func (c *Connection) WaitConnected(ctx context.Context, timeout time.Duration) error {
	sub, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if c.IsConnected() {
		return nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-sub:
		return nil
	case <-c.closedCh:
		return ErrConnectionClosed
	case <-expired:
		return ErrNoChannel
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconnects возвращает число успешных переподключений.
func (c *Connection) Reconnects() int64 {
	return c.reconnects.Load()
}

// Channel возвращает текущий канал или nil.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.broker == nil {
		return nil
	}
	return c.broker.Channel()
}

// IsConnected проверяет, установлено ли соединение.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.broker != nil && !c.broker.IsClosed()
}

// WithChannel выполняет fn с текущим каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	closed, b := c.closed, c.broker
	c.mu.RUnlock()

	if closed {
		return ErrConnectionClosed
	}
	if b == nil || b.IsClosed() {
		return ErrNoChannel
	}
	ch := b.Channel()
	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}
	return fn(ch)
}

// Close закрывает соединение и останавливает переподключение.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closedCh)
	b := c.broker
	c.broker = nil
	c.mu.Unlock()

	if b != nil {
		if err := b.Close(); err != nil {
			return err
		}
	}
	c.logger.Info("connection closed")
	return nil
}

// amqpBroker — сессия поверх amqp091.
type amqpBroker struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	closeCh chan *amqp.Error
}

func dialAMQP(url string) (broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	b := &amqpBroker{conn: conn, ch: ch, closeCh: make(chan *amqp.Error, 1)}

	// Ошибка канала (например, отсутствующая очередь) не закрывает
	// соединение, но канал после неё непригоден.
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		var amqpErr *amqp.Error
		select {
		case amqpErr = <-connClosed:
		case amqpErr = <-chClosed:
		}
		b.closeCh <- amqpErr
	}()

	return b, nil
}

func (b *amqpBroker) Channel() *amqp.Channel          { return b.ch }
func (b *amqpBroker) NotifyClose() <-chan *amqp.Error { return b.closeCh }
func (b *amqpBroker) IsClosed() bool                  { return b.conn.IsClosed() || b.ch.IsClosed() }

func (b *amqpBroker) Close() error {
	var errs []error
	if !b.ch.IsClosed() {
		if err := b.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if !b.conn.IsClosed() {
		if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
