package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketmaker/internal/config"
	"marketmaker/pkg/retry"
)

// ConnectionConfig - параметры подключения к ретранслятору
type ConnectionConfig struct {
	// Начальная и максимальная задержка переподключения (exponential backoff)
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping; соединение без pong за 2 интервала считается разорванным
	PingInterval time.Duration
}

// ConnectionConfigFrom строит ConnectionConfig из конфигурации фида
func ConnectionConfigFrom(cfg config.FeedConfig) ConnectionConfig {
	return ConnectionConfig{
		ReconnectDelay:    cfg.ReconnectDelay,
		MaxReconnectDelay: cfg.MaxReconnectDelay,
		ConnectTimeout:    10 * time.Second,
		PingInterval:      cfg.PingInterval,
	}
}

// ConnectionState - состояние соединения
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink получает разобранные сообщения
type Sink interface {
	Submit(ctx context.Context, msg *Message) error
}

// Connection - websocket клиент ретранслятора стаканов с автоматическим переподключением.
//
// Каждое входящее сообщение разбирается Decode и передаётся в Sink.
// Некорректные сообщения и переполнение шарда логируются и не разрывают соединение.
//
// Использование:
// 1. Создать: NewConnection(url, cfg, dispatcher, logger)
// 2. Запустить: go conn.Run(ctx)
// 3. Остановить: Close() или отмена ctx
type Connection struct {
	url    string
	config ConnectionConfig
	sink   Sink
	logger *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	state   int32 // atomic ConnectionState
	started int32 // atomic, 1 после вызова Run

	closeOnce sync.Once
	closeChan chan struct{}
	done      chan struct{}
}

// NewConnection создаёт соединение (без подключения)
func NewConnection(url string, cfg ConnectionConfig, sink Sink, logger *zap.Logger) *Connection {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		url:       url,
		config:    cfg,
		sink:      sink,
		logger:    logger.With(zap.String("feed_url", url)),
		closeChan: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// GetState возвращает текущее состояние соединения
func (c *Connection) GetState() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&c.state))
}

// IsConnected проверяет, установлено ли соединение
func (c *Connection) IsConnected() bool {
	return c.GetState() == StateConnected
}

func (c *Connection) setState(s ConnectionState) {
	atomic.StoreInt32(&c.state, int32(s))
	SetConnected(c.url, s == StateConnected)
}

// Run подключается и читает сообщения, переподключаясь при разрывах.
//
// Блокирует до отмены ctx, Close или закрытия диспетчера.
func (c *Connection) Run(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return
	}
	defer close(c.done)
	defer c.setState(StateClosed)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closeChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	backoff := retry.NewBackoff(retry.ReconnectConfig(c.config.ReconnectDelay, c.config.MaxReconnectDelay))

	for {
		c.setState(StateConnecting)
		err := c.dial(ctx)
		if err == nil {
			backoff.Reset()
			c.setState(StateConnected)
			c.logger.Info("feed connected")

			err = c.readLoop(ctx)
		}

		if ctx.Err() != nil {
			return
		}
		if !retry.RetryIfNotPermanent(err) {
			c.logger.Info("feed stopped", zap.Error(err))
			return
		}

		c.setState(StateReconnecting)
		delay := backoff.Next()
		Reconnects.WithLabelValues(c.url).Inc()
		c.logger.Warn("feed disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("delay", delay),
			zap.Int("attempt", backoff.Attempt()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// dial выполняет подключение к WebSocket
func (c *Connection) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.config.ConnectTimeout}

	conn, _, err := dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// readLoop читает сообщения до ошибки соединения или отмены ctx
func (c *Connection) readLoop(ctx context.Context) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	defer c.closeConn()

	pongWait := 2 * c.config.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(ctx, conn, pingDone)

	// Отмена ctx прерывает блокирующее чтение
	go func() {
		select {
		case <-ctx.Done():
			c.closeConn()
		case <-pingDone:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := Decode(data)
		if err != nil {
			MalformedMessages.Inc()
			c.logger.Warn("malformed feed message dropped", zap.Error(err))
			continue
		}

		if err := c.sink.Submit(ctx, msg); err != nil {
			if errors.Is(err, ErrDispatcherClosed) {
				return retry.Permanent(err)
			}
			c.logger.Warn("feed message not dispatched",
				zap.String("type", string(msg.Type)),
				zap.String("asset_pair", msg.AssetPairID()),
				zap.Error(err),
			)
		}
	}
}

// pingLoop отправляет ping для проверки соединения
func (c *Connection) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.config.PingInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Connection) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close останавливает переподключение, закрывает соединение и ждёт завершения Run
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
	})
	if atomic.LoadInt32(&c.started) == 1 {
		<-c.done
	}
}
