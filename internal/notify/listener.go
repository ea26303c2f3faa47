// Package notify подключается к push-каналу бэкенда по WebSocket
// и доставляет серверные обновления статуса проектов подписчику.
// Канал второстепенный: авторитетное состояние все равно перечитывается по REST.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Время, разрешенное для записи сообщения серверу.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong от сервера.
	pongWait = 60 * time.Second
	// Период отправки пингов. Должен быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Пауза перед повторным подключением после обрыва.
	reconnectDelay = 5 * time.Second

	maxMessageSize = 64 * 1024
)

// ProjectUpdate — серверное push-уведомление об изменении состояния проекта.
type ProjectUpdate struct {
	ProjectID    string  `json:"project_id"`
	UpdateType   string  `json:"update_type"`
	Status       string  `json:"status"`
	CurrentStep  *string `json:"current_step,omitempty"`
	ErrorDetails *string `json:"error_details,omitempty"`
}

// Listener держит одно WebSocket-соединение с бэкендом и переподключается при обрыве.
type Listener struct {
	wsURL   string
	token   string
	handler func(ProjectUpdate)
	logger  zerolog.Logger
}

// NewListener создает слушателя push-обновлений.
// wsURL — адрес вида ws://host:port/ws; токен передается query-параметром,
// как того требует бэкенд.
func NewListener(wsURL, token string, handler func(ProjectUpdate), logger zerolog.Logger) (*Listener, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("websocket URL must use ws or wss scheme, got %q", parsed.Scheme)
	}
	if handler == nil {
		return nil, fmt.Errorf("update handler cannot be nil")
	}
	return &Listener{
		wsURL:   wsURL,
		token:   token,
		handler: handler,
		logger:  logger.With().Str("component", "NotifyListener").Logger(),
	}, nil
}

// Listen поддерживает соединение до отмены контекста,
// переподключаясь после обрывов с фиксированной паузой.
func (l *Listener) Listen(ctx context.Context) error {
	for {
		if err := l.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("Push connection lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (l *Listener) connectAndRead(ctx context.Context) error {
	dialURL := l.wsURL
	if l.token != "" {
		sep := "?"
		if u, err := url.Parse(l.wsURL); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		dialURL = l.wsURL + sep + "token=" + url.QueryEscape(l.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial push endpoint: %w", err)
	}
	defer conn.Close()
	l.logger.Info().Msg("Connected to push endpoint")

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Пинги и закрытие по отмене контекста живут в отдельной горутине;
	// чтение остается в вызывающей.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-pingDone:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read push message: %w", err)
		}

		var update ProjectUpdate
		if err := json.Unmarshal(message, &update); err != nil {
			// Непонятное сообщение не повод рвать соединение.
			l.logger.Warn().Err(err).Bytes("payload", message).Msg("Skipping unparseable push message")
			continue
		}

		l.logger.Debug().
			Str("project_id", update.ProjectID).
			Str("status", update.Status).
			Msg("Push update received")
		l.handler(update)
	}
}
