package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"novel-client/internal/sse"
)

var (
	streamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_client_stream_requests_total",
			Help: "Total number of generation stream requests.",
		},
		[]string{"endpoint", "status"}, // status: success, confirmation, domain_error, transport_error, cancelled
	)
	streamFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_client_stream_frames_total",
			Help: "Total number of decoded SSE frames by event kind.",
		},
		[]string{"event"},
	)
	streamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novel_client_stream_duration_seconds",
			Help:    "Histogram of generation stream durations.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s .. ~1700s
		},
		[]string{"endpoint"},
	)
)

// Compile-time check.
var _ GenerationStreamer = (*streamClient)(nil)

const streamReadBufferSize = 4096

type streamClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	tokens     TokenProvider

	mu       sync.Mutex
	inFlight bool
}

// NewStreamClient создает потоковый клиент генерации.
// Таймаут на http.Client не ставится: стрим живет минутами,
// обрыв управляется контекстом вызывающей стороны.
func NewStreamClient(baseURL string, logger *zap.Logger, tokens TokenProvider) (GenerationStreamer, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL for generation service: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &streamClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 0},
		logger:     logger.Named("StreamClient"),
		tokens:     tokens,
	}, nil
}

// Stream выполняет один POST-запрос с SSE-ответом и диспетчеризует фреймы в handlers.
func (c *streamClient) Stream(ctx context.Context, endpoint string, body interface{}, handlers StreamHandlers) error {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrStreamInFlight
	}
	c.inFlight = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	streamURL := c.baseURL + endpoint
	log := c.logger.With(zap.String("url", streamURL))
	start := time.Now()
	defer func() {
		streamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		log.Error("Failed to marshal stream request body", zap.Error(err))
		return fmt.Errorf("internal error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, streamURL, bytes.NewReader(bodyBytes))
	if err != nil {
		log.Error("Failed to create stream HTTP request", zap.Error(err))
		return fmt.Errorf("internal error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Request-ID", uuid.NewString())

	if c.tokens != nil {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			log.Error("Failed to obtain access token for stream", zap.Error(err))
			c.dispatchError(handlers, "failed to authorize generation request")
			streamRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
			return fmt.Errorf("failed to obtain access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	log.Debug("Opening generation stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			streamRequestsTotal.WithLabelValues(endpoint, "cancelled").Inc()
			return ErrStreamCancelled
		}
		log.Error("HTTP request for generation stream failed", zap.Error(err))
		c.dispatchError(handlers, "failed to connect to generation service")
		streamRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return fmt.Errorf("failed to communicate with generation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Warn("Received non-2xx status for generation stream",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody),
		)
		c.dispatchError(handlers, fmt.Sprintf("generation service returned status %d", resp.StatusCode))
		streamRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return fmt.Errorf("received unexpected status %d from generation service", resp.StatusCode)
	}

	return c.readLoop(ctx, endpoint, resp.Body, handlers, log)
}

// readLoop читает тело ответа кусками, декодирует фреймы и диспетчеризует их
// строго в порядке поступления до терминального события.
func (c *streamClient) readLoop(ctx context.Context, endpoint string, body io.Reader, handlers StreamHandlers, log *zap.Logger) error {
	decoder := sse.NewDecoder(c.logger)
	buf := make([]byte, streamReadBufferSize)
	resultFired := false

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, frame := range decoder.Feed(buf[:n]) {
				// После запроса отмены ни один колбэк не вызывается,
				// даже для уже буферизованных фреймов.
				if ctx.Err() != nil {
					decoder.Reset()
					streamRequestsTotal.WithLabelValues(endpoint, "cancelled").Inc()
					return ErrStreamCancelled
				}
				streamFramesTotal.WithLabelValues(frame.Event).Inc()

				terminal, status, err := c.dispatch(frame, handlers, &resultFired, log)
				if terminal {
					streamRequestsTotal.WithLabelValues(endpoint, status).Inc()
					return err
				}
			}
		}
		if readErr != nil {
			if ctx.Err() != nil {
				decoder.Reset()
				streamRequestsTotal.WithLabelValues(endpoint, "cancelled").Inc()
				return ErrStreamCancelled
			}
			// EOF без терминального фрейма — это обрыв, а не штатное завершение.
			log.Warn("Generation stream ended without terminal frame", zap.Error(readErr))
			c.dispatchError(handlers, "generation stream ended unexpectedly")
			streamRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
			return fmt.Errorf("generation stream ended unexpectedly: %w", readErr)
		}
	}
}

// dispatch вызывает колбэк для одного фрейма.
// Возвращает признак терминальности, метку статуса для метрики и ошибку для вызывающего.
func (c *streamClient) dispatch(frame sse.Frame, handlers StreamHandlers, resultFired *bool, log *zap.Logger) (bool, string, error) {
	switch frame.Event {
	case sse.EventProgress:
		var p sse.ProgressPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			log.Warn("Skipping progress frame with unexpected payload", zap.Error(err))
			return false, "", nil
		}
		if handlers.OnProgress != nil {
			handlers.OnProgress(p.Message, p.Progress)
		}
		return false, "", nil

	case sse.EventResult:
		if *resultFired {
			log.Warn("Duplicate result frame received, dropping")
			return false, "", nil
		}
		*resultFired = true
		if handlers.OnResult != nil {
			handlers.OnResult(frame.Data)
		}
		return false, "", nil

	case sse.EventError:
		message := sse.NormalizeErrorPayload(frame.Data)
		log.Warn("Generation stream reported error", zap.String("message", message))
		c.dispatchError(handlers, message)
		return true, "domain_error", fmt.Errorf("generation failed: %s", message)

	case sse.EventComplete:
		if handlers.OnComplete != nil {
			handlers.OnComplete()
		}
		return true, "success", nil

	default:
		if cb, ok := handlers.Confirmations[frame.Event]; ok {
			// Подтверждение завершает стрим: продолжение генерации требует
			// нового запроса с решением пользователя, OnComplete не вызывается.
			cb(frame.Data)
			return true, "confirmation", nil
		}
		// Неизвестные виды событий игнорируются, набор открытый.
		log.Debug("Ignoring unknown stream event kind", zap.String("event", frame.Event))
		return false, "", nil
	}
}

func (c *streamClient) dispatchError(handlers StreamHandlers, message string) {
	if handlers.OnError != nil {
		handlers.OnError(message)
	}
}
