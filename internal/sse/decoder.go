// Package sse декодирует текстовый поток Server-Sent Events в дискретные фреймы.
// Поток приходит кусками произвольного размера; граница куска может попасть
// в середину строки или JSON-значения, на результат это влиять не должно.
package sse

import (
	"bytes"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// Decoder накапливает куски текста и выдает завершенные фреймы.
// Фрейм завершается пустой строкой; незавершенный хвост буферизуется
// до следующего вызова Feed.
type Decoder struct {
	buf    bytes.Buffer
	logger *zap.Logger
}

// NewDecoder создает декодер. nil-логгер заменяется на no-op.
func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger.Named("SSEDecoder")}
}

// Feed принимает очередной кусок потока и возвращает все полностью
// декодированные фреймы в порядке поступления. Фрейм с битым JSON
// логируется и пропускается — остальной поток не страдает.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buf.Write(chunk)

	var frames []Frame
	for {
		raw := d.buf.Bytes()
		idx, sep := frameEnd(raw)
		if idx < 0 {
			break
		}
		block := string(raw[:idx])
		d.buf.Next(idx + sep)

		frame, ok := d.parseBlock(block)
		if ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

// frameEnd находит ближайшую пустую строку — границу фрейма — и ширину
// разделителя. Поток может переносить строки как LF, так и CRLF.
func frameEnd(raw []byte) (idx, sep int) {
	idx, sep = bytes.Index(raw, []byte("\n\n")), 2
	if j := bytes.Index(raw, []byte("\r\n\r\n")); j >= 0 && (idx < 0 || j < idx) {
		idx, sep = j, 4
	}
	return idx, sep
}

// Reset отбрасывает буферизованный незавершенный хвост.
// Вызывается при отмене стрима, чтобы недоставленные данные не всплыли позже.
func (d *Decoder) Reset() {
	d.buf.Reset()
}

// parseBlock разбирает один блок между пустыми строками.
// Требуются обе строки: event и data; несколько строк data склеиваются
// через \n перед разбором JSON (стандартная multi-line семантика SSE).
func (d *Decoder) parseBlock(block string) (Frame, bool) {
	var event string
	var dataLines []string

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, ":"):
			// Комментарий по протоколу SSE, пропускаем.
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if event == "" || len(dataLines) == 0 {
		if strings.TrimSpace(block) != "" {
			d.logger.Debug("Skipping incomplete SSE block", zap.String("block", block))
		}
		return Frame{}, false
	}

	payload := strings.Join(dataLines, "\n")
	if !json.Valid([]byte(payload)) {
		d.logger.Warn("Skipping frame with malformed JSON payload",
			zap.String("event", event),
			zap.String("data", payload),
		)
		return Frame{}, false
	}

	return Frame{Event: event, Data: json.RawMessage(payload)}, true
}
