package sse_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel-client/internal/sse"
)

const referenceStream = "event: progress\ndata: {\"message\":\"drafting\",\"progress\":10}\n\n" +
	"event: result\ndata: {\"project_id\":\"p1\",\"time_period\":\"T1\"}\n\n" +
	"event: complete\ndata: {}\n\n"

func decodeAll(t *testing.T, chunks ...string) []sse.Frame {
	t.Helper()
	d := sse.NewDecoder(nil)
	var frames []sse.Frame
	for _, chunk := range chunks {
		frames = append(frames, d.Feed([]byte(chunk))...)
	}
	return frames
}

func TestDecoder_SingleChunk(t *testing.T) {
	frames := decodeAll(t, referenceStream)
	require.Len(t, frames, 3)

	assert.Equal(t, "progress", frames[0].Event)
	assert.Equal(t, "result", frames[1].Event)
	assert.Equal(t, "complete", frames[2].Event)

	var p sse.ProgressPayload
	require.NoError(t, json.Unmarshal(frames[0].Data, &p))
	assert.Equal(t, "drafting", p.Message)
	assert.Equal(t, 10, p.Progress)
}

// Свойство границ: любой способ порезать валидный поток на куски
// (включая разрез посреди строки и посреди JSON-значения)
// дает тот же упорядоченный список фреймов.
func TestDecoder_EverySplitPosition(t *testing.T) {
	want := decodeAll(t, referenceStream)
	require.Len(t, want, 3)

	for i := 1; i < len(referenceStream); i++ {
		got := decodeAll(t, referenceStream[:i], referenceStream[i:])
		require.Equal(t, want, got, "split at byte %d must not change decoded frames", i)
	}
}

func TestDecoder_ByteAtATime(t *testing.T) {
	d := sse.NewDecoder(nil)
	var frames []sse.Frame
	for i := 0; i < len(referenceStream); i++ {
		frames = append(frames, d.Feed([]byte{referenceStream[i]})...)
	}
	require.Len(t, frames, 3)
	assert.Equal(t, "progress", frames[0].Event)
	assert.Equal(t, "complete", frames[2].Event)
}

func TestDecoder_MultiLineDataJoinedWithNewline(t *testing.T) {
	stream := "event: result\ndata: {\"text\":\n" + `data: "two lines"}` + "\n\n"
	frames := decodeAll(t, stream)
	require.Len(t, frames, 1)

	var payload struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(frames[0].Data, &payload))
	assert.Equal(t, "two lines", payload.Text)
}

// Битый JSON в одном фрейме не должен ронять поток и терять соседние фреймы.
func TestDecoder_MalformedFrameIsSkipped(t *testing.T) {
	stream := "event: progress\ndata: {\"message\":\"a\",\"progress\":1}\n\n" +
		"event: progress\ndata: {not json at all\n\n" +
		"event: progress\ndata: {\"message\":\"b\",\"progress\":2}\n\n"

	frames := decodeAll(t, stream)
	require.Len(t, frames, 2)

	var first, second sse.ProgressPayload
	require.NoError(t, json.Unmarshal(frames[0].Data, &first))
	require.NoError(t, json.Unmarshal(frames[1].Data, &second))
	assert.Equal(t, "a", first.Message)
	assert.Equal(t, "b", second.Message)
}

func TestDecoder_UnknownEventKindIsStillDecoded(t *testing.T) {
	frames := decodeAll(t, "event: heartbeat\ndata: {}\n\n")
	require.Len(t, frames, 1)
	assert.Equal(t, "heartbeat", frames[0].Event)
}

func TestDecoder_IgnoresCommentsAndBlanks(t *testing.T) {
	stream := ": keep-alive\n\nevent: complete\ndata: {}\n\n"
	frames := decodeAll(t, stream)
	require.Len(t, frames, 1)
	assert.Equal(t, "complete", frames[0].Event)
}

// CRLF-поток (прокси с переписыванием переносов) декодируется так же,
// как LF-эквивалент, при любом разрезе на куски — включая разрез между \r и \n.
func TestDecoder_CRLFStreamMatchesLF(t *testing.T) {
	crlf := strings.ReplaceAll(referenceStream, "\n", "\r\n")

	want := decodeAll(t, referenceStream)
	require.Len(t, want, 3)
	require.Equal(t, want, decodeAll(t, crlf))

	for i := 1; i < len(crlf); i++ {
		got := decodeAll(t, crlf[:i], crlf[i:])
		require.Equal(t, want, got, "split at byte %d must not change decoded frames", i)
	}
}

func TestDecoder_ResetDropsBufferedTail(t *testing.T) {
	d := sse.NewDecoder(nil)
	require.Empty(t, d.Feed([]byte("event: progress\ndata: {\"mes")))
	d.Reset()
	// Хвост отброшен: достройка старого фрейма невозможна.
	frames := d.Feed([]byte("sage\":\"x\",\"progress\":5}\n\n"))
	assert.Empty(t, frames)
}

func TestNormalizeErrorPayload(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"object form", `{"error":"upstream timeout"}`, "upstream timeout"},
		{"bare string", `"quota exceeded"`, "quota exceeded"},
		{"empty object", `{}`, "generation failed"},
		{"null", `null`, "generation failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sse.NormalizeErrorPayload(json.RawMessage(tc.data)))
		})
	}
}
