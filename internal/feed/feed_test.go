package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ha-trend-bot/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestApplyMergesFormingBar(t *testing.T) {
	f := New("ws://unused", "MNQ", nil, nil, zap.NewNop().Sugar())

	open := time.UnixMilli(1_700_000_000_000)

	isNew := f.apply(models.Bar{Timestamp: open, Open: 100, High: 101, Low: 99, Close: 100.5})
	assert.True(t, isNew, "first bar opens a new slot")
	require.Len(t, f.bars, 1)

	// Same open time: the forming bar mutates in place.
	isNew = f.apply(models.Bar{Timestamp: open, Open: 100, High: 102, Low: 99, Close: 101.8})
	assert.False(t, isNew)
	require.Len(t, f.bars, 1)
	assert.Equal(t, 101.8, f.bars[0].Close)
	assert.Equal(t, 102.0, f.bars[0].High)

	// A later open time appends.
	isNew = f.apply(models.Bar{Timestamp: open.Add(time.Minute), Open: 101.8, High: 103, Low: 101, Close: 102.2})
	assert.True(t, isNew)
	require.Len(t, f.bars, 2)
}

func TestNewCopiesWarmupHistory(t *testing.T) {
	warmup := []models.Bar{{Timestamp: time.Now(), Open: 1, High: 2, Low: 0, Close: 1}}
	f := New("ws://unused", "MNQ", warmup, nil, zap.NewNop().Sugar())

	warmup[0].Close = 999
	assert.Equal(t, 1.0, f.bars[0].Close, "the feed must own its bar history")
}

func TestStopClosesConnectionPromptly(t *testing.T) {
	upgrader := websocket.Upgrader{}
	disconnected := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Send nothing; the client read stays blocked until Stop tears
		// the connection down.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(disconnected)
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := New(url, "MNQ", nil, func(string, []models.Bar, bool) {}, zap.NewNop().Sugar())
	f.Start()

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.conn != nil
	}, 2*time.Second, 10*time.Millisecond, "the feed should connect")

	f.Stop()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not tear down the connection")
	}
}

func TestKlineMessageToBar(t *testing.T) {
	raw := `{"t":1700000000000,"o":"15000.25","h":"15010.5","l":"14995","c":"15008.75","v":"123.4","x":true}`

	var msg klineMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.True(t, msg.Final)

	bar, err := msg.toBar()
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), bar.Timestamp)
	assert.Equal(t, 15000.25, bar.Open)
	assert.Equal(t, 15010.5, bar.High)
	assert.Equal(t, 14995.0, bar.Low)
	assert.Equal(t, 15008.75, bar.Close)
	assert.Equal(t, 123.4, bar.Volume)
}

func TestKlineMessageRejectsBadNumbers(t *testing.T) {
	var msg klineMessage
	require.NoError(t, json.Unmarshal([]byte(`{"t":1,"o":"not-a-price","h":"1","l":"1","c":"1","v":"0"}`), &msg))

	_, err := msg.toBar()
	require.Error(t, err)
}
