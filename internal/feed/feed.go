// Package feed streams bars for one instrument over a websocket and keeps
// the full bar history the indicator store is rebuilt from. The last bar
// mutates in place while it is forming; a fresh bar is reported with
// isNewBar=true.
package feed

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ha-trend-bot/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// BarHandler receives the full bar history on every update.
type BarHandler func(instrument string, bars []models.Bar, isNewBar bool)

// Feed is a reconnecting websocket bar stream for one instrument.
type Feed struct {
	url        string
	instrument string
	logger     *zap.SugaredLogger
	handler    BarHandler

	mu       sync.Mutex
	conn     *websocket.Conn
	stopChan chan struct{}
	bars     []models.Bar
}

// New creates a feed seeded with warmup history. The handler is invoked
// from the feed's goroutine.
func New(url, instrument string, warmup []models.Bar, handler BarHandler, logger *zap.SugaredLogger) *Feed {
	bars := make([]models.Bar, len(warmup))
	copy(bars, warmup)
	return &Feed{
		url:        url,
		instrument: instrument,
		logger:     logger,
		handler:    handler,
		stopChan:   make(chan struct{}),
		bars:       bars,
	}
}

// Start launches the connection loop.
func (f *Feed) Start() {
	go f.connectionLoop()
}

// Stop terminates the feed. The active connection is torn down immediately
// so a blocked read does not delay shutdown.
func (f *Feed) Stop() {
	close(f.stopChan)
}

func (f *Feed) setConn(conn *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conn = conn
}

// connectionLoop keeps the websocket alive, reconnecting after failures.
func (f *Feed) connectionLoop() {
	for {
		select {
		case <-f.stopChan:
			f.logger.Infof("feed stopped: %s", f.instrument)
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
		if err != nil {
			f.logger.Warnf("feed connect failed for %s: %v, retrying in 5s", f.instrument, err)
			select {
			case <-f.stopChan:
				f.logger.Infof("feed stopped: %s", f.instrument)
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		f.setConn(conn)
		f.logger.Infof("feed connected: %s", f.instrument)

		if err := f.readMessages(conn); err != nil {
			f.logger.Warnf("feed read error for %s: %v", f.instrument, err)
		}
		conn.Close()
		f.setConn(nil)

		select {
		case <-f.stopChan:
			f.logger.Infof("feed stopped: %s", f.instrument)
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// klineMessage is the wire format of one bar update.
type klineMessage struct {
	OpenTime int64       `json:"t"` // bar open time, ms
	Open     json.Number `json:"o"`
	High     json.Number `json:"h"`
	Low      json.Number `json:"l"`
	Close    json.Number `json:"c"`
	Volume   json.Number `json:"v"`
	Final    bool        `json:"x"` // bar closed
}

// readMessages consumes bar updates from an established connection with a
// ping/pong keepalive. It blocks until the connection breaks or the feed is
// stopped; the writer goroutine owns all writes, including the close frame
// and the conn.Close that unblocks the pending read on stop.
func (f *Feed) readMessages(conn *websocket.Conn) error {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10 // must be less than pongWait
	)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	writerStop := make(chan struct{})
	defer close(writerStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-f.stopChan:
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
				return
			case <-writerStop:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.stopChan:
				return nil // the stop path closed the connection
			default:
				return fmt.Errorf("read message: %w", err)
			}
		}

		var msg klineMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			f.logger.Warnf("unparseable bar message: %v", err)
			continue
		}

		bar, err := msg.toBar()
		if err != nil {
			f.logger.Warnf("invalid bar values: %v", err)
			continue
		}

		isNewBar := f.apply(bar)
		f.handler(f.instrument, f.bars, isNewBar)
	}
}

// apply merges a bar into the history: same open time mutates the forming
// bar in place, a later open time appends a new one.
func (f *Feed) apply(bar models.Bar) bool {
	if n := len(f.bars); n > 0 && f.bars[n-1].Timestamp.Equal(bar.Timestamp) {
		f.bars[n-1] = bar
		return false
	}
	f.bars = append(f.bars, bar)
	return true
}

func (m klineMessage) toBar() (models.Bar, error) {
	open, err := m.Open.Float64()
	if err != nil {
		return models.Bar{}, err
	}
	high, err := m.High.Float64()
	if err != nil {
		return models.Bar{}, err
	}
	low, err := m.Low.Float64()
	if err != nil {
		return models.Bar{}, err
	}
	closePrice, err := m.Close.Float64()
	if err != nil {
		return models.Bar{}, err
	}
	volume, _ := m.Volume.Float64()

	return models.Bar{
		Timestamp: time.UnixMilli(m.OpenTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}
