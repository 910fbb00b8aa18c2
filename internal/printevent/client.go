// Package printevent consumes print-event notifications from an external
// source (the Print-Event Hook, §4.L) over a websocket and drives the
// Time-lapse Recorder's three trigger methods.
package printevent

import (
	"encoding/json"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"camerad/internal/logger"
)

var log = logger.WithComponent("PRINTEVENT")

// Recorder is the subset of internal/timelapse.Recorder this client drives.
type Recorder interface {
	PrintStart(name string, owner bool) error
	LayerChange(current, total int)
	PrintEnd(reason string)
}

// Event is one JSON object received per text frame, e.g.
// {"event":"print_start","name":"..."} or {"event":"layer_change","current":2,"total":10}.
type Event struct {
	Event   string `json:"event"`
	Name    string `json:"name"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Reason  string `json:"reason"`
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Client owns the websocket connection and its reconnect loop.
type Client struct {
	url      string
	recorder Recorder
	dialer   *websocket.Dialer

	connected atomic.Bool
}

// New builds a Client targeting wsURL (e.g. "ws://127.0.0.1:7125/websocket").
func New(wsURL string, recorder Recorder) *Client {
	return &Client{
		url:      wsURL,
		recorder: recorder,
		dialer:   websocket.DefaultDialer,
	}
}

// Connected reports whether the websocket is currently established.
func (c *Client) Connected() bool { return c.connected.Load() }

// Run drives the connect/read/reconnect loop until stop is closed.
// Exponential backoff (1s, 2s, 4s, ... capped at 30s) matches the teacher's
// ffmpeg-restart backoff idiom, applied here to the websocket dial.
func (c *Client) Run(stop <-chan struct{}) {
	if _, err := url.Parse(c.url); err != nil {
		log.Error("invalid url %q: %v", c.url, err)
		return
	}

	retry := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			backoff := time.Duration(1<<uint(retry)) * initialBackoff
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			log.Warn("dial %s failed: %v, retrying in %v", c.url, err, backoff)
			retry++
			select {
			case <-stop:
				return
			case <-time.After(backoff):
				continue
			}
		}

		retry = 0
		c.connected.Store(true)
		c.readLoop(conn, stop)
		c.connected.Store(false)
		conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn, stop <-chan struct{}) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			c.dispatch(data)
		}
	}()

	select {
	case <-stop:
		conn.Close()
		<-done
	case <-done:
	}
}

func (c *Client) dispatch(data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn("malformed event: %v", err)
		return
	}

	switch ev.Event {
	case "print_start":
		if err := c.recorder.PrintStart(ev.Name, true); err != nil {
			log.Error("print_start(%q): %v", ev.Name, err)
		}
	case "layer_change":
		c.recorder.LayerChange(ev.Current, ev.Total)
	case "print_end":
		c.recorder.PrintEnd(ev.Reason)
	default:
		log.Warn("unknown event type %q", ev.Event)
	}
}
