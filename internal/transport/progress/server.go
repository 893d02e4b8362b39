package progress

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"voxeltest.ai/internal/gametest"
)

const Version = "1.0"

// Client -> Server. First message on the connection; may be re-sent to
// change the event filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Kinds restricts the stream to these event kinds. Empty means all.
	Kinds []gametest.EventKind `json:"kinds,omitempty"`
}

// Server -> Client.
type EventMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	RunID           string         `json:"run_id"`
	Event           gametest.Event `json:"event"`
}

type StatusMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Status          Status `json:"status"`
}

// Status is a point-in-time view of a run.
type Status struct {
	RunID          string `json:"run_id"`
	Tick           int64  `json:"tick"`
	Running        bool   `json:"running"`
	Halted         bool   `json:"halted"`
	Batch          string `json:"batch,omitempty"`
	BatchProgress  string `json:"batch_progress,omitempty"`
	Total          int    `json:"total"`
	Done           int    `json:"done"`
	Passed         int    `json:"passed"`
	FailedRequired int    `json:"failed_required"`
	FailedOptional int    `json:"failed_optional"`
}

// StatusOf summarizes r. It must be called from the goroutine driving r.
func StatusOf(runID string, r *gametest.Runner) Status {
	all := r.Progress()
	st := Status{
		RunID:          runID,
		Tick:           r.Ticker().Now(),
		Running:        !r.Idle(),
		Halted:         r.Halted(),
		Total:          all.TotalCount(),
		Done:           all.DoneCount(),
		Passed:         all.PassedCount(),
		FailedRequired: all.FailedRequiredCount(),
		FailedOptional: all.FailedOptionalCount(),
	}
	if bt := r.BatchTracker(); bt != nil {
		st.BatchProgress = bt.ProgressBar()
		if tests := bt.Tests(); len(tests) > 0 {
			st.Batch = tests[0].Definition().Batch
		}
	}
	return st
}

type subscriber struct {
	out   chan []byte
	kinds atomic.Pointer[[]gametest.EventKind]
}

func (s *subscriber) wants(k gametest.EventKind) bool {
	kinds := s.kinds.Load()
	return kinds == nil || len(*kinds) == 0 || slices.Contains(*kinds, k)
}

// Server streams run events to websocket subscribers and serves the current
// run status as JSON.
type Server struct {
	runID string
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[uint64]*subscriber

	status  atomic.Pointer[Status]
	dropped atomic.Uint64
}

func NewServer(runID string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	s := &Server{
		runID: runID,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: map[uint64]*subscriber{},
	}
	s.status.Store(&Status{RunID: runID})
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.StatusHandler())
	mux.HandleFunc("/ws", s.WSHandler())
	return mux
}

// Listener publishes every lifecycle event of the run.
func (s *Server) Listener() gametest.Listener { return gametest.EventListener(s.Publish) }

func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Dropped counts messages discarded because a subscriber fell behind.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) Publish(ev gametest.Event) {
	b, err := json.Marshal(EventMsg{Type: "EVENT", ProtocolVersion: Version, RunID: s.runID, Event: ev})
	if err != nil {
		return
	}
	s.broadcast(b, func(sub *subscriber) bool { return sub.wants(ev.Kind) })
}

// SetStatus replaces the served status and pushes it to subscribers.
func (s *Server) SetStatus(st Status) {
	s.status.Store(&st)
	b, err := json.Marshal(StatusMsg{Type: "STATUS", ProtocolVersion: Version, Status: st})
	if err != nil {
		return
	}
	s.broadcast(b, func(*subscriber) bool { return true })
}

func (s *Server) Status() Status { return *s.status.Load() }

func (s *Server) broadcast(b []byte, match func(*subscriber) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if !match(sub) {
			continue
		}
		select {
		case sub.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) StatusHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.Status())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		client := &subscriber{out: make(chan []byte, 1024)}
		client.kinds.Store(&sub.Kinds)
		id := s.nextID.Add(1)
		s.mu.Lock()
		s.subs[id] = client
		s.mu.Unlock()
		s.log.Debug("progress subscriber joined", "id", id, "remote", r.RemoteAddr)
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			s.log.Debug("progress subscriber left", "id", id)
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-client.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var upd SubscribeMsg
			if err := json.Unmarshal(msg, &upd); err != nil {
				continue
			}
			if upd.Type != "SUBSCRIBE" || upd.ProtocolVersion != Version {
				continue
			}
			client.kinds.Store(&upd.Kinds)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
