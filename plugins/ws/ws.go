package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"netmon/pkg/plugin"
)

// WSOutput streams every point as JSON to the websocket clients connected
// on /ws. When a path is configured its files are served on /.
type WSOutput struct {
	name      string
	addr      string
	staticDir string
	log       zerolog.Logger

	mu       sync.Mutex
	clients  map[*websocket.Conn]bool
	upgrader websocket.Upgrader
	srv      *http.Server
	ln       net.Listener
}

func init() {
	plugin.RegisterOutput("ws", New)
}

func New(cfg plugin.OutputConfig) (plugin.Output, error) {
	if cfg.Listen == "" {
		return nil, fmt.Errorf("ws output needs a listen address")
	}
	name := cfg.Name
	if name == "" {
		name = "ws"
	}
	return &WSOutput{
		name:      name,
		addr:      cfg.Listen,
		staticDir: cfg.Path,
		log:       zerolog.Nop(),
		clients:   make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

func (w *WSOutput) Name() string { return w.name }

func (w *WSOutput) SetLogger(log zerolog.Logger) {
	w.log = log.With().Str("output", w.name).Logger()
}

func (w *WSOutput) Start() error {
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", w.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", w.handleWS)
	if w.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(w.staticDir)))
	}

	w.mu.Lock()
	w.ln = ln
	w.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv := w.srv
	w.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error().Err(err).Str("addr", w.addr).Msg("websocket server failed")
		}
	}()
	return nil
}

// Addr returns the bound listen address once started.
func (w *WSOutput) Addr() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ln == nil {
		return ""
	}
	return w.ln.Addr().String()
}

func (w *WSOutput) handleWS(rw http.ResponseWriter, req *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, req, nil)
	if err != nil {
		w.log.Debug().Err(err).Str("remote", req.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	w.mu.Lock()
	w.clients[conn] = true
	w.mu.Unlock()
}

func (w *WSOutput) clientCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

// Write broadcasts p. Clients that fail to receive it are disconnected.
func (w *WSOutput) Write(ctx context.Context, p plugin.Point) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for c := range w.clients {
		err := c.SetWriteDeadline(deadline)
		if err == nil {
			err = c.WriteJSON(p)
		}
		if err != nil {
			w.log.Warn().Err(err).Str("remote", c.RemoteAddr().String()).Msg("dropping websocket client")
			c.Close()
			delete(w.clients, c)
		}
	}
	return nil
}

func (w *WSOutput) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for c := range w.clients {
		c.Close()
		delete(w.clients, c)
	}
	if w.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.srv.Shutdown(ctx)
}
