package seriesplot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

const bufferSize = 64

type HttpServer struct {
	broadcaster  *FrameBroadcaster
	dashboard    Dashboard
	library      Library
	host         string
	port         uint16
	metadata     Metadata
	writeTimeout time.Duration
	mux          *http.ServeMux
	logger       logrus.FieldLogger
}

// StreamEndedMessage is the body of /errors.
type StreamEndedMessage struct {
	StreamEnded bool
	StreamError string
}

// chartsResponse is the body of /charts.
type chartsResponse struct {
	Seq    int
	Charts []MountedChart
}

func NewHttpServer(broadcaster *FrameBroadcaster, dashboard Dashboard, library Library, host string, port uint16, metadata Metadata, writeTimeout time.Duration) *HttpServer {
	s := &HttpServer{
		broadcaster:  broadcaster,
		dashboard:    dashboard,
		library:      library,
		host:         host,
		port:         port,
		metadata:     metadata,
		writeTimeout: writeTimeout,
		mux:          http.NewServeMux(),
		logger:       logrus.WithField("tag", "HttpServer"),
	}

	s.mux.HandleFunc("/", s.handlePage)
	s.mux.HandleFunc("/charts", s.handleCharts)
	s.mux.HandleFunc("/metadata", s.handleMetadata)
	s.mux.HandleFunc("/errors", s.handleErrors)
	s.mux.HandleFunc("/ws", s.handleWebSocket)

	return s
}

func (s *HttpServer) Handler() http.Handler {
	return s.mux
}

func (s *HttpServer) latestCharts() (int, []MountedChart) {
	if s.broadcaster == nil {
		return -1, nil
	}

	frame, ok := s.broadcaster.Latest()
	if !ok {
		return -1, nil
	}

	return frame.Seq, frame.Charts
}

func (s *HttpServer) handlePage(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}

	_, charts := s.latestCharts()
	page, err := s.dashboard.Render(s.library, charts)
	if err != nil {
		s.logger.WithError(err).Error("failed to render dashboard")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := page.WriteHTML(&buf); err != nil {
		s.logger.WithError(err).Error("failed to write page")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *HttpServer) handleCharts(w http.ResponseWriter, req *http.Request) {
	seq, charts := s.latestCharts()
	s.writeJSON(w, chartsResponse{Seq: seq, Charts: charts})
}

func (s *HttpServer) handleMetadata(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, s.metadata)
}

func (s *HttpServer) handleErrors(w http.ResponseWriter, req *http.Request) {
	var msg StreamEndedMessage
	if s.broadcaster != nil && s.broadcaster.Ended() {
		msg.StreamEnded = true
		if err := s.broadcaster.Err(); err != nil {
			msg.StreamError = err.Error()
		}
	}
	s.writeJSON(w, msg)
}

func (s *HttpServer) writeJSON(w http.ResponseWriter, v interface{}) {
	setCORSHeaders(w)

	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
	w.Write([]byte("\n"))
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "content-type")
	w.Header().Set("Access-Control-Allow-Methods", "*")
}

func (s *HttpServer) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	c, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to accept new websocket connection")
		return
	}

	if s.broadcaster == nil {
		c.Close(websocket.StatusNormalClosure, "no data source")
		return
	}

	ctx := req.Context()
	ctx = c.CloseRead(ctx) // We only ever write to this websocket.

	// Clients learn the title and mounts before any chart arrives.
	metadataMsg, err := EncodeMetadata(s.metadata)
	if err != nil {
		s.logger.WithError(err).Error("failed to encode metadata")
		c.Close(websocket.StatusInternalError, "encoding failed")
		return
	}
	if err := s.writeMessage(ctx, c, metadataMsg); err != nil {
		s.logger.WithError(err).Warn("failed to send metadata")
		return
	}

	channel := make(chan Frame, bufferSize)
	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			select {
			case frame := <-channel:
				messages, err := EncodeFrame(frame)
				if err != nil {
					s.logger.WithError(err).Error("failed to encode frame")
					c.Close(websocket.StatusInternalError, "encoding failed")
					return
				}

				for _, msg := range messages {
					if err := s.writeMessage(ctx, c, msg); err != nil {
						// At this point the websocket is closed, nothing more to send.
						s.logger.WithError(err).Warn("websocket write failed and closed")
						return
					}
				}

				if ended, _ := frame.StreamEnded(); ended {
					c.Close(websocket.StatusNormalClosure, "stream ended")
					return
				}
			case <-ctx.Done():
				s.logger.Info("client closed connection or context canceled")
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}()

	// The channel is already drained by the goroutine above, so registering
	// cannot block on a full buffer.
	s.broadcaster.RegisterChannel(ctx, channel)

	wg.Wait()

	// The broadcaster may be blocked sending to this channel while holding its
	// lock, so keep draining until deregistration went through.
	drained := make(chan struct{})
	go func() {
		for {
			select {
			case <-channel:
			case <-drained:
				return
			}
		}
	}()
	s.broadcaster.DeregisterChannel(ctx, channel)
	close(drained)
	close(channel)
}

func (s *HttpServer) writeMessage(ctx context.Context, c *websocket.Conn, msg []byte) error {
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}
	return c.Write(ctx, websocket.MessageBinary, msg)
}

func (s *HttpServer) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(int(s.port)))
}

func (s *HttpServer) Run(openBrowserOnStart bool) error {
	url := fmt.Sprintf("http://%s", s.Addr())
	s.logger.Infof("starting HTTP server at %s", url)

	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}

	if openBrowserOnStart {
		openBrowser(url)
	}

	return http.Serve(listener, s.mux)
}
