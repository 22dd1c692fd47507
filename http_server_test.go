package seriesplot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func startTestServer(broadcaster *FrameBroadcaster, dashboard Dashboard) (string, func()) {
	// Use NewHttpServer to ensure the same handler registration and behavior
	// as production code. We deliberately do not call `Run()` to avoid
	// side-effects such as opening a browser or binding to a specific port.
	lib := NewChartJSLibrary()
	s := NewHttpServer(broadcaster, dashboard, lib, "127.0.0.1", 0, NewMetadata(dashboard, lib, 10), 100*time.Millisecond)

	srv := httptest.NewServer(s.Handler())

	cleanup := func() {
		srv.Close()
		if broadcaster != nil {
			broadcaster.Wait()
		}
	}

	return srv.URL, cleanup
}

// getJSON performs a GET against path on baseURL and decodes the JSON body
// into v. Callers are responsible for closing resp.Body.
func getJSON(baseURL, path string, v interface{}) (*http.Response, error) {
	resp, err := http.Get(baseURL + path)
	if err != nil {
		return nil, err
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		resp.Body.Close()
		return resp, err
	}

	return resp, nil
}

// dialWebSocket opens a websocket connection to the /ws endpoint for tests.
// Caller is responsible for calling the returned cleanup function.
func dialWebSocket(baseURL string) (*websocket.Conn, func(), error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse baseURL: %w", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial websocket: %w", err)
	}

	cleanup := func() {
		c.Close(websocket.StatusNormalClosure, "")
	}

	return c, cleanup, nil
}

// readWebsocketChart reads messages until one chart is complete. A
// STREAM_END message is returned as io.EOF.
func readWebsocketChart(c *websocket.Conn, timeout time.Duration) (MountedChart, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	assembler := NewFrameAssembler()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return MountedChart{}, err
		}

		msg, err := DecodeWSMessage(data)
		if err != nil {
			return MountedChart{}, err
		}

		switch payload := msg.Payload.(type) {
		case Metadata:
		case ChartMessage:
			assembler.AddChart(payload)
		case SeriesMessage:
			chart, complete, err := assembler.AddSeries(payload)
			if err != nil {
				return MountedChart{}, err
			}
			if complete {
				return chart, nil
			}
		case StreamEndMessage:
			if payload.Error {
				return MountedChart{}, fmt.Errorf("%w: %s", io.EOF, payload.Msg)
			}
			return MountedChart{}, io.EOF
		}
	}
}

func chartValue(chart MountedChart) float64 {
	return float64(chart.Config.Series[0].Points[0])
}

// waitStreamEnd expects a STREAM_END message followed by a normal closure.
func waitStreamEnd(c *websocket.Conn) error {
	if _, err := readWebsocketChart(c, 500*time.Millisecond); err != io.EOF {
		return fmt.Errorf("expected stream end, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, _, err := c.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
		return fmt.Errorf("unexpected websocket close status: %v (%v)", status, err)
	}
	return nil
}

func TestHTTPServer_Metadata(t *testing.T) {
	t.Run("ReturnsExpectedMetadata", func(t *testing.T) {
		baseURL, cleanup := startTestServer(nil, DefaultDashboard())
		defer cleanup()

		var m Metadata
		resp, err := getJSON(baseURL, "/metadata", &m)
		if err != nil {
			t.Fatalf("failed to fetch /metadata: %v", err)
		}
		defer resp.Body.Close()

		want := Metadata{
			Title:   "Weather Parameter Forecast",
			Library: "chartjs",
			Mounts:  []string{"nasaTable", "nrmseTable"},
			History: 10,
		}
		if !reflect.DeepEqual(m, want) {
			t.Fatalf("metadata mismatch: got %+v want %+v", m, want)
		}
	})

	t.Run("CORSHeaders", func(t *testing.T) {
		baseURL, cleanup := startTestServer(nil, DefaultDashboard())
		defer cleanup()

		resp, err := http.Get(baseURL + "/metadata")
		if err != nil {
			t.Fatalf("failed to GET /metadata: %v", err)
		}
		defer resp.Body.Close()

		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("unexpected Access-Control-Allow-Origin: %q", got)
		}
		if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "content-type" {
			t.Fatalf("unexpected Access-Control-Allow-Headers: %q", got)
		}
		if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "*" {
			t.Fatalf("unexpected Access-Control-Allow-Methods: %q", got)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
			t.Fatalf("unexpected Content-Type: %q", ct)
		}
	})
}

func TestHTTPServer_Errors(t *testing.T) {
	t.Run("NoError", func(t *testing.T) {
		d := NewFrameBroadcaster(newTestReaderFromValues([]float64{10}, 0), testDashboard(), 10)
		d.Start(context.Background())
		d.Wait()

		baseURL, cleanup := startTestServer(d, testDashboard())
		defer cleanup()

		var res StreamEndedMessage
		resp, err := getJSON(baseURL, "/errors", &res)
		if err != nil {
			t.Fatalf("failed to fetch /errors: %v", err)
		}
		defer resp.Body.Close()

		if !res.StreamEnded || res.StreamError != "" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("NotEndedAndNoErrors", func(t *testing.T) {
		br := &blockingResultSetReader{values: []float64{10}, proceed: make(chan struct{})}
		d := NewFrameBroadcaster(br, testDashboard(), 10)
		d.Start(context.Background())

		baseURL, cleanup := startTestServer(d, testDashboard())

		var res StreamEndedMessage
		resp, err := getJSON(baseURL, "/errors", &res)
		if err != nil {
			t.Fatalf("failed to fetch /errors: %v", err)
		}
		resp.Body.Close()

		if res.StreamEnded || res.StreamError != "" {
			t.Fatalf("unexpected result while running: %+v", res)
		}

		// Finish the reader so cleanup can wait for broadcaster to finish.
		br.Proceed()
		cleanup()
	})

	t.Run("WithMalformedTable", func(t *testing.T) {
		reader := NewJSONResultSetReader(strings.NewReader(`{"AHeaders": ["x", "y"], "AValues": [["a"]]}`), "A")
		d := NewFrameBroadcaster(reader, testDashboard(), 10)
		d.Start(context.Background())
		d.Wait()

		baseURL, cleanup := startTestServer(d, testDashboard())
		defer cleanup()

		var res StreamEndedMessage
		resp, err := getJSON(baseURL, "/errors", &res)
		if err != nil {
			t.Fatalf("failed to fetch /errors: %v", err)
		}
		defer resp.Body.Close()

		if !res.StreamEnded || !strings.Contains(res.StreamError, `malformed table "A" at row 0`) {
			t.Fatalf("unexpected result: %+v", res)
		}
	})
}

func TestHTTPServer_Page(t *testing.T) {
	t.Run("RendersLatestFrame", func(t *testing.T) {
		reader := NewJSONResultSetReader(strings.NewReader(forecastJSON), DefaultDashboard().TableNames()...)
		d := NewFrameBroadcaster(reader, DefaultDashboard(), 10)
		d.Start(context.Background())
		d.Wait()

		baseURL, cleanup := startTestServer(d, DefaultDashboard())
		defer cleanup()

		resp, err := http.Get(baseURL + "/")
		if err != nil {
			t.Fatalf("failed to GET /: %v", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status code: %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Fatalf("unexpected Content-Type: %q", ct)
		}
		for _, want := range []string{"nasaTable-canvas", "nrmseTable-canvas", chartJSURL} {
			if !strings.Contains(string(body), want) {
				t.Errorf("page does not contain %q", want)
			}
		}
	})

	t.Run("EmptyMountsBeforeFirstFrame", func(t *testing.T) {
		baseURL, cleanup := startTestServer(nil, DefaultDashboard())
		defer cleanup()

		resp, err := http.Get(baseURL + "/")
		if err != nil {
			t.Fatalf("failed to GET /: %v", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), `id="nasaTable"`) || strings.Contains(string(body), "nasaTable-canvas") {
			t.Fatalf("unexpected page:\n%s", body)
		}
	})

	t.Run("UnknownPath", func(t *testing.T) {
		baseURL, cleanup := startTestServer(nil, DefaultDashboard())
		defer cleanup()

		resp, err := http.Get(baseURL + "/nope")
		if err != nil {
			t.Fatalf("failed to GET /nope: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("unexpected status code: %d", resp.StatusCode)
		}
	})
}

func TestHTTPServer_Charts(t *testing.T) {
	reader := NewJSONResultSetReader(strings.NewReader(`{"AHeaders": ["x", "y"], "AValues": [["a", "N/A"], ["b", 2]]}`), "A")
	d := NewFrameBroadcaster(reader, testDashboard(), 10)
	d.Start(context.Background())
	d.Wait()

	baseURL, cleanup := startTestServer(d, testDashboard())
	defer cleanup()

	resp, err := http.Get(baseURL + "/charts")
	if err != nil {
		t.Fatalf("failed to GET /charts: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	for _, want := range []string{`"Seq":0`, `"Mount":"chart"`, `"Points":[null,2]`, `"Categories":["a","b"]`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/charts does not contain %s: %s", want, body)
		}
	}
}

func TestHTTPServer_WebSocket(t *testing.T) {
	t.Run("SingleConnectionReceivesData", func(t *testing.T) {
		values := []float64{10, 20}
		br := &blockingResultSetReader{values: values, proceed: make(chan struct{})}
		d := NewFrameBroadcaster(br, testDashboard(), 10)
		d.Start(context.Background())

		baseURL, cleanup := startTestServer(d, testDashboard())
		defer cleanup()

		c, closeConn, err := dialWebSocket(baseURL)
		if err != nil {
			t.Fatalf("dial websocket: %v", err)
		}
		defer closeConn()

		for i, want := range values {
			br.Proceed()
			chart, err := readWebsocketChart(c, 500*time.Millisecond)
			if err != nil {
				t.Fatalf("read chart %d: %v", i, err)
			}
			if chart.Mount != "chart" || chartValue(chart) != want {
				t.Fatalf("chart %d mismatch: got %s=%v want %v", i, chart.Mount, chartValue(chart), want)
			}
		}

		if err := waitStreamEnd(c); err != nil {
			t.Fatalf("wait stream end: %v", err)
		}
	})

	t.Run("SecondConnectionReceivesBufferedData", func(t *testing.T) {
		values := []float64{10, 20, 30}
		br := &blockingResultSetReader{values: values, proceed: make(chan struct{})}
		d := NewFrameBroadcaster(br, testDashboard(), 10)
		d.Start(context.Background())

		baseURL, cleanup := startTestServer(d, testDashboard())
		defer cleanup()

		c1, closeC1, err := dialWebSocket(baseURL)
		if err != nil {
			t.Fatalf("dial websocket c1: %v", err)
		}
		defer closeC1()

		br.Proceed()
		chart, err := readWebsocketChart(c1, 500*time.Millisecond)
		if err != nil || chartValue(chart) != 10 {
			t.Fatalf("c1 first chart: %v %+v", err, chart)
		}

		// A second client gets the cached frame immediately.
		c2, closeC2, err := dialWebSocket(baseURL)
		if err != nil {
			t.Fatalf("dial websocket c2: %v", err)
		}
		defer closeC2()

		chart, err = readWebsocketChart(c2, 500*time.Millisecond)
		if err != nil || chartValue(chart) != 10 {
			t.Fatalf("c2 buffered chart: %v %+v", err, chart)
		}

		for _, want := range values[1:] {
			br.Proceed()
			for name, c := range map[string]*websocket.Conn{"c1": c1, "c2": c2} {
				chart, err := readWebsocketChart(c, 500*time.Millisecond)
				if err != nil || chartValue(chart) != want {
					t.Fatalf("%s chart mismatch: err=%v got %v want %v", name, err, chart, want)
				}
			}
		}

		for name, c := range map[string]*websocket.Conn{"c1": c1, "c2": c2} {
			if err := waitStreamEnd(c); err != nil {
				t.Fatalf("%s: %v", name, err)
			}
		}
	})

	t.Run("ConnectAfterStreamEnded", func(t *testing.T) {
		d := NewFrameBroadcaster(newTestReaderFromValues([]float64{1, 2}, 0), testDashboard(), 10)
		d.Start(context.Background())
		d.Wait()

		baseURL, cleanup := startTestServer(d, testDashboard())
		defer cleanup()

		c, closeConn, err := dialWebSocket(baseURL)
		if err != nil {
			t.Fatalf("dial websocket: %v", err)
		}
		defer closeConn()

		for _, want := range []float64{1, 2} {
			chart, err := readWebsocketChart(c, 500*time.Millisecond)
			if err != nil || chartValue(chart) != want {
				t.Fatalf("cached chart mismatch: err=%v got %+v want %v", err, chart, want)
			}
		}

		if err := waitStreamEnd(c); err != nil {
			t.Fatalf("wait stream end: %v", err)
		}
	})

	t.Run("MetadataIsFirstMessage", func(t *testing.T) {
		d := NewFrameBroadcaster(newTestReaderFromValues([]float64{1}, 0), testDashboard(), 10)
		d.Start(context.Background())
		d.Wait()

		baseURL, cleanup := startTestServer(d, testDashboard())
		defer cleanup()

		c, closeConn, err := dialWebSocket(baseURL)
		if err != nil {
			t.Fatalf("dial websocket: %v", err)
		}
		defer closeConn()

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msg, err := DecodeWSMessage(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}

		want := NewMetadata(testDashboard(), NewChartJSLibrary(), 10)
		if msg.Header.Type != MessageTypeMetadata || !reflect.DeepEqual(msg.Payload, want) {
			t.Fatalf("unexpected first message: type 0x%02x payload %+v", msg.Header.Type, msg.Payload)
		}
	})

	t.Run("NoBroadcaster", func(t *testing.T) {
		baseURL, cleanup := startTestServer(nil, testDashboard())
		defer cleanup()

		c, closeConn, err := dialWebSocket(baseURL)
		if err != nil {
			t.Fatalf("dial websocket: %v", err)
		}
		defer closeConn()

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		_, _, err = c.Read(ctx)
		if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
			t.Fatalf("expected normal closure, got %v", err)
		}
	})
}
