package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"

	"github.com/cactusdynamics/seriesplot"
	"nhooyr.io/websocket"
)

// Config holds the configuration for the WS reader
type Config struct {
	ServerURL string
	Output    io.Writer
	Logger    *slog.Logger
}

// WSReader reads charts from the seriesplot /ws endpoint and outputs them as
// CSV, one row per point.
type WSReader struct {
	config    Config
	csvWriter *csv.Writer
	assembler *seriesplot.FrameAssembler

	// Sent by the server before any chart.
	metadata *seriesplot.Metadata
}

// NewWSReader creates a new WS reader with the given configuration
func NewWSReader(config Config) *WSReader {
	return &WSReader{
		config:    config,
		csvWriter: csv.NewWriter(config.Output),
		assembler: seriesplot.NewFrameAssembler(),
	}
}

// Connect establishes websocket connection and processes messages
func (w *WSReader) Connect(ctx context.Context) error {
	u, err := url.Parse(w.config.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	// Change scheme to websocket
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	u.Path = "/ws"

	w.config.Logger.Info("Connecting to websocket", "url", u.String())

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// A frame can carry many points.
	conn.SetReadLimit(64 << 20)

	if err := w.csvWriter.Write([]string{"frame", "mount", "series", "category", "value"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for {
		_, messageData, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				w.config.Logger.Info("Connection closed normally")
				break
			}
			w.config.Logger.Error("Error reading message", "error", err)
			break
		}

		if err := w.processMessage(messageData); err != nil {
			if err == io.EOF {
				w.config.Logger.Info("Stream ended")
				break
			}
			w.config.Logger.Error("Error processing message", "error", err)
		}
	}

	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

// processMessage processes a single websocket message
func (w *WSReader) processMessage(messageData []byte) error {
	msg, err := seriesplot.DecodeWSMessage(messageData)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	switch msg.Header.Type {
	case seriesplot.MessageTypeChart:
		chartMsg, ok := msg.Payload.(seriesplot.ChartMessage)
		if !ok {
			return fmt.Errorf("invalid CHART message payload type: %T", msg.Payload)
		}
		w.config.Logger.Debug("Received chart", "mount", chartMsg.Mount, "frame", chartMsg.FrameSeq)
		w.assembler.AddChart(chartMsg)

	case seriesplot.MessageTypeSeries:
		seriesMsg, ok := msg.Payload.(seriesplot.SeriesMessage)
		if !ok {
			return fmt.Errorf("invalid SERIES message payload type: %T", msg.Payload)
		}
		chart, complete, err := w.assembler.AddSeries(seriesMsg)
		if err != nil {
			return err
		}
		if complete {
			return w.writeChart(int(seriesMsg.FrameSeq), chart)
		}

	case seriesplot.MessageTypeMetadata:
		metadata, ok := msg.Payload.(seriesplot.Metadata)
		if !ok {
			return fmt.Errorf("invalid METADATA message payload type: %T", msg.Payload)
		}
		w.config.Logger.Info("Received metadata", "title", metadata.Title, "library", metadata.Library, "mounts", metadata.Mounts)
		w.metadata = &metadata

	case seriesplot.MessageTypeStreamEnd:
		streamEnd, ok := msg.Payload.(seriesplot.StreamEndMessage)
		if !ok {
			return fmt.Errorf("invalid STREAM_END message payload type: %T", msg.Payload)
		}
		if streamEnd.Error {
			w.config.Logger.Error("Stream ended with error", "message", streamEnd.Msg)
		} else {
			w.config.Logger.Info("Stream ended successfully", "message", streamEnd.Msg)
		}
		return io.EOF // Signal end of stream

	default:
		w.config.Logger.Warn("Unknown message type", "type", fmt.Sprintf("0x%02x", msg.Header.Type))
	}

	return nil
}

// writeChart writes every point of a finished chart. Gaps have an empty value.
func (w *WSReader) writeChart(frameSeq int, chart seriesplot.MountedChart) error {
	frame := strconv.Itoa(frameSeq)

	for _, series := range chart.Config.Series {
		for i, p := range series.Points {
			value := ""
			if !p.IsGap() {
				value = strconv.FormatFloat(float64(p), 'g', -1, 64)
			}
			row := []string{frame, chart.Mount, series.Label, chart.Config.Categories[i], value}
			if err := w.csvWriter.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

func main() {
	var serverURL = flag.String("url", "http://localhost:5274", "URL of the seriesplot server")
	var verbose = flag.Bool("v", false, "log every received chart")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	config := Config{
		ServerURL: *serverURL,
		Output:    os.Stdout,
		Logger:    logger,
	}

	reader := NewWSReader(config)
	if err := reader.Connect(context.Background()); err != nil {
		config.Logger.Error("Failed to connect", "error", err)
		os.Exit(1)
	}
}
