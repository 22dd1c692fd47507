package seriesplot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Protocol constants
const (
	// ProtocolVersion is the current version of the websocket protocol
	ProtocolVersion byte = 1

	// Message type constants
	MessageTypeChart     byte = 0x01
	MessageTypeSeries    byte = 0x02
	MessageTypeStreamEnd byte = 0x03
	MessageTypeMetadata  byte = 0x04

	// Header size in bytes
	EnvelopeHeaderSize = 8

	// FrameSeq, ChartIndex, SeriesIndex, Length
	seriesMessageHeaderSize = 16
)

// EnvelopeHeader represents the message envelope header
type EnvelopeHeader struct {
	Version  byte
	Reserved [2]byte // Reserved for future use
	Type     byte
	Length   uint32 // Payload length in bytes
}

// ChartMessage describes a chart without its points (type 0x01). The points
// follow as one SeriesMessage per series.
type ChartMessage struct {
	FrameSeq   int
	ChartIndex int
	Mount      string
	Titles     Titles
	Options    ChartOptions
	Categories []string
	Labels     []string
	Colors     []Color
}

// SeriesMessage carries the points of one series (type 0x02). Points travel
// as raw float64 so gaps keep their NaN bits.
type SeriesMessage struct {
	FrameSeq    uint32
	ChartIndex  uint32
	SeriesIndex uint32
	Length      uint32 // Number of points
	Points      []float64
}

// StreamEndMessage represents a STREAM_END message payload (type 0x03)
type StreamEndMessage struct {
	Error bool
	Msg   string
}

// WSMessage represents a complete websocket message with header and payload
type WSMessage struct {
	Header  EnvelopeHeader
	Payload interface{} // One of: ChartMessage, SeriesMessage, StreamEndMessage, Metadata
}

// EncodeEnvelopeHeader encodes the envelope header into a byte slice
func EncodeEnvelopeHeader(env EnvelopeHeader) []byte {
	buf := make([]byte, EnvelopeHeaderSize)
	buf[0] = env.Version
	buf[1] = env.Reserved[0]
	buf[2] = env.Reserved[1]
	buf[3] = env.Type
	binary.LittleEndian.PutUint32(buf[4:8], env.Length)
	return buf
}

// DecodeEnvelopeHeader decodes the envelope header from a byte slice
func DecodeEnvelopeHeader(buf []byte) (EnvelopeHeader, error) {
	if len(buf) < EnvelopeHeaderSize {
		return EnvelopeHeader{}, fmt.Errorf("buffer too short: expected at least %d bytes, got %d", EnvelopeHeaderSize, len(buf))
	}

	env := EnvelopeHeader{
		Version: buf[0],
		Type:    buf[3],
		Length:  binary.LittleEndian.Uint32(buf[4:8]),
	}
	env.Reserved[0] = buf[1]
	env.Reserved[1] = buf[2]

	return env, nil
}

// EncodeSeriesMessage encodes a SERIES message payload
func EncodeSeriesMessage(msg SeriesMessage) ([]byte, error) {
	if uint32(len(msg.Points)) != msg.Length {
		return nil, fmt.Errorf("Length field (%d) doesn't match point count (%d)", msg.Length, len(msg.Points))
	}

	buf := make([]byte, seriesMessageHeaderSize+msg.Length*8)

	binary.LittleEndian.PutUint32(buf[0:4], msg.FrameSeq)
	binary.LittleEndian.PutUint32(buf[4:8], msg.ChartIndex)
	binary.LittleEndian.PutUint32(buf[8:12], msg.SeriesIndex)
	binary.LittleEndian.PutUint32(buf[12:16], msg.Length)

	offset := seriesMessageHeaderSize
	for _, p := range msg.Points {
		binary.LittleEndian.PutUint64(buf[offset:offset+8], math.Float64bits(p))
		offset += 8
	}

	return buf, nil
}

// DecodeSeriesMessage decodes a SERIES message payload
func DecodeSeriesMessage(buf []byte) (SeriesMessage, error) {
	if len(buf) < seriesMessageHeaderSize {
		return SeriesMessage{}, fmt.Errorf("buffer too short for SERIES message: expected at least %d bytes, got %d", seriesMessageHeaderSize, len(buf))
	}

	msg := SeriesMessage{
		FrameSeq:    binary.LittleEndian.Uint32(buf[0:4]),
		ChartIndex:  binary.LittleEndian.Uint32(buf[4:8]),
		SeriesIndex: binary.LittleEndian.Uint32(buf[8:12]),
		Length:      binary.LittleEndian.Uint32(buf[12:16]),
	}

	expectedSize := uint64(seriesMessageHeaderSize) + uint64(msg.Length)*8
	if uint64(len(buf)) != expectedSize {
		return SeriesMessage{}, fmt.Errorf("buffer size mismatch: expected %d bytes for %d points, got %d", expectedSize, msg.Length, len(buf))
	}

	msg.Points = make([]float64, msg.Length)
	offset := seriesMessageHeaderSize
	for i := range msg.Points {
		msg.Points[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[offset : offset+8]))
		offset += 8
	}

	return msg, nil
}

// Length prefixed JSON is shared by CHART and STREAM_END payloads.
func encodeJSONPayload(v interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 4+len(jsonData))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(jsonData)))
	copy(buf[4:], jsonData)

	return buf, nil
}

func decodeJSONPayload(buf []byte, v interface{}) error {
	if len(buf) < 4 {
		return fmt.Errorf("buffer too short: expected at least 4 bytes, got %d", len(buf))
	}

	jsonLength := binary.LittleEndian.Uint32(buf[0:4])
	expectedSize := uint64(4) + uint64(jsonLength)
	if uint64(len(buf)) != expectedSize {
		return fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", expectedSize, len(buf))
	}

	return json.Unmarshal(buf[4:], v)
}

// EncodeChartMessage encodes a CHART message payload
func EncodeChartMessage(msg ChartMessage) ([]byte, error) {
	buf, err := encodeJSONPayload(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chart message: %w", err)
	}
	return buf, nil
}

// DecodeChartMessage decodes a CHART message payload
func DecodeChartMessage(buf []byte) (ChartMessage, error) {
	var msg ChartMessage
	if err := decodeJSONPayload(buf, &msg); err != nil {
		return ChartMessage{}, fmt.Errorf("failed to decode chart message: %w", err)
	}
	return msg, nil
}

// EncodeStreamEndMessage encodes a STREAM_END message payload
func EncodeStreamEndMessage(msg StreamEndMessage) ([]byte, error) {
	buf, err := encodeJSONPayload(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream end message: %w", err)
	}
	return buf, nil
}

// DecodeStreamEndMessage decodes a STREAM_END message payload
func DecodeStreamEndMessage(buf []byte) (StreamEndMessage, error) {
	var msg StreamEndMessage
	if err := decodeJSONPayload(buf, &msg); err != nil {
		return StreamEndMessage{}, fmt.Errorf("failed to decode stream end message: %w", err)
	}
	return msg, nil
}

// EncodeMetadataMessage encodes a METADATA message payload. It is the first
// message of every connection.
func EncodeMetadataMessage(metadata Metadata) ([]byte, error) {
	buf, err := encodeJSONPayload(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return buf, nil
}

// DecodeMetadataMessage decodes a METADATA message payload
func DecodeMetadataMessage(buf []byte) (Metadata, error) {
	var metadata Metadata
	if err := decodeJSONPayload(buf, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return metadata, nil
}

// EncodeWSMessage encodes a WSMessage into a complete message byte slice
func EncodeWSMessage(msg WSMessage) ([]byte, error) {
	var payload []byte
	var err error

	switch msg.Header.Type {
	case MessageTypeChart:
		chartMsg, ok := msg.Payload.(ChartMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected ChartMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeChartMessage(chartMsg)
	case MessageTypeSeries:
		seriesMsg, ok := msg.Payload.(SeriesMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected SeriesMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeSeriesMessage(seriesMsg)
	case MessageTypeStreamEnd:
		streamEnd, ok := msg.Payload.(StreamEndMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected StreamEndMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeStreamEndMessage(streamEnd)
	case MessageTypeMetadata:
		metadata, ok := msg.Payload.(Metadata)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected Metadata for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeMetadataMessage(metadata)
	default:
		return nil, fmt.Errorf("unknown message type: 0x%02x", msg.Header.Type)
	}
	if err != nil {
		return nil, err
	}

	// Update header length to match actual payload size
	msg.Header.Length = uint32(len(payload))

	fullMsg := make([]byte, 0, EnvelopeHeaderSize+len(payload))
	fullMsg = append(fullMsg, EncodeEnvelopeHeader(msg.Header)...)
	fullMsg = append(fullMsg, payload...)

	return fullMsg, nil
}

// DecodeWSMessage decodes a complete message (envelope + payload)
func DecodeWSMessage(buf []byte) (WSMessage, error) {
	env, err := DecodeEnvelopeHeader(buf)
	if err != nil {
		return WSMessage{}, err
	}

	expectedSize := uint64(EnvelopeHeaderSize) + uint64(env.Length)
	if uint64(len(buf)) < expectedSize {
		return WSMessage{}, fmt.Errorf("buffer too short: expected %d bytes (header + payload), got %d", expectedSize, len(buf))
	}

	payloadBytes := buf[EnvelopeHeaderSize:expectedSize]

	var payload interface{}
	switch env.Type {
	case MessageTypeChart:
		payload, err = DecodeChartMessage(payloadBytes)
	case MessageTypeSeries:
		payload, err = DecodeSeriesMessage(payloadBytes)
	case MessageTypeStreamEnd:
		payload, err = DecodeStreamEndMessage(payloadBytes)
	case MessageTypeMetadata:
		payload, err = DecodeMetadataMessage(payloadBytes)
	default:
		return WSMessage{}, fmt.Errorf("unknown message type: 0x%02x", env.Type)
	}
	if err != nil {
		return WSMessage{}, err
	}

	return WSMessage{
		Header:  env,
		Payload: payload,
	}, nil
}

func newMessage(msgType byte, payload interface{}) WSMessage {
	return WSMessage{
		Header:  EnvelopeHeader{Version: ProtocolVersion, Type: msgType},
		Payload: payload,
	}
}

// EncodeMetadata encodes a complete METADATA message.
func EncodeMetadata(metadata Metadata) ([]byte, error) {
	return EncodeWSMessage(newMessage(MessageTypeMetadata, metadata))
}

// EncodeFrame encodes every chart of a frame as one CHART message followed by
// its SERIES messages. The end-of-stream marker becomes a STREAM_END message.
func EncodeFrame(frame Frame) ([][]byte, error) {
	var messages []WSMessage

	if ended, streamErr := frame.StreamEnded(); ended {
		end := StreamEndMessage{Msg: "stream ended"}
		if streamErr != nil {
			end = StreamEndMessage{Error: true, Msg: streamErr.Error()}
		}
		messages = append(messages, newMessage(MessageTypeStreamEnd, end))
	}

	for ci, chart := range frame.Charts {
		cfg := chart.Config
		header := ChartMessage{
			FrameSeq:   frame.Seq,
			ChartIndex: ci,
			Mount:      chart.Mount,
			Titles:     cfg.Titles,
			Options:    cfg.Options,
			Categories: cfg.Categories,
			Labels:     make([]string, len(cfg.Series)),
			Colors:     make([]Color, len(cfg.Series)),
		}
		for si, s := range cfg.Series {
			header.Labels[si] = s.Label
			header.Colors[si] = s.Color
		}
		messages = append(messages, newMessage(MessageTypeChart, header))

		for si, s := range cfg.Series {
			points := make([]float64, len(s.Points))
			for i, p := range s.Points {
				points[i] = float64(p)
			}
			messages = append(messages, newMessage(MessageTypeSeries, SeriesMessage{
				FrameSeq:    uint32(frame.Seq),
				ChartIndex:  uint32(ci),
				SeriesIndex: uint32(si),
				Length:      uint32(len(points)),
				Points:      points,
			}))
		}
	}

	encoded := make([][]byte, 0, len(messages))
	for _, msg := range messages {
		buf, err := EncodeWSMessage(msg)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, buf)
	}

	return encoded, nil
}

// FrameAssembler rebuilds charts from decoded CHART and SERIES messages.
type FrameAssembler struct {
	charts map[int]*assembledChart
}

type assembledChart struct {
	header   ChartMessage
	series   map[int][]Point
	complete bool
}

func NewFrameAssembler() *FrameAssembler {
	return &FrameAssembler{charts: make(map[int]*assembledChart)}
}

// AddChart starts a chart. A new header for the same index replaces the
// previous chart (a newer frame).
func (a *FrameAssembler) AddChart(msg ChartMessage) {
	a.charts[msg.ChartIndex] = &assembledChart{
		header: msg,
		series: make(map[int][]Point),
	}
}

// AddSeries attaches points to their chart. When the last series of a chart
// arrives the finished chart is returned.
func (a *FrameAssembler) AddSeries(msg SeriesMessage) (MountedChart, bool, error) {
	chart, ok := a.charts[int(msg.ChartIndex)]
	if !ok || chart.header.FrameSeq != int(msg.FrameSeq) {
		return MountedChart{}, false, fmt.Errorf("series for unknown chart %d of frame %d", msg.ChartIndex, msg.FrameSeq)
	}

	if int(msg.SeriesIndex) >= len(chart.header.Labels) {
		return MountedChart{}, false, fmt.Errorf("series index %d out of range for chart %d", msg.SeriesIndex, msg.ChartIndex)
	}

	if len(msg.Points) != len(chart.header.Categories) {
		return MountedChart{}, false, fmt.Errorf("series %d has %d points, chart %d has %d categories", msg.SeriesIndex, len(msg.Points), msg.ChartIndex, len(chart.header.Categories))
	}

	points := make([]Point, len(msg.Points))
	for i, p := range msg.Points {
		points[i] = Point(p)
	}
	chart.series[int(msg.SeriesIndex)] = points

	if chart.complete || len(chart.series) < len(chart.header.Labels) {
		return MountedChart{}, false, nil
	}
	chart.complete = true

	return chart.build(), true, nil
}

func (c *assembledChart) build() MountedChart {
	series := make([]ChartSeries, len(c.header.Labels))
	for i, label := range c.header.Labels {
		var color Color
		if i < len(c.header.Colors) {
			color = c.header.Colors[i]
		}
		series[i] = ChartSeries{
			Label:  label,
			Points: c.series[i],
			Color:  color,
			Fill:   TransparentFill,
		}
	}

	return MountedChart{
		Mount: c.header.Mount,
		Config: ChartConfig{
			Categories: c.header.Categories,
			Series:     series,
			Titles:     c.header.Titles,
			Options:    c.header.Options,
		},
	}
}
