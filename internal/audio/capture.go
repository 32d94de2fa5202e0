package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/sengokudaikon/echoes/internal/metrics"
	"github.com/sengokudaikon/echoes/internal/ring"
)

// fragmentBytes sizes the Pulse buffer fragment to 20ms of audio.
func fragmentBytes(sampleRate, channels int) uint32 {
	return uint32(sampleRate * channels * 2 / 50)
}

// Capture streams PCM from one Pulse source into the ring buffer at the
// device's native rate. Downstream owns resampling; capture only frames
// the bytes and never blocks on a slow consumer.
type Capture struct {
	device     Device
	sampleRate int
	channels   int

	client *pulse.Client
	stream *pulse.RecordStream

	buf *ring.Buffer
	m   *metrics.Metrics

	stopCh chan struct{}

	mu      sync.Mutex
	carry   []byte
	stopped bool

	seq   atomic.Uint64
	bytes atomic.Int64
}

// StartCapture opens a record stream on the selected device and begins
// pushing frames into buf.
func StartCapture(ctx context.Context, selected Device, sampleRate, channels int, buf *ring.Buffer, m *metrics.Metrics) (*Capture, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}

	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	capture := &Capture{
		device:     selected,
		sampleRate: sampleRate,
		channels:   channels,
		client:     client,
		buf:        buf,
		m:          m,
		stopCh:     make(chan struct{}),
	}

	channelOpt := pulse.RecordMono
	if channels == 2 {
		channelOpt = pulse.RecordStereo
	}

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		channelOpt,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordBufferFragmentSize(fragmentBytes(sampleRate, channels)),
		pulse.RecordMediaName("echoes dictation"),
	)
	if err != nil {
		capture.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	stream.Start()

	go func() {
		<-ctx.Done()
		_ = capture.Stop()
	}()

	return capture, nil
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Stop halts the stream exactly once. Frames already in the ring buffer
// remain for the consumer to drain.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// Close is a convenience alias for Stop.
func (c *Capture) Close() {
	_ = c.Stop()
}

// onPCM converts raw little-endian bytes from Pulse into a frame and
// pushes it into the ring buffer. A trailing odd byte carries over to the
// next callback.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	data := append(c.carry, buffer...)
	whole := len(data) &^ 1
	c.carry = append([]byte(nil), data[whole:]...)
	c.mu.Unlock()

	c.bytes.Add(int64(len(buffer)))

	if whole == 0 {
		return len(buffer), nil
	}

	samples := make([]int16, whole/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}

	frame := ring.Frame{
		Seq:        c.seq.Add(1) - 1,
		SampleRate: c.sampleRate,
		Channels:   c.channels,
		Samples:    samples,
	}

	c.m.FramesCaptured.Inc()
	if !c.buf.Push(frame) {
		c.m.RingOverflows.Inc()
	}

	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
