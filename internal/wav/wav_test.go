package wav

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sengokudaikon/echoes/internal/record"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i%2000 - 1000)
	}
	buf := record.FinalizedBuffer{SessionID: "s1", Samples: samples, Duration: 100 * time.Millisecond}

	payload, err := Encode(buf)
	require.NoError(t, err)
	require.Greater(t, len(payload), 44)

	decoded, rate, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, 16000, rate)
	require.Equal(t, samples, decoded)
}

func TestEncodeHeaderFields(t *testing.T) {
	payload, err := EncodePCM(make([]int16, 320), 16000)
	require.NoError(t, err)

	require.Equal(t, "RIFF", string(payload[0:4]))
	require.Equal(t, "WAVE", string(payload[8:12]))
	require.Equal(t, "fmt ", string(payload[12:16]))
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(payload[20:22])) // PCM
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(payload[22:24])) // mono
	require.Equal(t, uint32(16000), binary.LittleEndian.Uint32(payload[24:28]))
}

func TestEncodeEmptyBufferFails(t *testing.T) {
	_, err := Encode(record.FinalizedBuffer{SessionID: "s1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty buffer")
}

func TestEncodeInvalidRateFails(t *testing.T) {
	_, err := EncodePCM(make([]int16, 16), 0)
	require.Error(t, err)
}
