package speech

// StreamConfig 描述送入转写后端的音频格式。
type StreamConfig struct {
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"` // linear16 = little-endian PCM16
	Language   string `json:"language"`
	Model      string `json:"model,omitempty"`
}

// DefaultStreamConfig is the format clients send on the dictation socket:
// 16 kHz, mono, little-endian PCM16, English.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Encoding:   "linear16",
		Language:   "en",
	}
}

// BytesPerSecond returns the raw PCM16 byte rate of the stream.
func (c StreamConfig) BytesPerSecond() int {
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	return c.SampleRate * channels * 2
}
