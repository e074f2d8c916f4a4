package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// 火山引擎流式识别的二进制帧：4 字节头、可选序号、负载长度、负载。

const (
	volcProtocolVersion uint8 = 0b0001
	volcHeaderWords     uint8 = 0b0001 // header size in 4-byte words
)

type volcMessageType uint8

const (
	volcFullClientRequest  volcMessageType = 0b0001
	volcAudioOnlyRequest   volcMessageType = 0b0010
	volcFullServerResponse volcMessageType = 0b1001
	volcErrorMessage       volcMessageType = 0b1111
)

type volcFlags uint8

const (
	volcNoSequence       volcFlags = 0b0000
	volcPositiveSequence volcFlags = 0b0001
	volcLastNoSequence   volcFlags = 0b0010
	volcNegativeSequence volcFlags = 0b0011
)

const (
	volcSerialNone uint8 = 0b0000
	volcSerialJSON uint8 = 0b0001

	volcCompressNone uint8 = 0b0000
	volcCompressGzip uint8 = 0b0001
)

// volcFrame is one decoded protocol frame. Payload is always uncompressed.
type volcFrame struct {
	Type          volcMessageType
	Flags         volcFlags
	Serialization uint8
	Gzip          bool
	Sequence      int32
	ErrorCode     uint32
	Payload       []byte
}

func (f volcFrame) hasSequence() bool {
	switch f.Flags & 0b0011 {
	case volcPositiveSequence, volcNegativeSequence:
		return true
	}
	return false
}

// last reports whether the sender marked this as its final frame.
func (f volcFrame) last() bool {
	switch f.Flags & 0b0011 {
	case volcLastNoSequence, volcNegativeSequence:
		return true
	}
	return false
}

// volcAudioFrame builds an audio-only request. The final frame carries the
// negated sequence number.
func volcAudioFrame(chunk []byte, sequence int32, last bool) volcFrame {
	f := volcFrame{
		Type:          volcAudioOnlyRequest,
		Flags:         volcPositiveSequence,
		Serialization: volcSerialNone,
		Gzip:          true,
		Sequence:      sequence,
		Payload:       chunk,
	}
	if last {
		f.Flags = volcNegativeSequence
		f.Sequence = -sequence
	}
	return f
}

func encodeVolcFrame(f volcFrame) ([]byte, error) {
	payload := f.Payload
	compression := volcCompressNone
	if f.Gzip {
		zipped, err := gzipBytes(payload)
		if err != nil {
			return nil, err
		}
		payload = zipped
		compression = volcCompressGzip
	}

	var buf bytes.Buffer
	buf.Grow(12 + len(payload))
	buf.WriteByte(volcProtocolVersion<<4 | volcHeaderWords)
	buf.WriteByte(uint8(f.Type)<<4 | uint8(f.Flags))
	buf.WriteByte(f.Serialization<<4 | compression)
	buf.WriteByte(0)

	if f.hasSequence() {
		_ = binary.Write(&buf, binary.BigEndian, f.Sequence)
	}
	if f.Type == volcErrorMessage {
		_ = binary.Write(&buf, binary.BigEndian, f.ErrorCode)
	}
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes(), nil
}

func decodeVolcFrame(data []byte) (volcFrame, error) {
	r := bytes.NewReader(data)

	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return volcFrame{}, fmt.Errorf("failed to read header: %w", err)
	}
	if version := header[0] >> 4; version != volcProtocolVersion {
		return volcFrame{}, fmt.Errorf("unsupported protocol version: %d", version)
	}
	if extra := int64(header[0]&0x0F)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return volcFrame{}, fmt.Errorf("failed to read extended header: %w", err)
		}
	}

	f := volcFrame{
		Type:          volcMessageType(header[1] >> 4),
		Flags:         volcFlags(header[1] & 0x0F),
		Serialization: header[2] >> 4,
		Gzip:          header[2]&0x0F == volcCompressGzip,
	}

	if f.hasSequence() {
		if err := binary.Read(r, binary.BigEndian, &f.Sequence); err != nil {
			return volcFrame{}, fmt.Errorf("failed to read sequence: %w", err)
		}
	}
	if f.Type == volcErrorMessage {
		if err := binary.Read(r, binary.BigEndian, &f.ErrorCode); err != nil {
			return volcFrame{}, fmt.Errorf("failed to read error code: %w", err)
		}
	}

	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return volcFrame{}, fmt.Errorf("failed to read payload size: %w", err)
	}
	if int64(size) > int64(r.Len()) {
		return volcFrame{}, fmt.Errorf("payload truncated: want %d bytes, have %d", size, r.Len())
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return volcFrame{}, fmt.Errorf("failed to read payload: %w", err)
	}

	if f.Gzip && len(payload) > 0 {
		plain, err := gunzipBytes(payload)
		if err != nil {
			return volcFrame{}, err
		}
		payload = plain
	}
	f.Payload = payload
	return f, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return out, nil
}
