// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const (
	// maxFrameSize bounds a single envelope. Conversation payloads are
	// small; anything larger indicates a corrupt or hostile stream.
	maxFrameSize = 16 << 20

	// compressThreshold is the payload size below which compression is
	// not attempted. Small envelopes expand under zstd framing.
	compressThreshold = 512

	flagCompressed = 0x01
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// writeFrame writes one length-prefixed frame, compressing the payload
// when it is large enough and compression actually shrinks it.
func writeFrame(w io.Writer, payload []byte) error {
	flags := byte(0)
	body := payload
	if len(payload) >= compressThreshold {
		compressed := zstdEncoder.EncodeAll(payload, nil)
		if len(compressed) < len(payload) {
			flags |= flagCompressed
			body = compressed
		}
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("transport: frame of %d bytes exceeds limit", len(body))
	}

	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[:4], uint32(len(body)))
	header[4] = flags
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("transport: writing frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("transport: writing frame body: %w", err)
	}
	return nil
}

// readFrame reads one frame and returns the decompressed payload.
func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:4])
	if size > maxFrameSize {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("transport: reading frame body: %w", err)
	}
	if header[4]&flagCompressed == 0 {
		return body, nil
	}
	payload, err := zstdDecoder.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: decompressing frame: %w", err)
	}
	return payload, nil
}
