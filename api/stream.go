// ABOUTME: Adapts an SSE response body into the chat.Stream interface.
// ABOUTME: Decodes raw frames and lifts them to typed wire.StreamFrame values.

package api

import (
	"io"

	"github.com/2389-research/parley/sse"
	"github.com/2389-research/parley/wire"
)

// frameReader pulls decoded frames off an open response body.
type frameReader struct {
	body    io.ReadCloser
	decoder *sse.Decoder
}

func newFrameReader(body io.ReadCloser) *frameReader {
	return &frameReader{body: body, decoder: sse.NewDecoder(body)}
}

// Next returns the next typed frame. io.EOF marks clean stream end. A frame
// whose payload fails to decode is surfaced with its raw text intact rather
// than aborting the stream.
func (r *frameReader) Next() (wire.StreamFrame, error) {
	raw, err := r.decoder.Next()
	if err != nil {
		return wire.StreamFrame{}, err
	}
	frame, err := wire.ParseFrame(raw)
	if err != nil {
		return wire.StreamFrame{Event: raw.Event, Raw: string(raw.Data)}, nil
	}
	return frame, nil
}

// Close releases the underlying response body.
func (r *frameReader) Close() error {
	return r.body.Close()
}
