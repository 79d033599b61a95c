// Package mux abstracts the container writer. The capture session only
// touches the Muxer interface; the libavformat implementation lives in
// libav.go and tests substitute their own.
package mux

import (
	"github.com/deckgrab/deckgrab/internal/capture"
	"github.com/deckgrab/deckgrab/internal/packet"
)

// Muxer interleaves packets from the capture streams into a container file.
// AddVideoStream/AddAudioStream must be called before WriteHeader; the
// returned indexes go into MediaPacket.StreamIndex. WritePacket is called
// only by the writer loop, WriteTrailer and Close only by the controller,
// never concurrently.
type Muxer interface {
	AddVideoStream(cfg capture.StreamConfig) (int, error)
	AddAudioStream(cfg capture.StreamConfig) (int, error)
	WriteHeader() error
	WritePacket(pkt *packet.MediaPacket) error
	WriteTrailer() error
	Close() error
}
