package session

import (
	"encoding/base64"
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"
)

const defaultQRSize = 256

// ChallengeEncoder turns a raw challenge payload into a displayable artifact.
type ChallengeEncoder interface {
	Encode(payload string) (string, error)
}

// ChallengeEncoderFunc adapts a function to ChallengeEncoder.
type ChallengeEncoderFunc func(payload string) (string, error)

func (f ChallengeEncoderFunc) Encode(payload string) (string, error) { return f(payload) }

// QREncoder renders challenges as PNG data URLs. When Terminal is set the QR
// code is also printed there in block characters.
type QREncoder struct {
	Size     int
	Terminal io.Writer
}

func (e QREncoder) Encode(payload string) (string, error) {
	if payload == "" {
		return "", fmt.Errorf("%w: empty payload", ErrChallengeEncodingFailed)
	}
	size := e.Size
	if size <= 0 {
		size = defaultQRSize
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrChallengeEncodingFailed, err)
	}
	if e.Terminal != nil {
		if q, err := qrcode.New(payload, qrcode.Low); err == nil {
			fmt.Fprintln(e.Terminal, q.ToSmallString(false))
		}
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
