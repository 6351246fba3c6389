package ingest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrWong99/poise/pkg/types"
)

// maxHeaderBytes bounds the JSON header of one frame.
const maxHeaderBytes = 4 << 10

// errBadFrame marks a frame whose envelope could not be parsed. Frames that
// parse but carry invalid values are left to the processor to reject.
var errBadFrame = errors.New("ingest: malformed frame")

// readMultipartFrame extracts the "header" field and the "image" file from a
// multipart/form-data request.
func readMultipartFrame(r *http.Request, maxBytes int64) (*types.FrameHeader, []byte, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %w", errBadFrame, err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	raw := r.FormValue("header")
	if raw == "" {
		return nil, nil, fmt.Errorf("%w: missing header field", errBadFrame)
	}
	header, err := decodeHeader([]byte(raw))
	if err != nil {
		return nil, nil, err
	}

	f, _, err := r.FormFile("image")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: image: %w", errBadFrame, err)
	}
	defer f.Close()
	image, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read image: %w", errBadFrame, err)
	}
	return header, image, nil
}

// decodeBinaryFrame splits a stream message into header and image. The layout
// is a 4-byte big-endian header length, the header JSON, then the image bytes.
// The returned image aliases msg.
func decodeBinaryFrame(msg []byte) (*types.FrameHeader, []byte, error) {
	if len(msg) < 4 {
		return nil, nil, fmt.Errorf("%w: message shorter than length prefix", errBadFrame)
	}
	n := binary.BigEndian.Uint32(msg[:4])
	if n == 0 || n > maxHeaderBytes || int(n) > len(msg)-4 {
		return nil, nil, fmt.Errorf("%w: header length %d out of range", errBadFrame, n)
	}
	header, err := decodeHeader(msg[4 : 4+n])
	if err != nil {
		return nil, nil, err
	}
	return header, msg[4+n:], nil
}

// EncodeBinaryFrame builds a stream message for header and image. It is the
// inverse of the server-side decoding and is used by clients and tests.
func EncodeBinaryFrame(header types.FrameHeader, image []byte) ([]byte, error) {
	hb, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("ingest: encode frame header: %w", err)
	}
	msg := make([]byte, 4, 4+len(hb)+len(image))
	binary.BigEndian.PutUint32(msg, uint32(len(hb)))
	msg = append(msg, hb...)
	msg = append(msg, image...)
	return msg, nil
}

func decodeHeader(raw []byte) (*types.FrameHeader, error) {
	if len(raw) > maxHeaderBytes {
		return nil, fmt.Errorf("%w: header exceeds %d bytes", errBadFrame, maxHeaderBytes)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var h types.FrameHeader
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: header: %w", errBadFrame, err)
	}
	return &h, nil
}
