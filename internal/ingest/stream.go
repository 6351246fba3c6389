package ingest

import (
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/internal/vision"
)

// stream accepts a WebSocket and feeds every binary message into the
// recording as one frame. Each message is answered with a JSON text message
// carrying the admission outcome. The socket is closed once the recording is
// finalized, stopped or removed.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.rec.Status(id); err != nil {
		h.fail(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("ingest: websocket accept failed", "recording_id", id, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.maxFrameBytes)

	ctx := observe.WithRecordingID(r.Context(), id)
	log := observe.Logger(ctx)
	log.Debug("ingest: stream opened")

	var received, admitted int
	defer func() {
		log.Info("ingest: stream closed", "received", received, "admitted", admitted)
	}()

	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				log.Debug("ingest: stream read ended", "err", err)
			}
			return
		}
		received++
		if typ != websocket.MessageBinary {
			conn.Close(websocket.StatusUnsupportedData, "frames must be binary messages")
			return
		}

		// A malformed envelope is still enqueued, without a header, so the
		// recording counts it as errored.
		var ack frameResponse
		header, image, err := decodeBinaryFrame(msg)
		if err != nil {
			log.Debug("ingest: malformed stream frame", "err", err)
		} else {
			ack.Seq = header.Seq
		}
		adm, err := h.rec.Enqueue(id, header, image)
		if err != nil {
			if !errors.Is(err, ErrRecordingNotFound) {
				log.Warn("ingest: enqueue failed", "err", err)
			}
			conn.Close(websocket.StatusNormalClosure, "recording closed")
			return
		}
		if adm == vision.RejectedClosed {
			conn.Close(websocket.StatusNormalClosure, "recording closed")
			return
		}
		if adm == vision.Admitted {
			admitted++
		}
		ack.Admission = adm.String()

		if err := wsjson.Write(ctx, conn, ack); err != nil {
			log.Debug("ingest: stream write failed", "err", err)
			return
		}
	}
}
