package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/observe"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/pipeline"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/session"
)

// writeTimeout bounds one response frame.
const writeTimeout = 5 * time.Second

// handleStream serves one call over a WebSocket. The session lives as long
// as the connection; utterances are answered in arrival order.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		id = uuid.NewString()
	}
	// Accept copies these headers into the 101 response.
	w.Header().Set("X-Session-ID", id)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(observe.WithSession(r.Context(), id))
	defer cancel()
	log := observe.Logger(ctx)

	defer func() {
		if err := s.rag.EndSession(id); err != nil && !errors.Is(err, session.ErrNotFound) {
			log.Warn("stream: end session failed", "err", err)
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				log.Debug("stream: read ended", "err", err)
			}
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		}
		if typ != websocket.MessageText {
			_ = conn.Close(websocket.StatusUnsupportedData, "text frames only")
			return
		}

		req := parseFrame(data)
		req.SessionID = id
		resp, err := s.rag.Run(ctx, req)

		writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
		if err != nil {
			if errors.Is(err, pipeline.ErrEmptyQuery) {
				cancelWrite()
				continue
			}
			log.Error("stream: utterance failed", "err", err)
			_, msg := errorStatus(err)
			err = wsjson.Write(writeCtx, conn, errorBody{Error: msg})
		} else {
			err = wsjson.Write(writeCtx, conn, resp)
		}
		cancelWrite()
		if err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
			return
		}
	}
}

// parseFrame accepts a bare utterance or a JSON object with query and
// include_docs.
func parseFrame(data []byte) pipeline.Request {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var req ragRequest
		if err := json.Unmarshal(trimmed, &req); err == nil {
			return pipeline.Request{Query: req.Query, IncludeDocs: req.IncludeDocs}
		}
	}
	return pipeline.Request{Query: strings.TrimSpace(string(data))}
}
