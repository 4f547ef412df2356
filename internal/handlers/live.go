// internal/handlers/live.go
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pencilparty/pencilparty/internal/middleware"
)

// liveLeaderboard streams a board over websocket: one snapshot on connect, then an update
// after every settlement that can change it. ?game_type= selects the board; empty or
// "all" is the cross-game board.
func (s *Server) liveLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		notFound(w, r)
		return
	}
	gameType := normalizeGameType(r.URL.Query().Get("game_type"))

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.CORSOrigins),
	})
	if err != nil {
		s.Log.WithError(err).Warn("WebSocket accept failed")
		return
	}
	defer c.Close(websocket.StatusInternalError, "internal server error")
	middleware.LogWebSocketConnect(s.Log, r.RemoteAddr, r.URL.Path)

	sub := s.Hub.Subscribe(gameType)
	defer s.Hub.Unsubscribe(sub)

	// the feed is one-way; CloseRead handles pings and cancels ctx once the peer goes away
	ctx := c.CloseRead(r.Context())

	snap, err := s.Hub.Snapshot(ctx, gameType)
	if err == nil {
		err = writeTimeout(ctx, c, snap)
	}
	for err == nil {
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case upd, ok := <-sub.C:
			if !ok {
				middleware.LogWebSocketDisconnect(s.Log, r.RemoteAddr, r.URL.Path, nil)
				c.Close(websocket.StatusTryAgainLater, "subscriber fell behind")
				return
			}
			err = writeTimeout(ctx, c, upd)
		}
	}

	middleware.LogWebSocketDisconnect(s.Log, r.RemoteAddr, r.URL.Path, err)
	c.Close(websocket.StatusNormalClosure, "")
}

func writeTimeout(ctx context.Context, c *websocket.Conn, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, c, v)
}

// originPatterns converts CORS origins ("https://host:port") into the host patterns the
// websocket origin check expects.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		if o != "" {
			patterns = append(patterns, strings.TrimSuffix(o, "/"))
		}
	}
	return patterns
}
