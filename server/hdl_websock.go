/******************************************************************************
 *
 *  Description :
 *
 *    Handler of websocket connections carrying the same raw byte protocol
 *    as SSH shells: binary frames in, terminal output frames out.
 *
 *****************************************************************************/

package main

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/slbsh/crussh/server/logs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The protocol carries no cookies, auth is explicit.
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveWebSocket authenticates with HTTP basic auth against the account
// registry, upgrades, and runs the session loops.
func serveWebSocket(srv *Server) http.HandlerFunc {
	return func(wrt http.ResponseWriter, req *http.Request) {
		uname, pass, ok := req.BasicAuth()
		if !ok || !srv.users.Authenticate(uname, pass) {
			wrt.Header().Set("WWW-Authenticate", `Basic realm="chat"`)
			http.Error(wrt, "not authorized", http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(wrt, req, nil)
		if err != nil {
			logs.Warning.Println("ws: upgrade failed:", err)
			return
		}

		s, count := srv.sessions.NewSession(ws, normalizeUname(uname), srv)
		logs.Info.Printf("ws: session started sid='%s' user='%s' ip='%s' (%d live)",
			s.sid, s.uname, s.remoteAddr, count)

		go s.writeLoopWS()
		s.start()
		s.readLoopWS()
	}
}

func (s *Session) readLoopWS() {
	defer s.closeSession()

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			return
		}
		s.dispatchRaw(raw)
	}
}

func (s *Session) writeLoopWS() {
	defer s.ws.Close() // breaks readLoopWS

	for {
		select {
		case msg := <-s.send:
			if err := s.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				logs.Warning.Println("s.writeLoopWS:", err, s.sid)
				return
			}
		case <-s.stop:
			return
		}
	}
}
