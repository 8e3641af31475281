/******************************************************************************
 *
 *  Description :
 *
 *    Handler of SSH connections: password authentication against the
 *    account registry, then each accepted shell becomes one session fed by
 *    raw reads. See also hdl_websock.go.
 *
 *****************************************************************************/

package main

import (
	"errors"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/slbsh/crussh/server/logs"
)

// sshServerConfig builds the handshake config: host key from a PEM file,
// password auth delegated to the registry.
func sshServerConfig(srv *Server, hostKeyFile string) (*ssh.ServerConfig, error) {
	raw, err := os.ReadFile(hostKeyFile)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, err
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if srv.users.Authenticate(meta.User(), string(pass)) {
				return nil, nil
			}
			return nil, errors.New("auth failed for '" + meta.User() + "'")
		},
	}
	config.AddHostKey(signer)
	return config, nil
}

// listenSSH accepts SSH connections until the listener is closed.
func listenSSH(srv *Server, addr string, config *ssh.ServerConfig, idleTimeout time.Duration) (net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			nConn, err := lis.Accept()
			if err != nil {
				logs.Info.Println("ssh: accept loop done:", err)
				return
			}
			go handleSSHConn(srv, nConn, config, idleTimeout)
		}
	}()

	logs.Info.Printf("ssh: listening on [%s]", addr)
	return lis, nil
}

// timeoutConn arms a read deadline before every read so idle connections
// are eventually dropped.
type timeoutConn struct {
	net.Conn
	idle time.Duration
}

func (c *timeoutConn) Read(b []byte) (int, error) {
	if c.idle > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.idle))
	}
	return c.Conn.Read(b)
}

func handleSSHConn(srv *Server, nConn net.Conn, config *ssh.ServerConfig, idleTimeout time.Duration) {
	sconn, chans, reqs, err := ssh.NewServerConn(&timeoutConn{nConn, idleTimeout}, config)
	if err != nil {
		logs.Warning.Println("ssh: handshake failed:", err)
		nConn.Close()
		return
	}
	defer sconn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			logs.Warning.Println("ssh: channel accept failed:", err)
			continue
		}

		// The service is its own line discipline: accept pty/shell, let
		// everything else fail.
		go func(in <-chan *ssh.Request) {
			for req := range in {
				ok := req.Type == "pty-req" || req.Type == "shell"
				if req.WantReply {
					req.Reply(ok, nil)
				}
			}
		}(requests)

		s, count := srv.sessions.NewSession(channel, normalizeUname(sconn.User()), srv)
		s.remoteAddr = nConn.RemoteAddr().String()
		logs.Info.Printf("ssh: session started sid='%s' user='%s' ip='%s' (%d live)",
			s.sid, s.uname, s.remoteAddr, count)

		go s.writeLoopSSH()
		s.start()
		s.readLoopSSH()
	}
}

func (s *Session) readLoopSSH() {
	defer s.closeSession()

	buf := make([]byte, 256)
	for {
		n, err := s.sshChan.Read(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.dispatchRaw(data)
	}
}

func (s *Session) writeLoopSSH() {
	defer s.sshChan.Close() // breaks readLoopSSH

	for {
		select {
		case msg := <-s.send:
			if _, err := s.sshChan.Write(msg); err != nil {
				logs.Warning.Println("s.writeLoopSSH:", err, s.sid)
				return
			}
		case <-s.stop:
			return
		}
	}
}
