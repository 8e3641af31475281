/******************************************************************************
 *
 *  Description :
 *
 *    Setup & initialization.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	jcr "github.com/tinode/jsonco"

	_ "github.com/slbsh/crussh/server/db/file"
	_ "github.com/slbsh/crussh/server/db/mysql"
	"github.com/slbsh/crussh/server/logs"
	"github.com/slbsh/crussh/server/store"
)

const (
	// Terminate idle connections after this timeout unless overridden.
	defaultIdleTimeout = 3600

	// Reject input lines longer than this unless overridden.
	defaultMaxInputLength = 1024
)

type configType struct {
	// SSH endpoint, e.g. ":2222".
	ListenSSH string `json:"listen_ssh"`
	// HTTP endpoint serving websocket clients and stats. Empty disables.
	ListenHTTP string `json:"listen_http"`
	// PEM file with the SSH host key.
	HostKeyFile string `json:"host_key_file"`
	// Channel new sessions land in.
	DefaultChannel string `json:"default_channel"`
	// Input line cap, bytes.
	MaxInputLength int `json:"max_input_length"`
	// Drop connections idle longer than this many seconds.
	IdleTimeout int `json:"idle_timeout"`
	// Path at which to expose expvar variables. "-" disables stats.
	Expvar string `json:"expvar"`
	// Worker id for the session id generator, 0-1023.
	WorkerID int `json:"worker_id"`

	StoreConfig json.RawMessage `json:"store_config"`
}

func main() {
	logs.Init()

	var configfile = flag.String("config", "./crussh.conf", "Path to config file.")
	var listenOn = flag.String("listen", "", "Override config value for SSH address to listen on.")
	var listenHTTP = flag.String("ws_listen", "", "Override config value for websocket/stats address to listen on.")
	flag.Parse()

	logs.Info.Printf("using config from '%s'", *configfile)

	config := configType{
		ListenSSH:      ":2222",
		HostKeyFile:    "key.pem",
		DefaultChannel: "general",
		MaxInputLength: defaultMaxInputLength,
		IdleTimeout:    defaultIdleTimeout,
		Expvar:         "/debug/vars",
	}
	if file, err := os.Open(*configfile); err != nil {
		logs.Error.Fatalln("failed to read config file:", err)
	} else {
		jr := jcr.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Error.Fatalf("unmarshal error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Error.Fatalf("syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				logs.Error.Fatalln("failed to parse config file:", err)
			}
		}
		file.Close()
	}
	if *listenOn != "" {
		config.ListenSSH = *listenOn
	}
	if *listenHTTP != "" {
		config.ListenHTTP = *listenHTTP
	}

	if err := store.Open(config.WorkerID, string(config.StoreConfig)); err != nil {
		logs.Error.Fatalln("failed to open store:", err)
	}
	logs.Info.Println("state adapter:", store.GetAdapterName())

	state, err := store.Load()
	if err != nil {
		logs.Error.Fatalln("failed to load server state:", err)
	}

	srv := newServer(state, config.DefaultChannel, config.MaxInputLength)

	mux := http.NewServeMux()
	statsInit(mux, config.Expvar)
	statsRegisterInt("LiveSessions")
	statsRegisterInt("TotalSessions")
	statsRegisterInt("MessagesPublished")
	statsRegisterInt("EventsLost")
	statsRegisterInt("Channels")
	statsSet("Channels", countChannels(srv.root))

	sshConfig, err := sshServerConfig(srv, config.HostKeyFile)
	if err != nil {
		logs.Error.Fatalln("failed to load host key:", err)
	}
	lis, err := listenSSH(srv, config.ListenSSH, sshConfig, time.Duration(config.IdleTimeout)*time.Second)
	if err != nil {
		logs.Error.Fatalln("failed to listen:", err)
	}

	if config.ListenHTTP != "" {
		mux.HandleFunc("/v0/channels", serveWebSocket(srv))
		httpSrv := &http.Server{Addr: config.ListenHTTP, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
				logs.Error.Fatalln("http server failed:", err)
			}
		}()
		defer httpSrv.Close()
		logs.Info.Printf("ws/stats: listening on [%s]", config.ListenHTTP)
	}

	// Wait for a termination signal, then unwind in dependency order:
	// sessions, state, store, stats.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	logs.Info.Println("terminated with signal:", <-sig)

	lis.Close()
	srv.sessions.Shutdown()
	srv.shutdown()
	if err := store.Close(); err != nil {
		logs.Error.Println("failed to close store:", err)
	}
	statsShutdown()
	logs.Info.Println("all done, good bye")
}

// countChannels returns the number of nodes in the tree, the root included.
func countChannels(node *Channel) int64 {
	count := int64(1)
	for _, name := range node.childNames() {
		if child := node.child(name); child != nil {
			count += countChannels(child)
		}
	}
	return count
}
