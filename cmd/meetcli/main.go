// Meetcli is a headless meeting participant.
//
// Connects to a meetlite relay, then either hosts a new meeting or joins an
// existing one by id, negotiating a media link to every other participant.
// Useful for smoke-testing a relay deployment without a browser.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/meetlite/meetlite/internal/logutil"
	"github.com/meetlite/meetlite/internal/protocol"
	"github.com/meetlite/meetlite/internal/rtc"
	"github.com/meetlite/meetlite/internal/session"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	server := flag.String("server", "ws://localhost:8080", "Relay base URL")
	name := flag.String("name", "", "Display name")
	email := flag.String("email", "", "Email address")
	create := flag.String("create", "", "Host a new meeting with this name")
	join := flag.String("join", "", "Join the meeting with this id")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		logutil.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("meetcli v%s", version))

	if *name == "" {
		logutil.LogError("missing -name")
		os.Exit(1)
	}
	if (*create == "") == (*join == "") {
		logutil.LogError("exactly one of -create or -join is required")
		os.Exit(1)
	}

	wsURL := strings.TrimRight(*server, "/") + "/ws/signal"
	conn, err := session.Dial(ctx, wsURL)
	if err != nil {
		logutil.LogError("%v", err)
		os.Exit(1)
	}
	defer conn.Close()
	logutil.LogInfo("connected to relay at %s", wsURL)

	ctrl := session.NewController(conn, rtc.HeadlessMedia{}, rtc.NewLinkFactory(nil), session.Events{
		OnPeerJoined: func(u protocol.User) {
			logutil.LogInfo("%s joined", u.Name)
		},
		OnPeerLeft: func(peerID string) {
			logutil.LogInfo("peer %s left", peerID)
		},
		OnMeetRenamed: func(name string) {
			logutil.LogInfo("meeting renamed to %q", name)
		},
		OnPeerStream: func(peerID string) {
			logutil.LogInfo("media live from peer %s", peerID)
		},
		OnRemoved: func() {
			logutil.LogWarning("removed from the meeting by the host")
			stop()
		},
		OnRejected: func() {
			logutil.LogWarning("join request rejected by the host")
			stop()
		},
		OnPeerError: func(peerID string, err error) {
			logutil.LogWarning("connection to peer %s failed: %v", peerID, err)
		},
		OnDisconnect: func() {
			logutil.LogError("relay connection lost")
			stop()
		},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx) }()

	switch {
	case *create != "":
		if err := ctrl.StartNewMeet(ctx, *name, *email, *create); err != nil {
			logutil.LogError("%v", err)
			os.Exit(1)
		}
		meetID, meetName := ctrl.Store().Meeting()
		pterm.Success.Println(fmt.Sprintf("Hosting %q, meet id: %s", meetName, meetID))

	case *join != "":
		if err := ctrl.JoinMeet(ctx, *name, *email, *join); err != nil {
			logutil.LogError("%v", err)
			os.Exit(1)
		}
		_, meetName := ctrl.Store().Meeting()
		pterm.Success.Println(fmt.Sprintf("Joined %q", meetName))
	}

	select {
	case <-ctx.Done():
		if ctrl.Phase() != session.PhaseIdle {
			if err := ctrl.LeaveMeet(); err != nil {
				logutil.LogWarning("leave: %v", err)
			}
		}
		logutil.LogInfo("bye")
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			logutil.LogError("%v", err)
			os.Exit(1)
		}
	}
}
