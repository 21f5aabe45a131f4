package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"

	"linkgate.ai/internal/logging"
	"linkgate.ai/internal/protocol"
	"linkgate.ai/internal/sim/objstore"
	"linkgate.ai/internal/transport/gate"
	"linkgate.ai/internal/transport/ws"
)

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "host ws url")
		name    = flag.String("name", "peer", "peer name")
		peerID  = flag.Int64("peer_id", 2, "peer id")
		version = flag.String("version", protocol.Version, "feature version to present")
		modName = flag.String("mod", protocol.ModName, "mod name")
		report  = flag.Duration("report", 10*time.Second, "replica report interval")
	)
	flag.Parse()

	logger := logging.New("linkpeer", logging.ProfileRuntime, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	g := gate.New(gate.Config{Role: gate.RolePeer, ModName: *modName, Version: *version}, nil, logger)
	replica := objstore.New(objstore.PeerID(*peerID), objstore.Grid{})

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	cl, err := ws.Dial(dialCtx, *url, g, replica, protocol.PeerInfoMsg{PeerID: *peerID, Name: *name}, logger)
	dialCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("dial")
	}

	go reportLoop(ctx, replica, cl, *report, logger)

	err = cl.Run(ctx)
	var de *ws.DisconnectError
	switch {
	case errors.As(err, &de):
		logger.Error().Int("code", de.Code).Msg(de.Detail)
		os.Exit(de.Code)
	case err != nil && !errors.Is(err, context.Canceled):
		logger.Error().Err(err).Msg("connection closed")
		os.Exit(1)
	}
}

func reportLoop(ctx context.Context, replica *objstore.Store, cl *ws.Client, every time.Duration, logger zerolog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			linked := 0
			for _, o := range replica.Snapshot() {
				if !o.Target.IsNone() {
					linked++
				}
			}
			logger.Info().Int("objects", replica.Len()).Int("linked", linked).Strs("admins", cl.Admins()).Msg("replica")
		}
	}
}
