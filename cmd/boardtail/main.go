// Command boardtail follows one board: it loads the full snapshot,
// attaches to the server's event stream and logs the reconciled state
// as broadcasts arrive. Useful for watching a board converge while
// other clients mutate it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"boardsync/client"
	"boardsync/domain"
	"boardsync/internal/testutil"
	"boardsync/store"
	"boardsync/stream"
)

func main() {
	if dbg, ok := os.LookupEnv("DEBUG"); ok && dbg == "true" {
		log.SetLevel(log.DebugLevel)
	}
	baseURL := os.Getenv("BOARDSYNC_URL")
	boardID := os.Getenv("BOARD_ID")
	if baseURL == "" || boardID == "" {
		log.Fatal("BOARDSYNC_URL and BOARD_ID must be set")
	}
	token := os.Getenv("TOKEN")
	if token == "" {
		var err error
		token, err = testutil.TestToken(os.Getenv("USER_ID"), os.Getenv("USERNAME"))
		if err != nil {
			log.Fatalf("no TOKEN and test token unavailable: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(baseURL, token)
	st := store.New(api, log.StandardLogger())
	if err := st.LoadBoard(ctx, boardID); err != nil {
		log.Fatalf("load board: %v", err)
	}

	sse := stream.NewSSE(baseURL+"/api/boards/"+boardID+"/stream", token, log.StandardLogger())

	// one handler applies then logs, so the logged snapshot always
	// reflects the event it announces
	detach := sse.Subscribe(func(ev domain.Event) {
		applyAndLog(st, ev)
	})
	defer detach()

	snap := st.Snapshot()
	log.WithFields(log.Fields{
		"board":   boardID,
		"title":   snap.Board.Title,
		"columns": len(snap.Columns),
		"cards":   len(snap.Cards),
	}).Info("following board")

	sse.Run(ctx)
}

func applyAndLog(st *store.Store, ev domain.Event) {
	st.Apply(ev)
	snap := st.Snapshot()
	log.WithFields(log.Fields{
		"event":   ev.Type,
		"title":   snap.Board.Title,
		"columns": len(snap.Columns),
		"cards":   len(snap.Cards),
	}).Info("board updated")
}
