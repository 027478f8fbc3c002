package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/Itwoss/pulse/mock"
	"github.com/Itwoss/pulse/models"
)

// MockNet runs a local notification gateway for development and manual
// testing. It serves both the websocket and REST endpoints and pushes
// a canned notification on an interval to every joined channel.
type MockNet struct {
	Port         int    `short:"p" long:"port" description:"Port to listen on" default:"8585"`
	AuthToken    string `short:"t" long:"authtoken" description:"If set, clients must present this token to authenticate"`
	PushInterval uint   `short:"i" long:"pushinterval" description:"Seconds between pushed notifications. Zero disables pushing." default:"10"`
	UserID       string `short:"u" long:"userid" description:"User whose channel receives the pushed notifications" default:"alice"`
}

// Execute runs the mock gateway until interrupted.
func (x *MockNet) Execute(args []string) error {
	srv := mock.NewServer()
	srv.AuthToken = x.AuthToken

	now := time.Now().UTC()
	srv.Seed(
		&models.Notification{
			ID:        "seed-1",
			Type:      "order",
			Title:     "Order received",
			Message:   "Your order #1001 has been received",
			CreatedAt: now.Add(-time.Hour),
		},
		&models.Notification{
			ID:        "seed-2",
			Type:      "message",
			Title:     "New message",
			Message:   "You have a new message from bob",
			CreatedAt: now.Add(-time.Minute * 30),
		},
	)

	if x.PushInterval > 0 {
		go func() {
			seq := 0
			channel := "user:" + x.UserID
			for range time.Tick(time.Duration(x.PushInterval) * time.Second) {
				seq++
				srv.Push(channel, &models.Notification{
					ID:        "mock-" + strconv.Itoa(seq),
					Type:      "message",
					Title:     "Mock notification",
					Message:   fmt.Sprintf("Canned notification #%d", seq),
					CreatedAt: time.Now().UTC(),
				})
			}
		}()
	}

	listenAddr := ":" + strconv.Itoa(x.Port)
	httpSrv := &http.Server{
		Addr:    listenAddr,
		Handler: srv.Handler(),
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()
	log.Infof("Mock gateway listening on %s", listenAddr)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	<-ch
	log.Info("Mock gateway shutting down...")
	return httpSrv.Close()
}
