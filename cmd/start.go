package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/Itwoss/pulse/core"
	"github.com/Itwoss/pulse/events"
	"github.com/Itwoss/pulse/models"
	"github.com/Itwoss/pulse/repo"
	"github.com/Itwoss/pulse/version"
	"github.com/fatih/color"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("CMD")

// Start is the main entry point for pulse. The options to this command
// are the same as the pulse client config options.
type Start struct {
	repo.Config
}

// Execute starts the pulse client and streams notifications to the
// terminal until interrupted.
func (x *Start) Execute(args []string) error {
	cfg, err := repo.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.UserID == "" {
		return fmt.Errorf("no user id configured. Use --userid or set it in the config file")
	}

	c, err := core.NewClient(cfg)
	if err != nil {
		return err
	}
	printSplashScreen()

	registerPrinters(c.Registry())

	if err := c.Connect(cfg.UserID, cfg.Role); err != nil {
		return err
	}
	log.Infof("Connected as %s (%s)", cfg.UserID, cfg.Role)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	<-ch
	log.Info("Pulse shutting down...")
	c.Stop()
	return nil
}

func registerPrinters(registry *events.Registry) {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	registry.On(events.TopicNotification, func(payload interface{}) {
		ev, ok := payload.(*events.NotificationReceived)
		if !ok {
			return
		}
		n := ev.Notification
		if _, err := cyan.Printf("[%s] ", n.Type); err != nil {
			log.Debug(err)
		}
		fmt.Printf("%s: %s\n", n.Title, n.Message)
	})
	registry.On(events.TopicUnreadCount, func(payload interface{}) {
		ev, ok := payload.(*events.UnreadCountPushed)
		if !ok {
			return
		}
		if _, err := yellow.Printf("Unread: %d\n", ev.Count); err != nil {
			log.Debug(err)
		}
	})
	registry.On(events.TopicConnStatus, func(payload interface{}) {
		ev, ok := payload.(*events.ConnStatusChanged)
		if !ok {
			return
		}
		if ev.Current == models.ConnFailed {
			if _, err := red.Println("Connection failed. Running on poll fallback only."); err != nil {
				log.Debug(err)
			}
			return
		}
		log.Infof("Connection %s", ev.Current)
	})
}

func printSplashScreen() {
	blue := color.New(color.FgBlue)
	white := color.New(color.FgWhite)

	for i, l := range []string{
		` ______   __  __   __       ______   ______`,
		`/\  == \ /\ \/\ \ /\ \     /\  ___\ /\  ___\`,
		`\ \  _-/ \ \ \_\ \\ \ \____\ \___  \\ \  __\`,
		` \ \_\    \ \_____\\ \_____\\/\_____\\ \_____\`,
		`  \/_/     \/_____/ \/_____/ \/_____/ \/_____/`,
	} {
		if i%2 == 0 {
			if _, err := white.Println(l); err != nil {
				log.Debug(err)
				return
			}
			continue
		}
		if _, err := blue.Println(l); err != nil {
			log.Debug(err)
			return
		}
	}

	blue.DisableColor()
	white.DisableColor()
	fmt.Printf("\npulse v%s\n", version.String())
}
