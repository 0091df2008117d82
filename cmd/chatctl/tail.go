package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/convoapp/chatsync/pkg/chatsync"
)

var tailCommand = &cli.Command{
	Name:      "tail",
	Usage:     "Follow a conversation, printing new messages as they arrive",
	ArgsUsage: "GROUP",
	Before:    requiresServer,
	Action:    cmdTail,
}

func cmdTail(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a group id")
	}
	groupID := ctx.Args().Get(0)
	cfg := getConfig(ctx)
	log := makeLogger(ctx)

	syncCfg := cfg.Sync
	syncCfg.Logger = log
	syncer := chatsync.NewSyncer(getClient(ctx), groupID, cfg.UserID, syncCfg)
	defer syncer.Close()

	printer := &tailPrinter{out: os.Stdout}
	syncer.OnMessages(printer.print)
	syncer.OnStateChange(func(state chatsync.ConnState) {
		switch state {
		case chatsync.StateConnected:
			log.Info().Msg("Connected")
		case chatsync.StateReconnecting:
			log.Warn().Msg("Connection lost, reconnecting")
		case chatsync.StateError:
			log.Error().Msg("Still unreachable, retrying in the background")
		case chatsync.StateForbidden:
			log.Error().Msg("Access denied — polling stopped")
		}
	})

	go watchConfig(ctx.String("config"), syncer, log)

	syncer.LoadInitial(ctx.Context)
	if syncer.State() == chatsync.StateForbidden {
		return fmt.Errorf("access to group %s is denied", groupID)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Context.Done():
	}
	return nil
}

// tailPrinter prints only what is new: it remembers how much of the
// snapshot was already rendered. Snapshots only grow or mutate in place;
// a refresh is the one thing that shrinks them, and tail never refreshes.
// Snapshot callbacks can arrive from both the loading goroutine and the
// poll timer goroutine, so the counter is guarded.
type tailPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	printed int
}

func (p *tailPrinter) print(messages []chatsync.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ; p.printed < len(messages); p.printed++ {
		fmt.Fprintln(p.out, renderMessage(&messages[p.printed]))
	}
}

// watchConfig live-reloads the poll interval when the config file
// changes, so a running tail can be slowed down or sped up without a
// restart.
func watchConfig(path string, syncer *chatsync.Syncer, log zerolog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable, poll interval is fixed for this run")
		return
	}
	defer watcher.Close()
	if err = watcher.Add(path); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Config file not watchable")
		return
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := loadConfig(path)
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring unparseable config change")
				continue
			}
			if cfg.Sync.PollInterval > 0 {
				syncer.SetPollInterval(cfg.Sync.PollInterval)
				log.Info().Dur("poll_interval", cfg.Sync.PollInterval).Msg("Reloaded poll interval from config")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Debug().Err(err).Msg("Config watcher error")
		}
	}
}
