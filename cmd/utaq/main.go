package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/soracane/utaq/internal/config"
	"github.com/soracane/utaq/internal/constants"
	"github.com/soracane/utaq/internal/events"
	"github.com/soracane/utaq/internal/generator"
	"github.com/soracane/utaq/internal/logger"
	"github.com/soracane/utaq/internal/network"
	"github.com/soracane/utaq/internal/playback"
	"github.com/soracane/utaq/internal/player"
	"github.com/soracane/utaq/internal/queue"
	"github.com/soracane/utaq/internal/resolver"
	"github.com/soracane/utaq/internal/session"
	"github.com/soracane/utaq/internal/source"
	"github.com/soracane/utaq/internal/store"
	"github.com/soracane/utaq/internal/structures"
	"github.com/soracane/utaq/internal/version"
)

const banner = `
██╗   ██╗████████╗ █████╗  ██████╗
██║   ██║╚══██╔══╝██╔══██╗██╔═══██╗
██║   ██║   ██║   ███████║██║   ██║
██║   ██║   ██║   ██╔══██║██║▄▄ ██║
╚██████╔╝   ██║   ██║  ██║╚██████╔╝
 ╚═════╝    ╚═╝   ╚═╝  ╚═╝ ╚══▀▀═╝
        music session engine`

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showFiles   = flag.Bool("files", false, "Show file locations")
		showVersion = flag.Bool("version", false, "Show version")
		debugMode   = flag.Bool("debug", false, "Enable debug logging")
	)

	flag.Parse()

	if *showHelp {
		fmt.Println(banner)
		fmt.Println("\nUsage: utaq [OPTIONS]")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		fmt.Println("\nPrompt commands:")
		printCommands()
		return
	}

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	configDir, dataDir := getDirectories()

	if *showFiles {
		fmt.Println("# utaq file locations:")
		fmt.Printf("  Config:  %s\n", filepath.Join(configDir, "config.toml"))
		fmt.Printf("  Headers: %s\n", filepath.Join(configDir, "headers.txt"))
		fmt.Printf("  Data:    %s\n", filepath.Join(dataDir, "utaq.db"))
		fmt.Printf("  Logs:    %s\n", filepath.Join(dataDir, "utaq.log"))
		return
	}

	logLevel := logger.INFO
	if *debugMode {
		logLevel = logger.DEBUG
	}
	if err := logger.Init(filepath.Join(dataDir, "utaq.log"), logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	configPath := filepath.Join(configDir, "config.toml")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Warn("Failed to load config, using defaults: %v", err)
		cfg = config.Default()
		if err := config.Save(cfg, configPath); err != nil {
			logger.Warn("Failed to save default config: %v", err)
		} else {
			logger.Info("Created default config at: %s", configPath)
		}
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}

	db, err := store.OpenSQLite(filepath.Join(cfg.DataDir, "utaq.db"))
	if err != nil {
		logger.Fatal("Failed to open database: %v", err)
	}
	defer db.Close()

	headerFile := filepath.Join(configDir, "headers.txt")
	if _, err := os.Stat(headerFile); err != nil {
		fmt.Println(banner)
		fmt.Println("\nNo authentication found!")
		fmt.Printf("Create %s with your music service request headers.\n", headerFile)
		fmt.Println("See README for instructions on obtaining them.")
		return
	}

	client, err := source.NewClientFromHeaderFile(context.Background(), headerFile)
	if err != nil {
		logger.Fatal("Failed to initialize source client: %v", err)
	}

	conn := network.NewChecker(constants.ConnectivityTarget, constants.ConnectivityInterval)
	defer conn.Close()

	engine := player.NewEngine()
	bus := events.NewBus()
	ctrl := playback.NewController(engine, func(st structures.PlaybackState) {
		bus.Publish(events.StateChanged{State: st})
	})
	if err := ctrl.SetVolume(cfg.DefaultVolume); err != nil {
		logger.Warn("Could not apply default volume: %v", err)
	}

	res := resolver.New(client, resolver.NewImageFetcher(constants.ImageRetryDelay), cfg)
	gen := generator.New(client, cfg)

	defer ctrl.Close()

	sess := session.New(cfg, queue.New(), res, ctrl, gen, db, bus, conn)
	sess.Start()
	defer sess.Close()

	unsub := bus.Subscribe(printEvent)
	defer unsub()

	fmt.Println(banner)
	fmt.Println("\nType 'help' for commands, 'quit' to exit.")
	logger.Info("utaq started")

	runPrompt(sess, ctrl, cfg)

	logger.Info("utaq shutdown complete")
}

// runPrompt reads line commands from stdin until EOF, quit, or a signal.
func runPrompt(sess *session.Session, ctrl *playback.Controller, cfg *structures.Config) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	volume := cfg.DefaultVolume
	fmt.Print("> ")
	for {
		select {
		case sig := <-sigCh:
			fmt.Println()
			logger.Info("Received signal: %v", sig)
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if done := runLine(sess, ctrl, cfg, &volume, line); done {
				return
			}
			fmt.Print("> ")
		}
	}
}

func runLine(sess *session.Session, ctrl *playback.Controller, cfg *structures.Config, volume *float64, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		printCommands()
	case "play":
		report(sess.Dispatch(session.Command{Kind: session.CmdPlay}))
	case "pause":
		report(sess.Dispatch(session.Command{Kind: session.CmdPause}))
	case "stop":
		report(sess.Dispatch(session.Command{Kind: session.CmdStop}))
	case "next":
		report(sess.Dispatch(session.Command{Kind: session.CmdNext}))
	case "prev":
		report(sess.Dispatch(session.Command{Kind: session.CmdPrevious}))
	case "skip":
		idx, err := argInt(args, 0)
		if err != nil {
			fmt.Println("usage: skip <index>")
			break
		}
		report(sess.Dispatch(session.Command{Kind: session.CmdSkipToItem, Index: idx}))
	case "seek":
		secs, err := argInt(args, 0)
		if err != nil {
			fmt.Println("usage: seek <seconds>")
			break
		}
		report(sess.Dispatch(session.Command{Kind: session.CmdSeekTo, PositionMs: int64(secs) * 1000}))
	case "fwd", "back":
		delta := int64(cfg.SeekSeconds) * 1000
		if cmd == "back" {
			delta = -delta
		}
		pos := sess.State().PositionMs + delta
		if pos < 0 {
			pos = 0
		}
		report(sess.Dispatch(session.Command{Kind: session.CmdSeekTo, PositionMs: pos}))
	case "vol+", "vol-":
		step := constants.VolumeStep
		if cmd == "vol-" {
			step = -step
		}
		v := clamp01(*volume + step)
		if err := ctrl.SetVolume(v); err != nil {
			fmt.Printf("volume: %v\n", err)
			break
		}
		*volume = v
		fmt.Printf("volume %.0f%%\n", v*100)
	case "shuffle":
		report(sess.Dispatch(session.Command{Kind: session.CmdEnableShuffle}))
	case "unshuffle":
		report(sess.Dispatch(session.Command{Kind: session.CmdDisableShuffle}))
	case "queue":
		if len(args) == 0 {
			fmt.Println("usage: queue <url> [new|next|last]")
			break
		}
		placement := session.PlaceLast
		if len(args) > 1 {
			switch args[1] {
			case "new":
				placement = session.PlaceNew
			case "next":
				placement = session.PlaceNext
			}
		}
		track := structures.Track{Title: args[0], URL: args[0]}
		report(sess.Dispatch(session.Command{Kind: session.CmdQueueVideo, Track: track, Placement: placement}))
	case "rm":
		idx, err := argInt(args, 0)
		if err != nil {
			fmt.Println("usage: rm <index>")
			break
		}
		report(sess.Dispatch(session.Command{Kind: session.CmdRemoveItem, Index: idx}))
	case "clear":
		report(sess.Dispatch(session.Command{Kind: session.CmdClearQueue}))
	case "save":
		if len(args) == 0 {
			fmt.Println("usage: save <name>")
			break
		}
		report(sess.Dispatch(session.Command{Kind: session.CmdSaveQueue, Name: strings.Join(args, " ")}))
	case "del":
		if len(args) == 0 {
			fmt.Println("usage: del <name>")
			break
		}
		report(sess.Dispatch(session.Command{Kind: session.CmdDeleteQueue, Name: strings.Join(args, " ")}))
	case "load":
		if len(args) == 0 {
			fmt.Println("usage: load <name>")
			break
		}
		report(sess.Dispatch(session.Command{Kind: session.CmdLoadPlaylist, Name: strings.Join(args, " ")}))
	case "gen":
		if len(args) == 0 {
			fmt.Println("usage: gen <url> | gen rec | gen hist | gen more")
			break
		}
		switch args[0] {
		case "rec":
			report(sess.Dispatch(session.Command{Kind: session.CmdGenerateRecommended}))
		case "hist":
			report(sess.Dispatch(session.Command{Kind: session.CmdGenerateHistorical}))
		case "more":
			report(sess.Dispatch(session.Command{Kind: session.CmdGenerateContinue}))
		default:
			report(sess.Dispatch(session.Command{Kind: session.CmdGenerateNew, SeedURL: args[0]}))
		}
	case "sleep":
		mins, err := argInt(args, 0)
		if err != nil || mins <= 0 {
			fmt.Println("usage: sleep <minutes>")
			break
		}
		sess.ScheduleStop(time.Duration(mins) * constants.ScheduledStopUnit)
		fmt.Printf("stopping in %dm\n", mins)
	case "nosleep":
		sess.CancelScheduledStop()
		fmt.Println("scheduled stop canceled")
	case "ls":
		printQueue(sess)
	case "state":
		st := sess.State()
		fmt.Printf("%s %s\n", st.Status, structures.FormatDuration(st.PositionMs))
		if st.ErrorMessage != "" {
			fmt.Printf("error: %s\n", st.ErrorMessage)
		}
	default:
		fmt.Printf("unknown command: %s\n", cmd)
	}
	return false
}

func printQueue(sess *session.Session) {
	items := sess.QueueItems()
	if len(items) == 0 {
		fmt.Println("queue is empty")
		return
	}
	current := sess.QueueIndex()
	for i, item := range items {
		marker := "  "
		if i == current {
			marker = "> "
		}
		fmt.Printf("%s%2d  %s - %s  %s\n", marker, i, item.Artist, item.Title,
			structures.FormatDuration(item.DurationMs))
	}
	if sess.IsShuffled() {
		fmt.Println("(shuffled)")
	}
}

func printEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.ErrorToast:
		fmt.Printf("\n! %s\n> ", e.Message)
	case events.MetadataChanged:
		fmt.Printf("\n♪ %s - %s\n> ", e.Artist, e.Title)
	case events.GenerateFinished:
		if e.OK {
			fmt.Printf("\n%s finished\n> ", e.Command)
		}
	}
}

func report(r session.Result) {
	fmt.Printf("%s: %s\n", r.Command, r.Code)
}

func argInt(args []string, i int) (int, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("missing argument")
	}
	return strconv.Atoi(args[i])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func printCommands() {
	fmt.Println("  play | pause | stop | next | prev    Transport")
	fmt.Println("  skip <i>                             Jump to queue index")
	fmt.Println("  seek <s> | fwd | back                Position control")
	fmt.Println("  vol+ | vol-                          Volume control")
	fmt.Println("  shuffle | unshuffle                  Queue order")
	fmt.Println("  queue <url> [new|next|last]          Add a video")
	fmt.Println("  rm <i> | clear                       Remove items")
	fmt.Println("  save <name> | del <name>             Persist the queue")
	fmt.Println("  load <name>                          Load a saved playlist")
	fmt.Println("  gen <url> | gen rec | gen hist | gen more")
	fmt.Println("  sleep <minutes> | nosleep            Scheduled stop")
	fmt.Println("  ls | state                           Inspect")
	fmt.Println("  quit")
}

func getDirectories() (configDir, dataDir string) {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		configDir = filepath.Join(xdgConfig, "utaq")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "utaq")
	}

	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		dataDir = filepath.Join(xdgData, "utaq")
	} else if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".local", "share", "utaq")
	}

	os.MkdirAll(configDir, 0755)
	os.MkdirAll(dataDir, 0755)

	return
}
