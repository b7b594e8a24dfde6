// Command classcast runs the classroom broadcast transport: `serve` hosts
// the coordinator side (control listener plus multicast broadcaster) and
// `join` connects as a participant (control channel plus multicast
// receiver). Capture and rendering are external; `serve --test-pattern`
// publishes synthetic frames so the data path can be exercised end to end
// without a capture source.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/alfarid/classcast/internal/config"
	"github.com/alfarid/classcast/internal/media"
	"github.com/alfarid/classcast/internal/multicast"
	"github.com/alfarid/classcast/internal/quality"
	"github.com/alfarid/classcast/internal/session"
	"github.com/alfarid/classcast/internal/wire"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	configFlag := func() *cli.StringFlag {
		return &cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to YAML config file",
		}
	}

	app := &cli.Command{
		Name:    "classcast",
		Usage:   "LAN classroom broadcast transport",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the coordinator: control listener and multicast broadcaster",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "test-pattern",
						Usage: "publish synthetic frames at the active profile's rate",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return runServe(ctx, c.String("config"), c.Bool("test-pattern"))
				},
			},
			{
				Name:  "join",
				Usage: "Join a classroom as a participant",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:    "name",
						Aliases: []string{"n"},
						Value:   "participant",
						Usage:   "participant name announced to the coordinator",
					},
					&cli.StringFlag{
						Name:  "addr",
						Usage: "coordinator control address (overrides config)",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return runJoin(ctx, c.String("config"), c.String("name"), c.String("addr"))
				},
			},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("classcast failed", "error", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, configPath string, testPattern bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	coord, err := session.NewCoordinator(cfg.Profiles, cfg.MaxMessageSize, nil)
	if err != nil {
		return err
	}
	defer coord.Close()

	bcast, err := multicast.NewBroadcaster(cfg.Group(), nil)
	if err != nil {
		return err
	}
	defer bcast.Close()

	coord.OnMessage(func(sess *session.ParticipantSession, msg wire.Message) {
		switch msg.Type {
		case wire.MsgChat:
			var chat wire.Chat
			if err := msg.DecodeBody(&chat); err != nil {
				slog.Warn("bad chat message", "participant", sess.Name, "error", err)
				return
			}
			slog.Info("chat", "from", chat.SenderName, "content", chat.Content)
			coord.Broadcast(msg)
		case wire.MsgExamAnswer:
			var ans wire.ExamAnswer
			if err := msg.DecodeBody(&ans); err != nil {
				slog.Warn("bad exam answer", "participant", sess.Name, "error", err)
				return
			}
			slog.Info("exam answer", "participant", sess.Name, "exam", ans.ExamID, "question", ans.QuestionID)
		default:
			slog.Debug("message", "participant", sess.Name, "type", msg.Type.String())
		}
	})
	coord.OnRosterChanged(func(count int, active quality.Profile) {
		slog.Info("roster changed", "participants", count, "profile", active.Name)
	})

	ln, err := net.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ControlAddr, err)
	}

	slog.Info("classcast serving",
		"version", version,
		"control", cfg.ControlAddr,
		"group", cfg.MulticastGroup,
		"port", cfg.MulticastPort,
		"profile", coord.ActiveProfile().Name,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			go admit(coord, conn, cfg.MaxMessageSize)
		}
	})

	if testPattern {
		g.Go(func() error {
			return publishTestPattern(ctx, coord, bcast)
		})
	}

	return g.Wait()
}

// admit performs the join handshake on a fresh connection: the participant
// speaks first with a hello, the coordinator answers with a welcome.
func admit(coord *session.Coordinator, conn net.Conn, maxMsgSize uint32) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	framer := wire.NewFramer(conn, maxMsgSize)
	msg, err := framer.Read()
	if err != nil || msg.Type != wire.MsgHello {
		slog.Warn("rejecting connection without hello", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}
	var hello wire.Hello
	if err := msg.DecodeBody(&hello); err != nil {
		slog.Warn("rejecting malformed hello", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	if _, err := coord.AddParticipant(conn, hello.Name); err != nil {
		slog.Warn("admission failed", "remote", conn.RemoteAddr(), "error", err)
	}
}

// publishTestPattern broadcasts synthetic screen frames at whatever rate the
// active profile dictates, re-reading the profile each frame so transitions
// apply at frame boundaries.
func publishTestPattern(ctx context.Context, coord *session.Coordinator, bcast *multicast.Broadcaster) error {
	var seq media.Sequencer
	payload := make([]byte, 128*1024)

	for {
		profile := coord.ActiveProfile()
		interval := time.Second / time.Duration(profile.FPS)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		frame := media.Frame{
			ID:      seq.Next(media.KindScreen),
			Kind:    media.KindScreen,
			Payload: payload,
		}
		if err := bcast.SendFrame(frame); err != nil {
			if errors.Is(err, multicast.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func runJoin(ctx context.Context, configPath, name, addrOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	addr := cfg.ControlAddr
	if addrOverride != "" {
		addr = addrOverride
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial coordinator %s: %w", addr, err)
	}

	hello, err := wire.NewMessage(wire.MsgHello, wire.Hello{Name: name, Version: version})
	if err != nil {
		conn.Close()
		return err
	}

	ch := session.NewControlChannel(conn, cfg.MaxMessageSize, nil)
	closed := make(chan error, 1)
	ch.OnClosed(func(err error) {
		closed <- err
	})
	ch.OnMessage(func(msg wire.Message) {
		switch msg.Type {
		case wire.MsgWelcome:
			var w wire.Welcome
			if err := msg.DecodeBody(&w); err != nil {
				slog.Warn("bad welcome", "error", err)
				return
			}
			slog.Info("joined classroom", "id", w.ParticipantID, "profile", w.Profile.Name)
		case wire.MsgProfileChange:
			var pc wire.ProfileChange
			if err := msg.DecodeBody(&pc); err != nil {
				slog.Warn("bad profile change", "error", err)
				return
			}
			slog.Info("profile changed", "profile", pc.Profile.Name, "fps", pc.Profile.FPS)
		case wire.MsgChat:
			var chat wire.Chat
			if err := msg.DecodeBody(&chat); err != nil {
				return
			}
			slog.Info("chat", "from", chat.SenderName, "content", chat.Content)
		default:
			slog.Debug("message", "type", msg.Type.String())
		}
	})
	ch.Start()
	defer ch.Close()

	if err := ch.Send(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	recv := multicast.NewReceiver(cfg.Group(), cfg.ReassemblyTimeout, nil)
	if err := recv.Start(func(frame *media.Frame) {
		slog.Debug("frame", "kind", frame.Kind.String(), "id", frame.ID, "bytes", len(frame.Payload))
	}); err != nil {
		return err
	}
	defer recv.Stop()

	slog.Info("participant running", "name", name, "coordinator", addr, "group", cfg.MulticastGroup)

	select {
	case <-ctx.Done():
		return nil
	case err := <-closed:
		if err != nil {
			return fmt.Errorf("control channel: %w", err)
		}
		slog.Info("coordinator closed the session")
		return nil
	}
}
