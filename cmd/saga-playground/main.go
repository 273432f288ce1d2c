// Command saga-playground pokes at the saga bus by hand.
//
//	saga-playground publish -topic stock -file reserve.json
//	saga-playground tail -topic order
//
// The backend comes from the same environment as the services (BUS_BACKEND,
// KAFKA_BROKERS, AMQP_URL, ...). A published file may be a complete envelope
// or just {"kind": ..., "payload": {...}}; missing envelope fields are filled
// in. Bodies are sent as given, so invalid events can be used to exercise the
// dead-letter path. On kafka tail reads with its own consumer group; on
// rabbitmq it competes with the service consuming the queue.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/platform/backend"
	"github.com/Nobert1/event-driven-systems/platform/bus"
	platformconfig "github.com/Nobert1/event-driven-systems/platform/config"
	"github.com/Nobert1/event-driven-systems/platform/event"
	platformlogging "github.com/Nobert1/event-driven-systems/platform/logging"
	platformshutdown "github.com/Nobert1/event-driven-systems/platform/shutdown"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "saga-playground",
		Env:         "local",
		Level:       "info",
		Format:      "console",
		AddCaller:   true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer platformlogging.Sync(logger)

	switch os.Args[1] {
	case "publish":
		err = runPublish(logger, os.Args[2:])
	case "tail":
		err = runTail(logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("playground failed", zap.String("command", os.Args[1]), zap.Error(err))
		platformlogging.Sync(logger)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: saga-playground publish -topic T -file event.json")
	fmt.Fprintln(os.Stderr, "       saga-playground tail -topic T")
}

// openBus connects to the configured bus. The returned manager closes it.
func openBus(ctx context.Context, logger *zap.Logger) (bus.Bus, *platformshutdown.Manager, error) {
	cfg, err := platformconfig.LoadCommon(platformconfig.Defaults{
		LocalHTTPAddr:  "127.0.0.1:0",
		DockerHTTPAddr: "0.0.0.0:0",
		KafkaGroupID:   "saga-playground",
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Bus.Backend == platformconfig.BusMemory {
		return nil, nil, errors.New("BUS_BACKEND=memory is process local; use kafka or rabbitmq")
	}
	mgr := platformshutdown.New(cfg.App.ShutdownTimeout, logger)
	b, err := backend.OpenBus(ctx, cfg.Bus, logger, mgr)
	if err != nil {
		return nil, nil, err
	}
	return b, mgr, nil
}

func runPublish(logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	topic := fs.String("topic", "", "topic to publish to")
	file := fs.String("file", "", "JSON file with the event")
	_ = fs.Parse(args)
	if *topic == "" || *file == "" {
		return errors.New("-topic and -file are required")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read event file: %w", err)
	}
	body, correlationID, err := completeEnvelope(raw)
	if err != nil {
		return err
	}
	if _, err := event.Decode(body); err != nil {
		logger.Warn("event does not decode, consumers will dead-letter it", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b, mgr, err := openBus(ctx, logger)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	msg := bus.Message{Topic: *topic, Key: correlationID, Body: body}
	if err := b.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	logger.Info("message published",
		zap.String("topic", *topic),
		zap.String("key", correlationID),
		zap.ByteString("body", body),
	)
	return nil
}

// completeEnvelope fills the envelope fields a hand written event usually
// leaves out. Fields that are present are kept as they are.
func completeEnvelope(raw []byte) ([]byte, string, error) {
	var env event.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", fmt.Errorf("parse event file: %w", err)
	}
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	if env.Version == 0 {
		env.Version = event.SchemaVersion
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	if env.CorrelationID == "" && len(env.Payload) > 0 {
		var p struct {
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			env.CorrelationID = p.OrderID
		}
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("encode envelope: %w", err)
	}
	return body, env.CorrelationID, nil
}

func runTail(logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	topic := fs.String("topic", "", "topic to read")
	_ = fs.Parse(args)
	if *topic == "" {
		return errors.New("-topic is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, mgr, err := openBus(ctx, logger)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	deliveries, err := b.Subscribe(ctx, *topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", *topic, err)
	}
	logger.Info("tailing topic", zap.String("topic", *topic))

	for d := range deliveries {
		fields := []zap.Field{
			zap.String("topic", d.Topic),
			zap.String("key", d.Key),
			zap.Bool("redelivered", d.Redelivered),
		}
		if ev, err := event.Decode(d.Body); err != nil {
			fields = append(fields, zap.ByteString("body", d.Body), zap.NamedError("decode_error", err))
		} else {
			fields = append(fields,
				zap.String("kind", string(ev.Kind)),
				zap.String("event_id", ev.EventID),
				zap.String("correlation_id", ev.CorrelationID),
				zap.Any("payload", ev.Event),
			)
		}
		logger.Info("message", fields...)

		if err := d.Ack(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("ack failed", zap.Error(err))
		}
	}
	return nil
}
