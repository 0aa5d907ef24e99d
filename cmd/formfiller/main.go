package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/tbxark/formchat"
	"github.com/tbxark/formchat/agent"
	"github.com/tbxark/formchat/conversation"
	"github.com/tbxark/formchat/metrics"
	"github.com/tbxark/formchat/notify"
	"github.com/tbxark/formchat/server"
	"github.com/tbxark/formchat/session"
	"github.com/tbxark/formchat/transcribe"
	"github.com/tbxark/formchat/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	confPath := flag.String("config", "config.json", "path to config file")
	console := flag.Bool("console", false, "fill a form in the terminal instead of serving HTTP")
	labels := flag.String("labels", "first_name,last_name,date_of_birth", "comma separated fields for console mode")
	flag.Parse()

	config, err := loadConfig(*confPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	setupLogger(config)

	if *console {
		err = runConsole(context.Background(), config, strings.Split(*labels, ","))
	} else {
		err = runServer(context.Background(), config)
	}
	if err != nil {
		log.Fatalf("start app: %v", err)
	}
}

func setupLogger(config *Config) {
	opts := &slog.HandlerOptions{Level: config.SlogLevel()}
	var handler slog.Handler
	if strings.EqualFold(config.LogFormat, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func initTracer(config *Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	if !config.TraceStdout {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func buildOrchestrator(ctx context.Context, config *Config) (*conversation.Orchestrator, error) {
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  config.APIKey,
		Model:   config.Model,
		BaseURL: config.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	turnMetrics, err := metrics.NewTurnMetrics()
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	opts := []formchat.Option{
		formchat.WithRegistry(session.NewMemoryRegistry()),
		formchat.WithHistoryLimit(*config.HistoryMessages),
		formchat.WithBreaker(config.Breaker.MaxFailures, config.BreakerOpenTimeout()),
		formchat.WithConversationOptions(
			conversation.WithTranscriber(transcribe.NewHTTPTranscriber(config.Transcription)),
			conversation.WithMetrics(turnMetrics),
			conversation.WithModelTimeout(config.ModelTimeout()),
			conversation.WithNotifyTimeout(config.NotifyTimeout()),
		),
	}
	notifier := notify.NewHTTPNotifier(config.NotifyTimeout())
	slog.Info("Building orchestrator", "model", config.Model, "output_mode", config.OutputMode)
	if config.OutputMode == OutputModeText {
		return formchat.NewOrchestrator(cm, notifier, opts...), nil
	}
	return formchat.NewToolBasedOrchestrator(cm, notifier, opts...)
}

func runServer(ctx context.Context, config *Config) error {
	shutdownTracer, err := initTracer(config)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	orch, err := buildOrchestrator(ctx, config)
	if err != nil {
		return err
	}
	if config.SlogLevel() > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:         config.Listen,
		Handler:      server.NewRouter(orch),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: config.ModelTimeout() + config.NotifyTimeout() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting conversational form server", "addr", config.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}
	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("Server exited")
	return nil
}

func runConsole(ctx context.Context, config *Config, labels []string) error {
	orch, err := buildOrchestrator(ctx, config)
	if err != nil {
		return err
	}
	const sessionID = "console"
	start, err := orch.Start(ctx, conversation.StartRequest{SessionID: sessionID, Labelset: labels})
	if err != nil {
		return err
	}
	fmt.Printf("Assistant: %s\n======\n", start.NextQuestion)
	if start.SessionState == types.StateCompleted {
		return nil
	}

	runner := adk.NewRunner(ctx, adk.RunnerConfig{
		Agent: agent.NewAgent("FormFiller", "Fills a form through conversation", orch),
	})
	chatCtx := agent.WithSessionID(ctx, sessionID)
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("User: ")
		input, rErr := reader.ReadString('\n')
		if rErr != nil {
			fmt.Println("Input closed. Exiting.")
			return nil
		}
		iter := runner.Run(chatCtx, []adk.Message{schema.UserMessage(strings.TrimSpace(input))})
		for {
			event, ok := iter.Next()
			if !ok {
				break
			}
			if event.Err != nil {
				if errors.Is(event.Err, types.ErrServiceUnavailable) {
					fmt.Println("Assistant: The language model is unavailable, please try again.")
					continue
				}
				return event.Err
			}
			msg, mErr := event.Output.MessageOutput.GetMessage()
			if mErr != nil {
				return mErr
			}
			fmt.Printf("\nAssistant: %v\n======\n", msg.Content)
		}
		if _, err := orch.Registry().Get(ctx, sessionID); errors.Is(err, types.ErrNotFound) {
			fmt.Println("Form submitted.")
			return nil
		}
	}
}
