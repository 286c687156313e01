// Package main is the per-turn agent child process (spec.md §4.5): a
// short-lived binary spawned once per turn by the ProcessSupervisor,
// connected back to the gateway over a single unix-domain-socket IPC
// channel, and exited after emitting TurnComplete or Error. It is grounded
// on the teacher's cmd/nexus-edge daemon shape (a single cobra root
// command, slog text logging gated by a --log-level flag, and
// signal.NotifyContext for graceful shutdown) with the gRPC transport and
// edge tool registration replaced by internal/ipc, internal/agentloop, and
// internal/tool's session-kind-scoped registries.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/batchismo/core/internal/agentloop"
	"github.com/batchismo/core/internal/bridge"
	"github.com/batchismo/core/internal/ipc"
	"github.com/batchismo/core/internal/model"
	"github.com/batchismo/core/internal/pathpolicy"
	"github.com/batchismo/core/internal/provider"
	"github.com/batchismo/core/internal/tool"
)

// Version is set at build time.
var Version = "dev"

func main() {
	var sessionAddress string
	var sessionKind string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "batchismo-agent",
		Short: "Batchismo per-turn agent process",
		RunE: func(cmd *cobra.Command, args []string) error {
			var level slog.Level
			switch logLevel {
			case "debug":
				level = slog.LevelDebug
			case "warn":
				level = slog.LevelWarn
			case "error":
				level = slog.LevelError
			default:
				level = slog.LevelInfo
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			if sessionAddress == "" {
				return fmt.Errorf("--session-address is required")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runTurn(ctx, logger, sessionAddress)
		},
	}

	rootCmd.Flags().StringVar(&sessionAddress, "session-address", "", "unix-domain-socket address bound by the gateway for this turn")
	rootCmd.Flags().StringVar(&sessionKind, "session-kind", "", "session kind hint (main|worker); authoritative value still arrives on Init")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("batchismo-agent %s\n", Version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runTurn dials the gateway's per-session channel, completes the
// Init/UserMessage handshake (spec.md §4.3/§4.5), runs one agentloop turn,
// and reports the outcome before returning.
func runTurn(ctx context.Context, logger *slog.Logger, address string) error {
	conn, err := ipc.Dial(address, ipc.DefaultMaxFrameSize)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	initEnv, err := conn.Recv()
	if err != nil {
		return fmt.Errorf("recv init: %w", err)
	}
	if initEnv.Kind != ipc.KindInit {
		return fmt.Errorf("expected Init envelope, got %s", initEnv.Kind)
	}
	logger.Info("turn started", "session_id", initEnv.SessionID, "session_kind", initEnv.SessionKind)

	history := historyToCompletionMessages(initEnv.History)

	if initEnv.SessionKind == model.SessionMain {
		msgEnv, err := conn.Recv()
		if err != nil {
			return fmt.Errorf("recv user message: %w", err)
		}
		if msgEnv.Kind != ipc.KindUserMessage {
			return fmt.Errorf("expected UserMessage envelope, got %s", msgEnv.Kind)
		}
		history = append(history, model.CompletionMessage{Role: model.RoleUser, Content: msgEnv.Content})
	} else {
		history = append(history, model.CompletionMessage{Role: model.RoleUser, Content: initEnv.Task})
	}

	registry := tool.NewWorkerRegistry(initEnv.DisabledTools)
	if initEnv.SessionKind == model.SessionMain {
		registry = tool.NewOrchestratorRegistry(initEnv.DisabledTools)
	}
	policy := pathpolicy.NewPolicy(initEnv.PathPolicies)

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	llm, err := provider.NewAnthropicProvider(provider.AnthropicConfig{APIKey: apiKey, Logger: logger})
	if err != nil {
		_ = conn.Send(&ipc.Envelope{Kind: ipc.KindError, ErrorMessage: err.Error()})
		return fmt.Errorf("build provider: %w", err)
	}

	br := bridge.New(conn)
	tc := &tool.Context{SessionID: initEnv.SessionID, Policy: policy, Bridge: br}

	control := make(chan *ipc.Envelope, 16)
	pumpDone := make(chan struct{})
	go pumpInbound(conn, br, control, pumpDone)

	loop := agentloop.New(agentloop.Config{
		Provider:      llm,
		Registry:      registry,
		Model:         initEnv.Model,
		ThinkingLevel: initEnv.ThinkingLevel,
		SystemPrompt:  initEnv.SystemPrompt,
	})

	result, runErr := loop.Run(ctx, tc, conn, control, history)

	if runErr != nil {
		logger.Error("turn failed", "session_id", initEnv.SessionID, "error", runErr)
		_ = conn.Send(&ipc.Envelope{Kind: ipc.KindError, ErrorMessage: runErr.Error()})
	} else {
		_ = conn.Send(&ipc.Envelope{
			Kind:        ipc.KindTurnComplete,
			Message:     result.Message,
			TokenInput:  int(result.TokenInput),
			TokenOutput: int(result.TokenOutput),
		})
	}

	conn.Close()
	<-pumpDone
	return nil
}

// pumpInbound reads every inbound envelope after Init/UserMessage,
// routing BridgeResponse frames to br and everything else (Pause, Resume,
// Cancel, Instruction) onto control for the agent loop to consume.
// Returns once conn.Recv fails, which happens once the caller closes conn
// or the gateway hangs up.
func pumpInbound(conn *ipc.Conn, br *bridge.Bridge, control chan<- *ipc.Envelope, done chan<- struct{}) {
	defer close(done)
	defer close(control)
	for {
		env, err := conn.Recv()
		if err != nil {
			return
		}
		if br.Dispatch(env) {
			continue
		}
		select {
		case control <- env:
		default:
		}
	}
}

func historyToCompletionMessages(msgs []model.Message) []model.CompletionMessage {
	out := make([]model.CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, model.CompletionMessage{
			Role:        m.Role,
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}
