package testcases

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/tbxark/formchat"
	"github.com/tbxark/formchat/conversation"
	"github.com/tbxark/formchat/notify"
	"github.com/tbxark/formchat/session"
	"github.com/tbxark/formchat/types"
)

// RegistrationLabels is the form used by the live scenarios.
var RegistrationLabels = []string{"first_name", "email", "age"}

type Config struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{BaseURL:%q, Model:%q}", c.BaseURL, c.Model)
}

func loadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var conf Config
	err = json.Unmarshal(file, &conf)
	if err != nil {
		return nil, err
	}
	return &conf, nil
}

func InitChatModel(t *testing.T) *openai.ChatModel {
	if os.Getenv("FORMCHAT_RUN_LIVE_TESTS") != "1" {
		t.Skip("set FORMCHAT_RUN_LIVE_TESTS=1 to run live LLM tests")
		return nil
	}

	ctx := context.Background()
	conf, err := loadConfig("../config.json")
	if err != nil {
		t.Skipf("failed to load config: %v", err)
		return nil
	}
	if conf.APIKey == "" {
		t.Skip("config.json api_key is empty")
		return nil
	}
	t.Logf("using %s", conf)
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  conf.APIKey,
		Model:   conf.Model,
		BaseURL: conf.BaseURL,
	})
	if err != nil {
		t.Fatalf("failed to init chat model: %v", err)
		return nil
	}
	return chatModel
}

// RecordingNotifier keeps every completion payload in memory.
type RecordingNotifier struct {
	mu       sync.Mutex
	Payloads []notify.Payload
}

func (r *RecordingNotifier) Notify(_ context.Context, _ string, payload notify.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Payloads = append(r.Payloads, payload)
	return nil
}

type Harness struct {
	Orchestrator *conversation.Orchestrator
	Registry     *session.Registry
	Notifier     *RecordingNotifier
	SessionID    string
}

// NewHarness starts a live session over RegistrationLabels.
func NewHarness(t *testing.T, sessionID string) *Harness {
	chatModel := InitChatModel(t)
	if chatModel == nil {
		return nil
	}
	registry := session.NewMemoryRegistry()
	notifier := &RecordingNotifier{}
	orch, err := formchat.NewToolBasedOrchestrator(chatModel, notifier, formchat.WithRegistry(registry))
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	start, err := orch.Start(context.Background(), conversation.StartRequest{
		SessionID:   sessionID,
		Labelset:    RegistrationLabels,
		CallbackURL: "http://localhost/callback",
	})
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	t.Logf("start: %s", start.NextQuestion)
	return &Harness{Orchestrator: orch, Registry: registry, Notifier: notifier, SessionID: sessionID}
}

func (h *Harness) Say(t *testing.T, message string) *conversation.TurnResponse {
	t.Helper()
	resp, err := h.Orchestrator.Turn(context.Background(), conversation.TurnRequest{SessionID: h.SessionID, Message: message})
	if err != nil {
		t.Fatalf("turn %q failed: %v", message, err)
	}
	t.Logf("user: %s\nbot (%s): %s", message, resp.SessionState, resp.BotMessage)
	return resp
}

// Snapshot returns the live session, or false once it has been completed and removed.
func (h *Harness) Snapshot(t *testing.T) (session.Snapshot, bool) {
	sess, err := h.Registry.Get(context.Background(), h.SessionID)
	if err != nil {
		return session.Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// CheckInvariants fails the test when the session violates label scoping or correction bookkeeping.
func CheckInvariants(t *testing.T, snap session.Snapshot) {
	t.Helper()
	allowed := make(map[string]bool, len(snap.Labelset))
	for _, label := range snap.Labelset {
		allowed[label] = true
	}
	for label := range snap.Responses {
		if !allowed[label] {
			t.Errorf("response for unknown label %q", label)
		}
	}
	if snap.State != types.StateAwaitingCorrectionValue && snap.FieldToCorrect != "" {
		t.Errorf("field_to_correct %q set in state %s", snap.FieldToCorrect, snap.State)
	}
}
