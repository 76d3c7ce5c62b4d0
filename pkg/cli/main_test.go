package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalmax/signalmax/pkg/config"
	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/push"
	"github.com/signalmax/signalmax/pkg/repository/document"
	"github.com/signalmax/signalmax/pkg/store"
)

const testEnvPrefix = "SMCLI"

var baseTime = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type captureGateway struct {
	tokens []string
}

func (g *captureGateway) Send(_ context.Context, tokens []string, _ push.Notification) (push.Report, error) {
	g.tokens = append(g.tokens, tokens...)
	return push.Report{SuccessCount: len(tokens)}, nil
}

func (g *captureGateway) Close() error { return nil }

func seedCommit(t *testing.T, mem *document.Memory, writes ...document.Write) {
	t.Helper()
	if err := mem.Commit(context.Background(), writes); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func seedPosts(t *testing.T, mem *document.Memory, n int, author string) {
	t.Helper()
	for i := 0; i < n; i++ {
		seedCommit(t, mem, document.Set("posts", fmt.Sprintf("p%02d", i), map[string]any{
			"authorId":  author,
			"content":   fmt.Sprintf("post %d", i),
			"createdAt": baseTime.Add(time.Duration(i) * time.Minute),
		}))
	}
}

// run executes args against an in-memory store and returns stdout.
func run(t *testing.T, mem *document.Memory, gw push.Gateway, args ...string) (string, error) {
	t.Helper()
	t.Setenv(testEnvPrefix+"_LOG_LEVEL", "error")
	opts := ServiceCommandOptions{
		Name:      "signalmax",
		EnvPrefix: testEnvPrefix,
		OpenBackends: func(context.Context, *config.Config, logger.Logger) (*store.Backends, error) {
			return &store.Backends{Documents: mem}, nil
		},
	}
	if gw != nil {
		opts.NewGateway = func(config.PushConfig, logger.Logger) (push.Gateway, error) { return gw, nil }
	}
	cmd := NewServiceCommand(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewServiceCommand_Policies(t *testing.T) {
	cmd := NewServiceCommand(ServiceCommandOptions{Name: "signalmax"})
	tests := []struct {
		path []string
		want CommandPolicy
	}{
		{[]string{"version"}, PolicyAlways},
		{[]string{"config", "show"}, PolicyAlways},
		{[]string{"healthcheck"}, PolicyAlways},
		{[]string{"feed", "page"}, PolicyRun},
		{[]string{"feed", "tail"}, PolicyRun},
		{[]string{"delete"}, PolicyManual},
		{[]string{"cascade"}, PolicyManual},
		{[]string{"push", "send"}, PolicyOnDemand},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.path, " "), func(t *testing.T) {
			found, _, err := cmd.Find(tt.path)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if got := GetCommandPolicies(found)[defaultPolicyContext]; got != string(tt.want) {
				t.Fatalf("policy = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewServiceCommand_CustomCommandsGetManualPolicy(t *testing.T) {
	custom := &cobra.Command{Use: "reindex", RunE: func(*cobra.Command, []string) error { return nil }}
	custom.AddCommand(&cobra.Command{Use: "posts"})
	cmd := NewServiceCommand(ServiceCommandOptions{CustomCommands: []*cobra.Command{custom}})

	for _, path := range [][]string{{"reindex"}, {"reindex", "posts"}} {
		found, _, err := cmd.Find(path)
		if err != nil {
			t.Fatalf("find %v: %v", path, err)
		}
		if got := GetCommandPolicies(found)[defaultPolicyContext]; got != string(PolicyManual) {
			t.Fatalf("%v policy = %q, want manual", path, got)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, document.NewMemory(), nil, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "Service:    signalmax") || !strings.Contains(out, "Version:") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	t.Setenv(testEnvPrefix+"_PUSH_API_KEY", "super-secret-key")
	out, err := run(t, document.NewMemory(), nil, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "super-secret-key") {
		t.Fatalf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "push.api_key") || !strings.Contains(out, "********") {
		t.Fatalf("expected masked api key, got %s", out)
	}
	if !strings.Contains(out, "feed.page_size: \"10\"") {
		t.Fatalf("expected default page size, got %s", out)
	}
}

func TestConfigValidate(t *testing.T) {
	out, err := run(t, document.NewMemory(), nil, "config", "validate")
	if err != nil || !strings.Contains(out, "configuration is valid") {
		t.Fatalf("out=%q err=%v", out, err)
	}

	t.Setenv(testEnvPrefix+"_DB_TYPE", "cassandra")
	if _, err := run(t, document.NewMemory(), nil, "config", "validate"); err == nil || !strings.Contains(err.Error(), "database.type") {
		t.Fatalf("expected database.type violation, got %v", err)
	}
}

func TestSecretFileFlag_Missing(t *testing.T) {
	_, err := run(t, document.NewMemory(), nil, "--secret-file", filepath.Join(t.TempDir(), "nope.yaml"), "config", "validate")
	if err == nil || !strings.Contains(err.Error(), "not accessible") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestFeedPage_WalksPages(t *testing.T) {
	mem := document.NewMemory()
	seedPosts(t, mem, 25, "u1")

	out, err := run(t, mem, nil, "feed", "page", "--pages", "5")
	if err != nil {
		t.Fatalf("feed page: %v", err)
	}
	for _, want := range []string{
		"page 1 (10 items, previous=false, next=true)",
		"page 2 (10 items, previous=true, next=true)",
		"page 3 (5 items, previous=true, next=false)",
		"p24", "post 24", "p00",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "page 4") {
		t.Fatalf("walked past the last page:\n%s", out)
	}
	if strings.Index(out, "p24") > strings.Index(out, "p23") {
		t.Fatalf("feed must be newest first:\n%s", out)
	}
}

func TestFeedPage_WritesMetricsFile(t *testing.T) {
	mem := document.NewMemory()
	seedPosts(t, mem, 3, "u1")
	path := filepath.Join(t.TempDir(), "signalmax.prom")

	if _, err := run(t, mem, nil, "--metrics-file", path, "feed", "page", "--page-size", "2"); err != nil {
		t.Fatalf("feed page: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	if !strings.Contains(string(data), "signalmax_") {
		t.Fatalf("expected signalmax metrics, got %s", data)
	}
}

func TestFeedTail_ReportsPendingInsertions(t *testing.T) {
	mem := document.NewMemory()
	seedPosts(t, mem, 3, "u1")

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for mem.Subscriptions() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		_ = mem.Commit(context.Background(), []document.Write{document.Set("posts", "fresh", map[string]any{
			"authorId":  "u2",
			"content":   "fresh post",
			"createdAt": baseTime.Add(time.Hour),
		})})
	}()

	out, err := run(t, mem, nil, "feed", "tail", "--duration", "1s", "--policy", "deferred-banner")
	if err != nil {
		t.Fatalf("feed tail: %v", err)
	}
	if !strings.Contains(out, "page 1 (3 items") || !strings.Contains(out, "1 new item(s) pending") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if mem.Subscriptions() != 0 {
		t.Fatalf("subscription left open: %d", mem.Subscriptions())
	}
}

func TestFeedTail_EmptyFeedIsStatic(t *testing.T) {
	out, err := run(t, document.NewMemory(), nil, "feed", "tail", "--duration", "50ms")
	if err != nil {
		t.Fatalf("feed tail: %v", err)
	}
	if !strings.Contains(out, "nothing to follow") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestDeleteCommand(t *testing.T) {
	for _, background := range []bool{false, true} {
		t.Run(fmt.Sprintf("background=%t", background), func(t *testing.T) {
			mem := document.NewMemory()
			for i := 0; i < 230; i++ {
				seedCommit(t, mem, document.Set("users/u1/notifications", fmt.Sprintf("n%03d", i), map[string]any{"title": "x"}))
			}
			args := []string{"delete", "users/u1/notifications"}
			if background {
				args = append(args, "--background")
			}
			out, err := run(t, mem, nil, args...)
			if err != nil {
				t.Fatalf("delete: %v", err)
			}
			if !strings.Contains(out, "deleted 230 document(s) in 3 batch(es)") {
				t.Fatalf("unexpected output %q", out)
			}
			if mem.Len("users/u1/notifications") != 0 {
				t.Fatal("collection not emptied")
			}
		})
	}
}

func TestCascadeCommand_User(t *testing.T) {
	mem := document.NewMemory()
	seedPosts(t, mem, 4, "u1")
	seedCommit(t, mem,
		document.Set("posts", "other", map[string]any{"authorId": "u2", "createdAt": baseTime}),
		document.Set("stories", "s1", map[string]any{"userId": "u1", "createdAt": baseTime}),
		document.Set("users/u1/completedLessons", "l1", map[string]any{"at": baseTime}),
	)

	out, err := run(t, mem, nil, "cascade", "user", "u1")
	if err != nil {
		t.Fatalf("cascade: %v", err)
	}
	if !strings.Contains(out, "total deleted=6") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if mem.Len("posts") != 1 || mem.Len("stories") != 0 || mem.Len("users/u1/completedLessons") != 0 {
		t.Fatalf("cascade left documents: posts=%d stories=%d", mem.Len("posts"), mem.Len("stories"))
	}
}

func TestCascadeCommand_UnknownKind(t *testing.T) {
	if _, err := run(t, document.NewMemory(), nil, "cascade", "group", "g1"); err == nil {
		t.Fatal("expected error for unknown trigger kind")
	}
}

func TestPushSend(t *testing.T) {
	mem := document.NewMemory()
	seedCommit(t, mem,
		document.Set("users", "admin", map[string]any{"name": "Admin", "isAdmin": true}),
		document.Set("users", "alice", map[string]any{"name": "Alice", "isPremium": true, "fcmTokens": []any{"tok-a"}}),
		document.Set("users", "bob", map[string]any{"name": "Bob", "isPremium": false, "fcmTokens": []any{"tok-b", "tok-a"}}),
	)
	gw := &captureGateway{}

	out, err := run(t, mem, gw, "push", "send", "--as", "admin", "--target", "premium", "--title", "Sinyal baru", "--body", "XAUUSD buy")
	if err != nil {
		t.Fatalf("push send: %v", err)
	}
	if !strings.Contains(out, "tokens=1") || !strings.Contains(out, "success=1") {
		t.Fatalf("unexpected output %q", out)
	}
	if len(gw.tokens) != 1 || gw.tokens[0] != "tok-a" {
		t.Fatalf("unexpected tokens %v", gw.tokens)
	}

	if _, err := run(t, mem, gw, "push", "send", "--as", "bob", "--title", "t", "--body", "b"); err == nil {
		t.Fatal("expected permission error for a non-admin caller")
	}
}

func TestHealthcheck_Memory(t *testing.T) {
	out, err := run(t, document.NewMemory(), nil, "healthcheck")
	if err != nil {
		t.Fatalf("healthcheck: %v", err)
	}
	if !strings.Contains(out, "overall: healthy") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCommandsRunWithCorrelationID(t *testing.T) {
	t.Setenv(testEnvPrefix+"_LOG_LEVEL", "error")
	var ids []string
	opts := ServiceCommandOptions{
		EnvPrefix: testEnvPrefix,
		OpenBackends: func(ctx context.Context, _ *config.Config, _ logger.Logger) (*store.Backends, error) {
			ids = append(ids, logger.CorrelationIDFromContext(ctx))
			return &store.Backends{Documents: document.NewMemory()}, nil
		},
	}
	for i := 0; i < 2; i++ {
		cmd := NewServiceCommand(opts)
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"delete", "posts"})
		if err := cmd.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
	if len(ids) != 2 || ids[0] == "" || ids[0] == ids[1] {
		t.Fatalf("expected a distinct correlation id per invocation, got %q", ids)
	}

	ctx := logger.ContextWithCorrelationID(context.Background(), "deploy-7")
	if got := logger.CorrelationIDFromContext(withRunID(ctx)); got != "deploy-7" {
		t.Fatalf("caller id replaced: %q", got)
	}
}

func TestResolveEnvPrefix(t *testing.T) {
	if got := resolveEnvPrefix(" smx "); got != "SMX" {
		t.Fatalf("got %q", got)
	}
	if got := resolveEnvPrefix(""); got != config.DefaultEnvPrefix {
		t.Fatalf("got %q", got)
	}
}
