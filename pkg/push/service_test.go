package push

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"

	"github.com/signalmax/signalmax/pkg/models"
	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/repository/document"
)

type recordingGateway struct {
	mu      sync.Mutex
	calls   [][]string
	reject  map[string]bool
	failOn  int
	lastMsg Notification
}

func (g *recordingGateway) Send(_ context.Context, tokens []string, n Notification) (Report, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, append([]string(nil), tokens...))
	g.lastMsg = n
	if g.failOn > 0 && len(g.calls) == g.failOn {
		return Report{}, errors.New("connection reset")
	}
	var rep Report
	for _, token := range tokens {
		if g.reject[token] {
			rep.FailureCount++
			rep.FailedTokens = append(rep.FailedTokens, token)
			continue
		}
		rep.SuccessCount++
	}
	return rep, nil
}

func (g *recordingGateway) Close() error { return nil }

func (g *recordingGateway) sent() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, c := range g.calls {
		out = append(out, c...)
	}
	sort.Strings(out)
	return out
}

func putUser(t *testing.T, store *document.Memory, id string, data map[string]any) {
	t.Helper()
	if _, ok := data["name"]; !ok {
		data["name"] = id
	}
	if err := store.Commit(context.Background(), []document.Write{document.Set(models.CollectionUsers, id, data)}); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func seedAudience(t *testing.T) *document.Memory {
	t.Helper()
	store := document.NewMemory()
	putUser(t, store, "admin", map[string]any{"isAdmin": true, "isPremium": false})
	putUser(t, store, "alice", map[string]any{"isPremium": true, "fcmTokens": []any{"tok-a1", "tok-a2"}})
	putUser(t, store, "bob", map[string]any{"isPremium": false, "fcmTokens": []any{"tok-b1", "tok-a1"}})
	putUser(t, store, "carol", map[string]any{"isPremium": true, "fcmTokens": []any{" ", "tok-c1"}})
	putUser(t, store, "dave", map[string]any{"fcmTokens": []any{"tok-d1"}})
	return store
}

func newTestService(t *testing.T, store *document.Memory, gw Gateway, pageSize int) *Service {
	t.Helper()
	svc, err := NewService(store, gw, ServiceConfig{ScanPageSize: pageSize, GatewayName: "test"}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	if _, err := NewService(nil, &recordingGateway{}, ServiceConfig{}, nil); err == nil {
		t.Fatal("expected error without directory")
	}
	if _, err := NewService(document.NewMemory(), nil, ServiceConfig{}, nil); err == nil {
		t.Fatal("expected error without gateway")
	}
}

func TestSendTargeted_Audiences(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		want   []string
		users  int
	}{
		// admin has no fcmTokens field and is never part of an audience.
		{name: "all", target: TargetAll, want: []string{"tok-a1", "tok-a2", "tok-b1", "tok-c1", "tok-d1"}, users: 4},
		{name: "premium", target: TargetPremium, want: []string{"tok-a1", "tok-a2", "tok-c1"}, users: 2},
		// dave has no isPremium field and is not part of the non-premium audience.
		{name: "non-premium", target: TargetNonPremium, want: []string{"tok-a1", "tok-b1"}, users: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &recordingGateway{}
			svc := newTestService(t, seedAudience(t), gw, 2)

			res, err := svc.SendTargeted(context.Background(), "admin", Request{Target: tt.target, Title: "Market open", Body: "BTC is moving"})
			if err != nil {
				t.Fatalf("SendTargeted: %v", err)
			}
			if got := gw.sent(); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("sent tokens = %v, want %v", got, tt.want)
			}
			if res.Users != tt.users || res.Tokens != len(tt.want) || res.SuccessCount != len(tt.want) {
				t.Fatalf("unexpected result %+v", res)
			}
		})
	}
}

func TestSendTargeted_Permission(t *testing.T) {
	store := seedAudience(t)
	gw := &recordingGateway{}
	svc := newTestService(t, store, gw, 10)
	req := Request{Target: TargetAll, Title: "t", Body: "b"}

	for _, caller := range []string{"", "bob", "nobody"} {
		if _, err := svc.SendTargeted(context.Background(), caller, req); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("caller %q: expected ErrPermissionDenied, got %v", caller, err)
		}
	}
	if len(gw.calls) != 0 {
		t.Fatalf("gateway must not be called, got %d calls", len(gw.calls))
	}
}

func TestSendTargeted_RejectsBadRequests(t *testing.T) {
	svc := newTestService(t, seedAudience(t), &recordingGateway{}, 10)
	ctx := context.Background()

	if _, err := svc.SendTargeted(ctx, "admin", Request{Target: TargetAll, Body: "b"}); !errors.Is(err, ErrInvalidNotification) {
		t.Fatalf("expected ErrInvalidNotification, got %v", err)
	}
	if _, err := svc.SendTargeted(ctx, "admin", Request{Target: "vip", Title: "t", Body: "b"}); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestSendTargeted_EmptyAudienceIsNoop(t *testing.T) {
	store := document.NewMemory()
	putUser(t, store, "admin", map[string]any{"isAdmin": true})
	gw := &recordingGateway{}
	svc := newTestService(t, store, gw, 10)

	res, err := svc.SendTargeted(context.Background(), "admin", Request{Target: TargetAll, Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("SendTargeted: %v", err)
	}
	if len(gw.calls) != 0 || res.Tokens != 0 || res.Users != 0 {
		t.Fatalf("expected no-op, got %+v with %d calls", res, len(gw.calls))
	}
}

func TestSendTargeted_ChunksAndReportsFailures(t *testing.T) {
	store := document.NewMemory()
	putUser(t, store, "admin", map[string]any{"isAdmin": true})
	for i := 0; i < 12; i++ {
		tokens := make([]any, 0, 100)
		for j := 0; j < 100; j++ {
			tokens = append(tokens, fmt.Sprintf("tok-%02d-%03d", i, j))
		}
		putUser(t, store, fmt.Sprintf("user-%02d", i), map[string]any{"fcmTokens": tokens})
	}
	gw := &recordingGateway{reject: map[string]bool{"tok-00-000": true, "tok-11-099": true}}
	svc := newTestService(t, store, gw, 5)

	res, err := svc.SendTargeted(context.Background(), "admin", Request{Target: TargetAll, Title: "t", Body: "b", Data: map[string]string{"screen": "Signals"}})
	if err != nil {
		t.Fatalf("SendTargeted: %v", err)
	}
	sizes := make([]int, len(gw.calls))
	for i, c := range gw.calls {
		sizes[i] = len(c)
	}
	if !reflect.DeepEqual(sizes, []int{500, 500, 200}) {
		t.Fatalf("send sizes = %v", sizes)
	}
	if res.Tokens != 1200 || res.SuccessCount != 1198 || res.FailureCount != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	sort.Strings(res.FailedTokens)
	if !reflect.DeepEqual(res.FailedTokens, []string{"tok-00-000", "tok-11-099"}) {
		t.Fatalf("failed tokens = %v", res.FailedTokens)
	}
	if gw.lastMsg.Data["screen"] != "Signals" {
		t.Fatalf("data not forwarded: %+v", gw.lastMsg)
	}
}

func TestSendTargeted_GatewayFailureKeepsPartialResult(t *testing.T) {
	store := document.NewMemory()
	putUser(t, store, "admin", map[string]any{"isAdmin": true})
	tokens := make([]any, 0, 700)
	for j := 0; j < 700; j++ {
		tokens = append(tokens, fmt.Sprintf("tok-%03d", j))
	}
	putUser(t, store, "big", map[string]any{"fcmTokens": tokens})
	gw := &recordingGateway{failOn: 2}
	svc := newTestService(t, store, gw, 10)

	res, err := svc.SendTargeted(context.Background(), "admin", Request{Target: TargetAll, Title: "t", Body: "b"})
	if !errors.Is(err, ErrGatewayFailed) {
		t.Fatalf("expected ErrGatewayFailed, got %v", err)
	}
	if res.SuccessCount != 500 {
		t.Fatalf("expected first chunk to be reported, got %+v", res)
	}
}

func TestSendTargeted_SkipsMalformedUsers(t *testing.T) {
	store := seedAudience(t)
	if err := store.Commit(context.Background(), []document.Write{
		document.Set(models.CollectionUsers, "broken", map[string]any{"name": "x", "fcmTokens": "not-a-list"}),
	}); err != nil {
		t.Fatal(err)
	}
	svc := newTestService(t, store, &recordingGateway{}, 3)

	res, err := svc.SendTargeted(context.Background(), "admin", Request{Target: TargetAll, Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("SendTargeted: %v", err)
	}
	if res.Skipped != 1 || res.Users != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSendTargeted_SkipsUsersWithoutTokens(t *testing.T) {
	store := document.NewMemory()
	putUser(t, store, "admin", map[string]any{"isAdmin": true})
	putUser(t, store, "eve", map[string]any{"isPremium": false, "fcmTokens": nil})
	putUser(t, store, "frank", map[string]any{"isPremium": false})
	putUser(t, store, "gina", map[string]any{"isPremium": false, "fcmTokens": []any{"tok-g1"}})
	gw := &recordingGateway{}
	svc := newTestService(t, store, gw, 10)

	res, err := svc.SendTargeted(context.Background(), "admin", Request{Target: TargetNonPremium, Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("SendTargeted: %v", err)
	}
	if res.Users != 1 || !reflect.DeepEqual(gw.sent(), []string{"tok-g1"}) {
		t.Fatalf("unexpected result %+v, sent %v", res, gw.sent())
	}
}

func TestDedupeTokens(t *testing.T) {
	got := DedupeTokens([]string{"a", " b", "", "a", "c", "b ", "  "})
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("DedupeTokens = %v", got)
	}
}

func TestParseTarget(t *testing.T) {
	for in, want := range map[string]Target{"ALL": TargetAll, " premium": TargetPremium, "non-premium": TargetNonPremium} {
		got, err := ParseTarget(in)
		if err != nil || got != want {
			t.Fatalf("ParseTarget(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseTarget("everyone"); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}
