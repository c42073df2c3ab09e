package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"my-feed-bot/internal/adapters/memstore"
	"my-feed-bot/internal/domain"
	infrahttp "my-feed-bot/internal/infra/http"
	"my-feed-bot/internal/usecase/channels"
	"my-feed-bot/internal/usecase/entitlement"
	"my-feed-bot/internal/usecase/payments"
)

const testToken = "secret"

func newTestAPI(t *testing.T) (*httptest.Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	ent := entitlement.NewService(store, store, domain.TierLimits{Free: 2, VIP: 10}, 0, zerolog.Nop())
	h := New(Deps{
		Store:       store,
		Channels:    channels.NewService(store, store, ent, store, zerolog.Nop()),
		Entitlement: ent,
		Payments:    payments.NewService(store, ent, zerolog.Nop()),
		Token:       testToken,
		Log:         zerolog.Nop(),
	})
	r := chi.NewRouter()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(infrahttp.TokenHeader, testToken)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndAuth(t *testing.T) {
	srv, _ := newTestAPI(t)

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}

	resp, err = srv.Client().Get(srv.URL + "/channels/list?tg_user_id=1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestChannelsLifecycle(t *testing.T) {
	srv, _ := newTestAPI(t)

	var added AddChannelResponse
	if code := call(t, srv, http.MethodPost, "/channels/add", ChannelRequest{TGUserID: 5, Username: "@Go_News"}, &added); code != http.StatusOK || !added.OK {
		t.Fatalf("add: code=%d resp=%+v", code, added)
	}
	call(t, srv, http.MethodPost, "/channels/add", ChannelRequest{TGUserID: 5, Username: "@go_news"}, &added)
	if added.Message != "already added" {
		t.Fatalf("repeat add must be reported, got %+v", added)
	}
	call(t, srv, http.MethodPost, "/channels/add", ChannelRequest{TGUserID: 5, Username: "@rust_news"}, nil)

	if code := call(t, srv, http.MethodPost, "/channels/add", ChannelRequest{TGUserID: 5, Username: "@third_one"}, &added); code != http.StatusConflict {
		t.Fatalf("limit: expected 409, got %d", code)
	}
	if added.OK || added.Limit != 2 || added.Tier != domain.TierFree {
		t.Fatalf("limit must be reported, got %+v", added)
	}

	var errResp infrahttp.ErrorResponse
	if code := call(t, srv, http.MethodPost, "/channels/add", ChannelRequest{TGUserID: 5, Username: "go_news"}, &errResp); code != http.StatusBadRequest {
		t.Fatalf("invalid handle: code=%d", code)
	}
	if errResp.Error != domain.ErrInvalidUsername.Error() {
		t.Fatalf("unexpected error %q", errResp.Error)
	}

	var list ChannelsResponse
	call(t, srv, http.MethodGet, "/channels/list?tg_user_id=5", nil, &list)
	var names []string
	for _, ch := range list.Channels {
		names = append(names, ch.Username)
	}
	if diff := cmp.Diff([]string{"@go_news", "@rust_news"}, names); diff != "" {
		t.Fatalf("channels mismatch (-want +got):\n%s", diff)
	}

	deletes := []struct {
		name    string
		req     ChannelRequest
		deleted bool
		message string
	}{
		{name: "existing", req: ChannelRequest{TGUserID: 5, Username: "@go_news"}, deleted: true},
		{name: "repeat", req: ChannelRequest{TGUserID: 5, Username: "@go_news"}, message: domain.ErrChannelNotFound.Error()},
		{name: "unknown user", req: ChannelRequest{TGUserID: 99, Username: "@go_news"}, message: domain.ErrUserNotFound.Error()},
	}
	for _, tc := range deletes {
		var del DeleteResponse
		if code := call(t, srv, http.MethodPost, "/channels/delete", tc.req, &del); code != http.StatusOK {
			t.Fatalf("%s: code=%d", tc.name, code)
		}
		if del.Deleted != tc.deleted || del.Message != tc.message {
			t.Fatalf("%s: unexpected response %+v", tc.name, del)
		}
	}

	var all DeleteAllResponse
	call(t, srv, http.MethodPost, "/channels/delete_all", ChannelRequest{TGUserID: 5}, &all)
	if all.Deleted != 1 {
		t.Fatalf("delete_all must report 1, got %+v", all)
	}
}

func TestCursorAndPosts(t *testing.T) {
	srv, store := newTestAPI(t)
	ctx := context.Background()
	call(t, srv, http.MethodPost, "/channels/add", ChannelRequest{TGUserID: 5, Username: "@go_news"}, nil)

	var cursor CursorResponse
	call(t, srv, http.MethodGet, "/channels/cursor?tg_user_id=5&username=@go_news", nil, &cursor)
	if cursor.LastTGMessageID != nil {
		t.Fatalf("fresh channel must have no cursor, got %d", *cursor.LastTGMessageID)
	}
	if code := call(t, srv, http.MethodPost, "/channels/cursor", CursorRequest{TGUserID: 5, Username: "@go_news", LastTGMessageID: 10}, nil); code != http.StatusOK {
		t.Fatalf("set cursor: code=%d", code)
	}
	if code := call(t, srv, http.MethodPost, "/channels/cursor", CursorRequest{TGUserID: 5, Username: "@missing_one", LastTGMessageID: 10}, nil); code != http.StatusNotFound {
		t.Fatalf("unknown channel cursor: code=%d", code)
	}
	call(t, srv, http.MethodGet, "/channels/cursor?tg_user_id=5&username=@go_news", nil, &cursor)
	if cursor.LastTGMessageID == nil || *cursor.LastTGMessageID != 10 {
		t.Fatalf("cursor must be 10, got %v", cursor.LastTGMessageID)
	}

	published := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	req := AddPostRequest{
		PostDTO:  PostDTO{ChannelUsername: "@go_news", TGMessageID: 11, Text: "first", PublishedAt: published},
		TGUserID: 5,
	}
	var added AddPostResponse
	call(t, srv, http.MethodPost, "/posts/add", req, &added)
	if !added.Inserted {
		t.Fatalf("post must be inserted: %+v", added)
	}
	call(t, srv, http.MethodPost, "/posts/add", req, &added)
	if added.Inserted || !added.OK {
		t.Fatalf("duplicate must be ok and not inserted: %+v", added)
	}

	var unsent PostsResponse
	call(t, srv, http.MethodGet, "/posts/unsent?tg_user_id=5", nil, &unsent)
	if len(unsent.Posts) != 0 {
		t.Fatalf("forwarding is off, expected no posts, got %d", len(unsent.Posts))
	}
	if err := store.SetToggle(ctx, 5, domain.ToggleForwarding, true); err != nil {
		t.Fatalf("SetToggle: %v", err)
	}
	call(t, srv, http.MethodGet, "/posts/unsent?tg_user_id=5", nil, &unsent)
	if len(unsent.Posts) != 1 || unsent.Posts[0].Text != "first" || unsent.Posts[0].ChannelUsername != "@go_news" {
		t.Fatalf("unexpected unsent posts %+v", unsent.Posts)
	}

	if code := call(t, srv, http.MethodPost, "/posts/mark_sent", []int64{unsent.Posts[0].ID}, nil); code != http.StatusOK {
		t.Fatalf("mark_sent with id array: code=%d", code)
	}
	call(t, srv, http.MethodGet, "/posts/unsent?tg_user_id=5", nil, &unsent)
	if len(unsent.Posts) != 0 {
		t.Fatalf("post must be marked sent")
	}

	var latest PostsResponse
	call(t, srv, http.MethodGet, "/posts/latest?tg_user_id=5", nil, &latest)
	if len(latest.Posts) != 1 || !latest.Posts[0].IsSent {
		t.Fatalf("latest must include the sent post, got %+v", latest.Posts)
	}
	for _, q := range []string{"limit=0", "limit=101", "limit=abc"} {
		if code := call(t, srv, http.MethodGet, "/posts/latest?tg_user_id=5&"+q, nil, nil); code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, code)
		}
	}
	if code := call(t, srv, http.MethodGet, "/posts/unsent?tg_user_id=5&limit=51", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("unsent limit above 50 must be rejected, got %d", code)
	}
}

func TestPostsUnknownUserAndMarkSentShapes(t *testing.T) {
	srv, _ := newTestAPI(t)
	for _, path := range []string{"/posts/unsent?tg_user_id=404", "/posts/latest?tg_user_id=404"} {
		var posts PostsResponse
		if code := call(t, srv, http.MethodGet, path, nil, &posts); code != http.StatusOK {
			t.Fatalf("%s: code=%d", path, code)
		}
		if posts.Posts == nil || len(posts.Posts) != 0 {
			t.Fatalf("%s: expected empty list, got %+v", path, posts.Posts)
		}
	}

	bodies := []struct {
		name string
		body any
		want int
	}{
		{name: "array", body: []int64{1, 2}, want: http.StatusOK},
		{name: "object", body: MarkSentRequest{PostIDs: []int64{1}}, want: http.StatusOK},
		{name: "garbage", body: "oops", want: http.StatusBadRequest},
	}
	for _, tc := range bodies {
		if code := call(t, srv, http.MethodPost, "/posts/mark_sent", tc.body, nil); code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, code)
		}
	}
}

func TestTogglesRequireVIP(t *testing.T) {
	srv, _ := newTestAPI(t)
	call(t, srv, http.MethodPost, "/users/start", StartRequest{TGUserID: 8, Username: "reader"}, nil)

	var errResp infrahttp.ErrorResponse
	if code := call(t, srv, http.MethodPost, "/users/spam_filter", ToggleRequest{TGUserID: 8, Enabled: true}, &errResp); code != http.StatusForbidden {
		t.Fatalf("spam filter without VIP: code=%d", code)
	}
	if code := call(t, srv, http.MethodPost, "/users/forwarding", ToggleRequest{TGUserID: 8, Enabled: true}, nil); code != http.StatusOK {
		t.Fatalf("forwarding: code=%d", code)
	}
	var state ToggleResponse
	call(t, srv, http.MethodGet, "/users/forwarding?tg_user_id=8", nil, &state)
	if !state.Enabled {
		t.Fatalf("forwarding must be on")
	}

	var vip VIPResponse
	call(t, srv, http.MethodPost, "/admin/vip/grant", GrantRequest{TGUserID: 8, Days: 7}, &vip)
	if !vip.OK || vip.VIPUntil == nil {
		t.Fatalf("grant failed: %+v", vip)
	}
	if code := call(t, srv, http.MethodPost, "/users/short_feed", ToggleRequest{TGUserID: 8, Enabled: true}, nil); code != http.StatusOK {
		t.Fatalf("short feed with VIP: code=%d", code)
	}

	var targets TargetsResponse
	call(t, srv, http.MethodGet, "/admin/broadcast_targets?group=vip", nil, &targets)
	if diff := cmp.Diff([]int64{8}, targets.UserIDs); diff != "" {
		t.Fatalf("vip targets mismatch (-want +got):\n%s", diff)
	}
	if code := call(t, srv, http.MethodGet, "/admin/broadcast_targets?group=gold", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown group: code=%d", code)
	}

	call(t, srv, http.MethodPost, "/admin/vip/revoke", GrantRequest{TGUserID: 8}, nil)
	call(t, srv, http.MethodGet, "/admin/broadcast_targets?group=vip", nil, &targets)
	if len(targets.UserIDs) != 0 {
		t.Fatalf("revoked user must leave the vip group, got %v", targets.UserIDs)
	}

	if code := call(t, srv, http.MethodPost, "/admin/vip/grant", GrantRequest{TGUserID: 8, Days: 0}, nil); code != http.StatusBadRequest {
		t.Fatalf("zero days: code=%d", code)
	}
	if code := call(t, srv, http.MethodGet, "/admin/stats", nil, nil); code != http.StatusNotImplemented {
		t.Fatalf("stats without repo: code=%d", code)
	}
}

func TestSBPWebhook(t *testing.T) {
	srv, store := newTestAPI(t)
	ctx := context.Background()
	if _, _, err := store.EnsureUser(ctx, domain.UserProfile{TGUserID: 3}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	intent := domain.PaymentIntent{
		ID:          "intent-1",
		TGUserID:    3,
		Plan:        domain.Plan7Days,
		Method:      domain.PaymentQR,
		Amount:      domain.Money{Amount: 19900, Currency: "RUB"},
		Status:      domain.PaymentPending,
		ProviderRef: "qr-1",
	}
	if err := store.CreatePaymentIntent(ctx, intent); err != nil {
		t.Fatalf("CreatePaymentIntent: %v", err)
	}

	post := func(body string) int {
		resp, err := srv.Client().Post(srv.URL+"/payments/sbp/webhook", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("webhook: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "garbage", body: "{", want: http.StatusBadRequest},
		{name: "other type", body: `{"webhookType":"incomingPayment","qrcId":"qr-1"}`, want: http.StatusOK},
		{name: "unknown qr", body: `{"webhookType":"incomingSbpPayment","qrcId":"qr-404","amount":"199.00"}`, want: http.StatusNotFound},
		{name: "amount mismatch", body: `{"webhookType":"incomingSbpPayment","qrcId":"qr-1","amount":"10.00"}`, want: http.StatusUnprocessableEntity},
		{name: "paid", body: `{"webhookType":"incomingSbpPayment","operationId":"op-1","qrcId":"qr-1","amount":"199.00"}`, want: http.StatusOK},
	}
	for _, tc := range cases {
		if got := post(tc.body); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}

	var checked PaymentResponse
	call(t, srv, http.MethodGet, "/payments/intent-1", nil, &checked)
	if checked.Intent.Status != domain.PaymentSucceeded {
		t.Fatalf("intent must be succeeded, got %s", checked.Intent.Status)
	}
	user, err := store.GetUser(ctx, 3)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.VIPUntil == nil {
		t.Fatalf("payment must extend VIP")
	}
	if code := call(t, srv, http.MethodGet, "/payments/missing", nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown intent: code=%d", code)
	}
}
