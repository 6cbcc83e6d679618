package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"NudgeAgent/internal/auth"
)

const alertBody = `{"action":"alert","from":"amy","to":"me","alert_id":"a-1","message":"hey","timestamp":"1700000000000"}`

func postPush(s *testStack, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/push", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func TestPushWebhookVerifiesSignature(t *testing.T) {
	verifier := auth.NewWebhookVerifier([]byte("push-secret"))
	s := newTestStack(t, func(o *RouterOpts) { o.Webhook = verifier })

	rr := postPush(s, alertBody, map[string]string{auth.SignatureHeader: "sha256=00"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rr.Code)
	}

	rr = postPush(s, alertBody, map[string]string{auth.SignatureHeader: verifier.Sign([]byte(alertBody))})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rr.Code, rr.Body.String())
	}
	msgs, err := s.repo.ListMessages(context.Background(), "amy", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].AlertID != "a-1" {
		t.Fatalf("expected recorded alert, got %+v", msgs)
	}

	// A replay is absorbed.
	rr = postPush(s, alertBody, map[string]string{auth.SignatureHeader: verifier.Sign([]byte(alertBody))})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for replay, got %d", rr.Code)
	}
	msgs, _ = s.repo.ListMessages(context.Background(), "amy", 0)
	if len(msgs) != 1 {
		t.Fatalf("expected replay recorded once, got %d", len(msgs))
	}
}

func TestPushWebhookAcceptsGoogleIDToken(t *testing.T) {
	var gotAudience string
	s := newTestStack(t, func(o *RouterOpts) {
		o.PushAudience = "https://agent.example/push"
		o.VerifyIDToken = func(_ context.Context, token, audience string) (*auth.ExternalTokenClaims, error) {
			gotAudience = audience
			if token != "good" {
				return nil, errors.New("bad token")
			}
			return &auth.ExternalTokenClaims{Issuer: "https://accounts.google.com"}, nil
		}
	})

	rr := postPush(s, alertBody, map[string]string{"Authorization": "Bearer bad"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rr.Code)
	}
	rr = postPush(s, alertBody, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rr.Code)
	}
	rr = postPush(s, alertBody, map[string]string{"Authorization": "Bearer good"})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if gotAudience != "https://agent.example/push" {
		t.Fatalf("unexpected audience %q", gotAudience)
	}
}

func TestPushWebhookRejectsMalformedAndMisrouted(t *testing.T) {
	s := newTestStack(t, nil)

	rr := postPush(s, `{"from":"amy"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing action, got %d", rr.Code)
	}
	rr = postPush(s, `{"action":"alert","from":"amy","to":"someone","alert_id":"a-9"}`, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for misrouted alert, got %d", rr.Code)
	}
	rr = postPush(s, `{"action":"wave","from":"amy"}`, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected unknown action ignored, got %d", rr.Code)
	}
	if f, err := s.store.GetFriend(context.Background(), "amy"); err == nil && f.Received != 0 {
		t.Fatalf("expected nothing recorded, got %+v", f)
	}
}
