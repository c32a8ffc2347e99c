package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/m3rciful/questbot/core/config"
	"github.com/m3rciful/questbot/game"
)

type recordedPayment struct {
	rows []game.Payment
}

func (r *recordedPayment) Record(_ context.Context, p *game.Payment) error {
	r.rows = append(r.rows, *p)
	return nil
}

func TestPurchaseLink(t *testing.T) {
	var registered, tokenized bool
	var tokenBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "merchant-1" || pass != "key-1" {
			t.Errorf("basic auth = %q/%q", user, pass)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/projects/proj-1/users"):
			registered = true
			w.WriteHeader(http.StatusCreated)
		case strings.HasSuffix(r.URL.Path, "/merchants/merchant-1/token"):
			tokenized = true
			if err := json.NewDecoder(r.Body).Decode(&tokenBody); err != nil {
				t.Errorf("decode token body: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]string{"token": "tok123"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	recorder := &recordedPayment{}
	client := NewClient(config.PaymentConfig{
		MerchantID:    "merchant-1",
		APIKey:        "key-1",
		ProjectID:     "proj-1",
		BaseURL:       srv.URL,
		PayStationURL: "https://pay.example/?access_token=",
		Currency:      "RUB",
		Sandbox:       true,
	}, srv.Client(), recorder)

	player := &game.Player{ID: 3, TelegramID: 100500}
	url, err := client.PurchaseLink(context.Background(), player, 7, 25000)
	if err != nil {
		t.Fatalf("PurchaseLink: %v", err)
	}
	if url != "https://pay.example/?access_token=tok123" {
		t.Fatalf("url = %q", url)
	}
	if !registered || !tokenized {
		t.Fatalf("registered=%v tokenized=%v, want both", registered, tokenized)
	}

	purchase := tokenBody["purchase"].(map[string]any)
	checkout := purchase["checkout"].(map[string]any)
	if amount := checkout["amount"].(float64); amount != 250 {
		t.Fatalf("amount = %v, want 250 major units", amount)
	}
	settings := tokenBody["settings"].(map[string]any)
	if settings["mode"] != "sandbox" {
		t.Fatalf("mode = %v, want sandbox", settings["mode"])
	}

	if len(recorder.rows) != 1 || recorder.rows[0].Amount != 25000 {
		t.Fatalf("recorded rows = %+v", recorder.rows)
	}
}

// The merchant keys users by Telegram id while payments.player_id references
// players(id), so the recorded row must carry the internal id.
func TestPurchaseLinkRecordsInternalPlayerID(t *testing.T) {
	var registeredUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/users") {
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode register body: %v", err)
			}
			registeredUser = body["user_id"]
			w.WriteHeader(http.StatusCreated)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok789"})
	}))
	defer srv.Close()

	recorder := &recordedPayment{}
	client := NewClient(config.PaymentConfig{
		MerchantID:    "m",
		APIKey:        "k",
		ProjectID:     "p",
		BaseURL:       srv.URL,
		PayStationURL: "https://pay.example/?access_token=",
		Currency:      "RUB",
	}, srv.Client(), recorder)

	player := &game.Player{ID: 7, TelegramID: 555000111}
	if _, err := client.PurchaseLink(context.Background(), player, 2, 100); err != nil {
		t.Fatalf("PurchaseLink: %v", err)
	}

	if registeredUser != "555000111" {
		t.Fatalf("merchant user_id = %q, want telegram id", registeredUser)
	}
	if len(recorder.rows) != 1 {
		t.Fatalf("recorded rows = %+v", recorder.rows)
	}
	row := recorder.rows[0]
	if row.PlayerID == nil || *row.PlayerID != 7 {
		t.Fatalf("recorded player_id = %v, want internal id 7", row.PlayerID)
	}
	if row.QuestID == nil || *row.QuestID != 2 {
		t.Fatalf("recorded quest_id = %v", row.QuestID)
	}
}

func TestPurchaseLinkExistingUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/users") {
			w.WriteHeader(http.StatusConflict)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok456"})
	}))
	defer srv.Close()

	client := NewClient(config.PaymentConfig{
		MerchantID:    "m",
		APIKey:        "k",
		ProjectID:     "p",
		BaseURL:       srv.URL,
		PayStationURL: "https://pay.example/?access_token=",
		Currency:      "RUB",
	}, srv.Client(), nil)

	url, err := client.PurchaseLink(context.Background(), &game.Player{ID: 1, TelegramID: 10}, 2, 100)
	if err != nil {
		t.Fatalf("PurchaseLink with existing user: %v", err)
	}
	if !strings.HasSuffix(url, "tok456") {
		t.Fatalf("url = %q", url)
	}
}

func TestPurchaseLinkEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/users") {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	client := NewClient(config.PaymentConfig{
		BaseURL: srv.URL, PayStationURL: "x", Currency: "RUB",
	}, srv.Client(), nil)

	if _, err := client.PurchaseLink(context.Background(), &game.Player{ID: 1, TelegramID: 10}, 2, 100); err == nil {
		t.Fatal("expected error on empty token")
	}
}

type flakyTransport struct {
	fails int
	calls int
	next  http.RoundTripper
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, timeoutErr{}
	}
	return f.next.RoundTrip(req)
}

func TestPostRetriesTimeouts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/users") {
			w.WriteHeader(http.StatusCreated)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tokAB"})
	}))
	defer srv.Close()

	transport := &flakyTransport{fails: 2, next: srv.Client().Transport}
	client := NewClient(config.PaymentConfig{
		BaseURL:       srv.URL,
		PayStationURL: "https://pay.example/?access_token=",
		Currency:      "RUB",
	}, &http.Client{Transport: transport}, nil)

	url, err := client.PurchaseLink(context.Background(), &game.Player{ID: 1, TelegramID: 10}, 2, 100)
	if err != nil {
		t.Fatalf("PurchaseLink after timeouts: %v", err)
	}
	if !strings.HasSuffix(url, "tokAB") {
		t.Fatalf("url = %q", url)
	}
	if transport.calls != 4 {
		t.Fatalf("transport calls = %d, want 2 timeouts + register + token", transport.calls)
	}
}

func TestPostGivesUpAfterRetries(t *testing.T) {
	transport := &flakyTransport{fails: 100}
	client := NewClient(config.PaymentConfig{
		BaseURL:       "http://merchant.invalid",
		PayStationURL: "x",
		Currency:      "RUB",
	}, &http.Client{Transport: transport}, nil)

	if _, err := client.PurchaseLink(context.Background(), &game.Player{ID: 1, TelegramID: 10}, 2, 100); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if transport.calls != 3 {
		t.Fatalf("transport calls = %d, want attempt limit", transport.calls)
	}
}
