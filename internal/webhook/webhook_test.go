package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDeliverSignsBodyAndSendsHeaders(t *testing.T) {
	const secret = "shh"
	var gotSig, gotCT string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Infrapass-Signature")
		gotCT = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, secret)
	if !c.Enabled() {
		t.Fatal("client with url and secret should be enabled")
	}

	n := Notification{Event: "low_balance_warning", UserAddress: "0xA", ServiceID: "svc1", Detail: "d"}
	if err := c.Deliver(n); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotCT)
	}

	wantBody, _ := json.Marshal(n)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(wantBody)
	wantSig := hex.EncodeToString(mac.Sum(nil))

	if gotSig != wantSig {
		t.Errorf("signature = %q, want %q", gotSig, wantSig)
	}
	if string(gotBody) != string(wantBody) {
		t.Errorf("body = %q, want %q", gotBody, wantBody)
	}
}

func TestDeliverNoOpWhenDisabled(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(srv.Client(), "", "")
	if c.Enabled() {
		t.Fatal("client with no url/secret should be disabled")
	}
	if err := c.Deliver(Notification{Event: "x"}); err != nil {
		t.Fatalf("Deliver on disabled client should be a no-op, got error: %v", err)
	}
	if called {
		t.Error("disabled client should never reach the network")
	}
}

func TestDeliverPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "secret")
	if err := c.Deliver(Notification{Event: "x"}); err == nil {
		t.Error("Deliver should return an error when the provider responds with 5xx")
	}
}
