package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

func signPayload(secret string, payload []byte, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(ts + "."))
	m.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(m.Sum(nil)))
}

func TestWebhookSignature(t *testing.T) {
	payload := []byte(`{"type":"checkout.session.completed"}`)
	now := time.Now()

	t.Run("valid signature accepted", func(t *testing.T) {
		header := signPayload("whsec_test", payload, now)
		if err := verifyWebhookSignatureAt(payload, header, "whsec_test", now); err != nil {
			t.Fatalf("valid signature rejected: %v", err)
		}
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		header := signPayload("other", payload, now)
		if err := verifyWebhookSignatureAt(payload, header, "whsec_test", now); err == nil {
			t.Fatal("forged signature accepted")
		}
	})

	t.Run("tampered payload rejected", func(t *testing.T) {
		header := signPayload("whsec_test", payload, now)
		if err := verifyWebhookSignatureAt([]byte(`{"amount":9999}`), header, "whsec_test", now); err == nil {
			t.Fatal("tampered payload accepted")
		}
	})

	t.Run("stale timestamp rejected", func(t *testing.T) {
		header := signPayload("whsec_test", payload, now.Add(-time.Hour))
		if err := verifyWebhookSignatureAt(payload, header, "whsec_test", now); err == nil {
			t.Fatal("stale signature accepted")
		}
	})

	t.Run("malformed header rejected", func(t *testing.T) {
		if err := verifyWebhookSignatureAt(payload, "nonsense", "whsec_test", now); err == nil {
			t.Fatal("malformed header accepted")
		}
	})
}

func TestParseCheckoutCompleted(t *testing.T) {
	payload := []byte(`{"type":"checkout.session.completed","data":{"object":{
		"id":"cs_1","amount_total":2500,"customer_email":"ada@example.com","customer":"cus_1"}}}`)
	ev, err := ParseCheckoutCompleted(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev == nil || ev.ID != "cs_1" || ev.AmountTotal != 2500 || ev.CustomerEmail != "ada@example.com" {
		t.Fatalf("event: %+v", ev)
	}

	other, err := ParseCheckoutCompleted([]byte(`{"type":"invoice.paid","data":{"object":{}}}`))
	if err != nil || other != nil {
		t.Fatalf("unrelated event should be nil, got %+v (%v)", other, err)
	}
}
