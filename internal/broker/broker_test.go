package broker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/signalsfoundry/velotrain/internal/types"
)

func TestSubjectConstants(t *testing.T) {
	if SubjectPassing != "velotrain.passing" {
		t.Errorf("SubjectPassing = %q", SubjectPassing)
	}
	if SubjectRawpass != "velotrain.rawpass" {
		t.Errorf("SubjectRawpass = %q", SubjectRawpass)
	}
	if SubjectStatus != "velotrain.status" {
		t.Errorf("SubjectStatus = %q", SubjectStatus)
	}
}

func TestClient_Close_NilSafety(t *testing.T) {
	client := &Client{conn: nil}
	client.Close() // should not panic
}

func TestEmissionRecordRoundTrips(t *testing.T) {
	rec := types.EmissionRecord{Index: 1, Mpid: 2, Refid: "42", Time: "12:00:00.00"}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out types.EmissionRecord
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Refid != rec.Refid || out.Mpid != rec.Mpid {
		t.Errorf("roundtrip mismatch: %+v", out)
	}
}

// TestNew_EmptyURL needs no server; the tests after it require a NATS
// server on localhost:4222 and are skipped otherwise.

func TestNew_EmptyURL(t *testing.T) {
	client, err := New("")
	if err == nil {
		t.Error("New() should fail with empty URL")
		if client != nil {
			client.Close()
		}
	}
}

func TestNew_ConnectAndPublish(t *testing.T) {
	client, err := New("nats://localhost:4222")
	if err != nil {
		t.Skip("NATS not available, skipping integration test")
	}
	defer client.Close()

	if err := client.PublishPassing(types.EmissionRecord{Index: 0, Mpid: 1, Refid: "42"}); err != nil {
		t.Fatalf("PublishPassing() failed: %v", err)
	}
}

func TestSubscribeMarker_ReceivesText(t *testing.T) {
	client, err := New("nats://localhost:4222")
	if err != nil {
		t.Skip("NATS not available, skipping integration test")
	}
	defer client.Close()

	got := make(chan string, 1)
	if err := client.SubscribeMarker(func(text string) { got <- text }); err != nil {
		t.Fatalf("SubscribeMarker() failed: %v", err)
	}
	if err := client.conn.Publish(SubjectMarker, []byte("lap 1")); err != nil {
		t.Fatalf("publish marker: %v", err)
	}
	select {
	case text := <-got:
		if text != "lap 1" {
			t.Errorf("marker text = %q, want %q", text, "lap 1")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for marker message")
	}
}

func TestSubscribeRawpass_DeliversPublishedRecord(t *testing.T) {
	client, err := New("nats://localhost:4222")
	if err != nil {
		t.Skip("NATS not available, skipping integration test")
	}
	defer client.Close()

	got := make(chan types.RawPassing, 1)
	if err := client.SubscribeRawpass("test-rawlogger", func(rec types.RawPassing) { got <- rec }); err != nil {
		t.Fatalf("SubscribeRawpass() failed: %v", err)
	}
	if err := client.PublishRawpass(types.RawPassing{Mpid: 1, Refid: "7"}); err != nil {
		t.Fatalf("PublishRawpass() failed: %v", err)
	}
	select {
	case rec := <-got:
		if rec.Mpid != 1 || rec.Refid != "7" {
			t.Errorf("unexpected rawpass: %+v", rec)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for rawpass message")
	}
}
