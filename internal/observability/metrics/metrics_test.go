package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestObserveRequestNormalizesPath(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/contentProperties/movie-001", 200, 25*time.Millisecond)

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()

	expected := `mediavault_http_requests_total{method="GET",path="/contentProperties/:id",status="200"} 1`
	if !strings.Contains(body, expected) {
		t.Fatalf("expected metrics output to contain %q, got %q", expected, body)
	}
}

func TestLoginOutcomesAndSessions(t *testing.T) {
	recorder := New()
	recorder.ObserveLogin("success")
	recorder.ObserveLogin("success")
	recorder.ObserveLogin("invalid_credentials")
	recorder.SessionCreated()
	recorder.SessionCreated()
	recorder.SessionEnded("revoked")

	counts := recorder.LoginCounts()
	if counts["success"] != 2 || counts["invalid_credentials"] != 1 {
		t.Fatalf("unexpected login counts %v", counts)
	}
	if recorder.ActiveSessions() != 1 {
		t.Fatalf("expected 1 active session, got %d", recorder.ActiveSessions())
	}

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()
	if !strings.Contains(body, `mediavault_login_attempts_total{outcome="success"} 2`) {
		t.Fatalf("missing login counter in %q", body)
	}
	if !strings.Contains(body, `mediavault_session_events_total{event="revoked"} 1`) {
		t.Fatalf("missing session event counter in %q", body)
	}
	if !strings.Contains(body, "mediavault_active_sessions 1") {
		t.Fatalf("missing active session gauge in %q", body)
	}
}

func TestSessionGaugeNeverNegative(t *testing.T) {
	recorder := New()
	recorder.SessionEnded("expired")
	if recorder.ActiveSessions() != 0 {
		t.Fatalf("expected gauge to clamp at zero, got %d", recorder.ActiveSessions())
	}
}

func TestContentOperationCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveContentOperation("create", "ok")
	recorder.ObserveContentOperation("update", "not_found")
	recorder.ObserveContentOperation("update", "not_found")

	counts := recorder.ContentOperationCounts()
	if counts[ContentOpLabel{Operation: "update", Outcome: "not_found"}] != 2 {
		t.Fatalf("unexpected content operation counts %v", counts)
	}

	var buf bytes.Buffer
	recorder.Write(&buf)
	if !strings.Contains(buf.String(), `mediavault_content_operations_total{operation="create",outcome="ok"} 1`) {
		t.Fatalf("missing content operation counter in %q", buf.String())
	}
}

func TestSetStoreHealthMapsStatuses(t *testing.T) {
	recorder := New()
	recorder.SetStoreHealth("datastore", "ok")
	recorder.SetStoreHealth("sessions", "degraded")

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()
	if !strings.Contains(body, `mediavault_store_health{store="datastore",status="ok"} 1`) {
		t.Fatalf("missing healthy store gauge in %q", body)
	}
	if !strings.Contains(body, `mediavault_store_health{store="sessions",status="degraded"} -1`) {
		t.Fatalf("missing degraded store gauge in %q", body)
	}
}

func TestResetClearsCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveLogin("success")
	recorder.SessionCreated()
	recorder.Reset()

	if len(recorder.LoginCounts()) != 0 {
		t.Fatal("expected login counts cleared after reset")
	}
	if recorder.ActiveSessions() != 0 {
		t.Fatalf("expected active sessions reset, got %d", recorder.ActiveSessions())
	}
}
