package homeassistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"skillsd/internal/skill"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestTurnOnLight(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Write([]byte(`[]`))
	})

	if err := c.TurnOnLight(context.Background(), "light.living_room"); err != nil {
		t.Fatalf("TurnOnLight: %v", err)
	}
	if gotPath != "/api/services/light/turn_on" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth=%q", gotAuth)
	}
	if gotBody["entity_id"] != "light.living_room" {
		t.Fatalf("body=%v", gotBody)
	}
}

func TestTurnOnLightRejectsNonLight(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected")
	})
	if err := c.TurnOnLight(context.Background(), "switch.fan"); err == nil {
		t.Fatalf("expected error for non-light entity")
	}
}

func TestTurnOffLightHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	})
	err := c.TurnOffLight(context.Background(), "light.nope")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Fatalf("err=%v", err)
	}
	snap := c.Snapshot()
	if snap.Failures != 1 || snap.LastError == "" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestListLights(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states" {
			t.Errorf("path=%q", r.URL.Path)
		}
		w.Write([]byte(`[
			{"entity_id":"light.kitchen","state":"on","attributes":{"friendly_name":"Kitchen"}},
			{"entity_id":"switch.fan","state":"off","attributes":{}},
			{"entity_id":"light.bedroom","state":"off","attributes":{}}
		]`))
	})

	out, err := c.ListLights(context.Background())
	if err != nil {
		t.Fatalf("ListLights: %v", err)
	}
	if !strings.Contains(out, "- light.kitchen (Kitchen): on") {
		t.Fatalf("out=%q", out)
	}
	if !strings.Contains(out, "- light.bedroom (light.bedroom): off") {
		t.Fatalf("out=%q", out)
	}
	if strings.Contains(out, "switch.fan") {
		t.Fatalf("non-light leaked: %q", out)
	}
}

func TestListLightsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"entity_id":"sensor.temp","state":"21"}]`))
	})
	out, err := c.ListLights(context.Background())
	if err != nil {
		t.Fatalf("ListLights: %v", err)
	}
	if out != "No lights found in Home Assistant" {
		t.Fatalf("out=%q", out)
	}
}

func TestLightStateWithBrightness(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states/light.kitchen" {
			t.Errorf("path=%q", r.URL.Path)
		}
		w.Write([]byte(`{"entity_id":"light.kitchen","state":"on","attributes":{"friendly_name":"Kitchen","brightness":128}}`))
	})

	out, err := c.LightState(context.Background(), "light.kitchen")
	if err != nil {
		t.Fatalf("LightState: %v", err)
	}
	if out != "Kitchen (light.kitchen) is on at 50% brightness" {
		t.Fatalf("out=%q", out)
	}
}

func TestLightStateWithoutBrightness(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"entity_id":"light.hall","state":"off","attributes":{}}`))
	})
	out, err := c.LightState(context.Background(), "light.hall")
	if err != nil {
		t.Fatalf("LightState: %v", err)
	}
	if out != "light.hall (light.hall) is off" {
		t.Fatalf("out=%q", out)
	}
}

func TestRegisterSkills(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	reg := skill.NewRegistry()
	if err := c.RegisterSkills(reg); err != nil {
		t.Fatalf("RegisterSkills: %v", err)
	}
	names := map[string]bool{}
	for _, s := range reg.List() {
		names[s.Name] = true
	}
	for _, want := range []string{"turn_on_light", "turn_off_light", "list_lights", "get_light_state"} {
		if !names[want] {
			t.Fatalf("missing skill %q (have %v)", want, names)
		}
	}

	out, err := reg.Invoke(context.Background(), "turn_on_light", map[string]string{"entity_id": "light.desk"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "Successfully turned on light.desk" {
		t.Fatalf("out=%q", out)
	}
}
