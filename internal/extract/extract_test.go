package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"eventpulse/pkg/logx"
)

func TestRules(t *testing.T) {
	t.Parallel()
	tests := []struct {
		msg      string
		types    []string
		location string
		max      *float64
		keywords []string
	}{
		{
			msg:      "Any free jazz concerts in New York?",
			types:    []string{"concert"},
			location: "new york",
			max:      ptr(0.0),
			keywords: []string{"jazz"},
		},
		{
			msg:      "cheap sports or art exhibitions around Austin, family friendly",
			types:    []string{"sports", "art"},
			location: "austin",
			max:      ptr(50.0),
			keywords: []string{"family", "art"},
		},
		{
			msg:   "a party at the start of the month",
			types: nil,
		},
		{msg: ""},
	}
	for _, tt := range tests {
		p := Rules{}.Extract(context.Background(), tt.msg)
		if !slices.Equal(p.EventTypes, tt.types) {
			t.Fatalf("%q: types=%v want %v", tt.msg, p.EventTypes, tt.types)
		}
		if !slices.Equal(p.Keywords, tt.keywords) {
			t.Fatalf("%q: keywords=%v want %v", tt.msg, p.Keywords, tt.keywords)
		}
		switch {
		case tt.location == "" && p.Location != nil:
			t.Fatalf("%q: unexpected location %q", tt.msg, *p.Location)
		case tt.location != "" && (p.Location == nil || *p.Location != tt.location):
			t.Fatalf("%q: location=%v want %q", tt.msg, p.Location, tt.location)
		}
		switch {
		case tt.max == nil && p.Budget != nil:
			t.Fatalf("%q: unexpected budget", tt.msg)
		case tt.max != nil && (p.Budget == nil || p.Budget.Max == nil || *p.Budget.Max != *tt.max):
			t.Fatalf("%q: budget=%+v want max %v", tt.msg, p.Budget, *tt.max)
		}
	}
}

func TestRemoteParsesResponses(t *testing.T) {
	t.Parallel()
	bodies := map[string]string{
		"array":  `[{"generated_text": "{\"eventTypes\": [\"workshop\"], \"location\": \"Chicago\"}"}]`,
		"fenced": `[{"generated_text": "` + "```json\\n{\\\"eventTypes\\\": [\\\"workshop\\\"], \\\"location\\\": \\\"Chicago\\\"}\\n```" + `"}]`,
		"string": `"{\"eventTypes\": [\"workshop\"], \"location\": \"Chicago\"}"`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer tok" {
					t.Errorf("auth header=%q", r.Header.Get("Authorization"))
				}
				var req generateRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != "m" || req.Inputs == "" {
					t.Errorf("request=%+v err=%v", req, err)
				}
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			rem := NewRemote(RemoteConfig{Endpoint: srv.URL, Model: "m", Token: "tok"}, srv.Client(), nil, logx.Nop())
			p := rem.Extract(context.Background(), "workshops in chicago")
			if !slices.Equal(p.EventTypes, []string{"workshop"}) || p.Location == nil || *p.Location != "Chicago" {
				t.Fatalf("got %+v", p)
			}
		})
	}
}

func TestRemoteFallsBackToRules(t *testing.T) {
	t.Parallel()
	handlers := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "loading", http.StatusServiceUnavailable) },
		"junk":   func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`[{"generated_text": "sure! here you go"}]`)) },
		"slow": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		},
	}
	for name, h := range handlers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(h)
			defer srv.Close()
			rem := NewRemote(RemoteConfig{Endpoint: srv.URL, Timeout: 100 * time.Millisecond}, srv.Client(), nil, logx.Nop())
			p := rem.Extract(context.Background(), "free food festival in miami")
			if !slices.Equal(p.EventTypes, []string{"festival", "food"}) || p.Location == nil || *p.Location != "miami" {
				t.Fatalf("fallback got %+v", p)
			}
		})
	}

	rem := NewRemote(RemoteConfig{}, nil, nil, logx.Nop())
	if p := rem.Extract(context.Background(), "rock"); !slices.Equal(p.Keywords, []string{"rock"}) {
		t.Fatalf("unconfigured endpoint should fall back, got %+v", p)
	}
}
