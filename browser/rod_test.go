package browser

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func TestTextPattern(t *testing.T) {
	tests := []struct {
		target Target
		want   string
	}{
		{Text("Cary"), `/^\s*Cary\s*$/`},
		{Target{Kind: ByText, Text: "Fees (1.5)", Contains: true}, `/Fees \(1\.5\)/`},
	}
	for _, tt := range tests {
		if got := textPattern(tt.target); got != tt.want {
			t.Errorf("textPattern(%q) = %q, want %q", tt.target.Text, got, tt.want)
		}
	}

	if got := scope(Text("Cary")); got != "*" {
		t.Errorf("scope without selector = %q, want *", got)
	}
	if got := scope(TextWithin(".panel", "Cary")); got != ".panel" {
		t.Errorf("scope with selector = %q, want .panel", got)
	}
}

const lookupPage = `<!doctype html><html><body>
<div class="panel"><span>Cary</span></div>
<button id="go">Make an Appointment</button>
</body></html>`

// TestRodLookup needs a local Chrome. Set DMV_TEST_CHROME to its path, or
// to "auto" to let rod find one.
func TestRodLookup(t *testing.T) {
	bin := os.Getenv("DMV_TEST_CHROME")
	if bin == "" || testing.Short() {
		t.Skip("DMV_TEST_CHROME not set")
	}
	if bin == "auto" {
		bin = ""
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, lookupPage)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	b, err := NewRodLauncher(bin, true, slog.New(slog.NewTextHandler(io.Discard, nil))).Launch(ctx)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer b.Close()

	bc, err := b.NewContext(ctx, ContextOptions{Latitude: 35.78, Longitude: -78.65, Accuracy: 100})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer bc.Close()

	page, err := bc.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if err := page.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	tests := []struct {
		name   string
		target Target
		want   bool
	}{
		{"selector present", Selector("#go"), true},
		{"selector absent", Selector("#missing"), false},
		{"text within scope", TextWithin(".panel", "Cary"), true},
		{"text outside scope", TextWithin(".panel", "Make an Appointment"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el, ok, err := page.Lookup(ctx, tt.target)
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if ok != tt.want {
				t.Fatalf("Lookup found = %v, want %v", ok, tt.want)
			}
			if ok && el == nil {
				t.Fatal("Lookup reported a match without an element")
			}
		})
	}
}
