package policy

import (
	"testing"

	"github.com/ppiankov/popwatch/internal/model"
)

func TestCheck(t *testing.T) {
	prefs := model.DefaultPreferences()

	tests := []struct {
		name      string
		in        CheckInput
		wantBlock bool
		wantHost  string
	}{
		{
			name:      "window.open to ad host",
			in:        CheckInput{PageURL: "https://news.example.com/", Kind: model.WindowOpen, Href: "https://ads.example.net/x"},
			wantBlock: true,
			wantHost:  "ads.example.net",
		},
		{
			name:     "window.open to allowed host",
			in:       CheckInput{PageURL: "https://news.example.com/", Kind: model.WindowOpen, Href: "https://www.google.com/"},
			wantHost: "www.google.com",
		},
		{
			name:      "blank link",
			in:        CheckInput{PageURL: "https://news.example.com/", Kind: model.ElementActivation, Href: "https://ads.example.net/", Target: "_blank"},
			wantBlock: true,
			wantHost:  "ads.example.net",
		},
		{
			name: "link without target",
			in:   CheckInput{PageURL: "https://news.example.com/", Href: "https://ads.example.net/"},
		},
		{
			name: "trusted meta click",
			in: CheckInput{
				PageURL: "https://news.example.com/", Kind: model.ElementActivation,
				Href: "https://ads.example.net/", Target: "_blank", Trusted: true, MetaKey: true,
			},
		},
		{
			name: "magnet protocol",
			in:   CheckInput{PageURL: "https://news.example.com/", Kind: model.WindowOpen, Href: "magnet:?xt=urn:btih:abc"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Check(tt.in, prefs)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if d.Block != tt.wantBlock {
				t.Errorf("block = %v, want %v (%+v)", d.Block, tt.wantBlock, d)
			}
			if tt.wantHost != "" && d.Hostname != tt.wantHost {
				t.Errorf("hostname = %q, want %q", d.Hostname, tt.wantHost)
			}
			if d.ID == "" {
				t.Error("expected a correlation id")
			}
		})
	}
}

func TestCheckInvalidInput(t *testing.T) {
	if _, err := Check(CheckInput{Kind: model.WindowOpen}, model.DefaultPreferences()); err == nil {
		t.Error("expected error without page url")
	}
	if _, err := Check(CheckInput{PageURL: "https://a.test/", Kind: "form.submit"}, model.DefaultPreferences()); err == nil {
		t.Error("expected error for unknown kind")
	}
}
