package devauth

import (
	"context"
	"net/url"
	"testing"

	"github.com/ocs-portal/portal-auth/internal/ports"
)

func TestProvider_BeginAndExchange(t *testing.T) {
	prov, err := NewProvider(Config{
		UserID:     "dev-user",
		Email:      "dev@example.com",
		Groups:     []string{"All_Staff", " ", "Technology Department"},
		Attributes: map[string]string{"extensionAttribute10": "Director of Schools"},
	})
	if err != nil {
		t.Fatalf("NewProvider error: %v", err)
	}

	authURL, err := prov.Begin(context.Background(), ports.BeginInput{State: "st-1", Nonce: "n-1"})
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse authURL: %v", err)
	}
	if u.Path != "/auth/callback" || u.Query().Get("state") != "st-1" || u.Query().Get("code") == "" {
		t.Fatalf("unexpected authURL: %s", authURL)
	}

	id, err := prov.Exchange(context.Background(), ports.ExchangeInput{Code: "dev", Nonce: "n-1"})
	if err != nil {
		t.Fatalf("Exchange error: %v", err)
	}
	if id.UserID != "dev-user" || id.Email != "dev@example.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if len(id.Groups) != 2 || id.Groups[1].Name != "Technology Department" {
		t.Fatalf("unexpected groups: %+v", id.Groups)
	}
	if id.Attributes["extensionAttribute10"] != "Director of Schools" {
		t.Fatalf("unexpected attributes: %+v", id.Attributes)
	}

	id.Attributes["extensionAttribute10"] = "changed"
	again, _ := prov.Exchange(context.Background(), ports.ExchangeInput{Code: "dev"})
	if again.Attributes["extensionAttribute10"] != "Director of Schools" {
		t.Fatal("Exchange must return an independent copy")
	}
}

func TestProvider_Errors(t *testing.T) {
	if _, err := NewProvider(Config{Email: "a@b"}); err == nil {
		t.Fatal("expected error without UserID")
	}
	if _, err := NewProvider(Config{UserID: "u"}); err == nil {
		t.Fatal("expected error without Email")
	}

	prov, err := NewProvider(Config{UserID: "u", Email: "u@example.org", CallbackPath: "/login/done"})
	if err != nil {
		t.Fatalf("NewProvider error: %v", err)
	}
	if _, err := prov.Begin(context.Background(), ports.BeginInput{}); err == nil {
		t.Fatal("expected error without state")
	}
	if _, err := prov.Exchange(context.Background(), ports.ExchangeInput{}); err == nil {
		t.Fatal("expected error without code")
	}
}
