package i18n

import (
	"strings"
	"testing"
)

func TestGetCatalogFallback(t *testing.T) {
	base := GetCatalog("en-US")
	if base == nil {
		t.Fatal("expected base catalog")
	}
	if fallback := GetCatalog("missing-locale"); fallback != base {
		t.Fatal("expected fallback to en-US catalog")
	}
	if fallback := GetCatalog("ja-JP"); fallback != base {
		t.Fatal("expected unmatched locale to fall back to en-US")
	}
	if GetCatalog("") != base {
		t.Fatal("expected empty locale to use en-US")
	}
}

func TestGetCatalogMatchesAcceptLanguage(t *testing.T) {
	cat := GetCatalog("pt;q=0.9, fr;q=0.5")
	if cat.Locale() != "pt-BR" {
		t.Fatalf("locale = %q, want pt-BR", cat.Locale())
	}
	got := cat.Format("ALREADY_PAID", map[string]string{"event_id": "match-1"})
	if got != "O evento match-1 já foi pago." {
		t.Fatalf("message = %q", got)
	}
	// Codes without a translation use the base text.
	if got := cat.Format("TOKEN_MISMATCH", map[string]string{"event_id": "match-1"}); !strings.HasPrefix(got, "The token") {
		t.Fatalf("fallback message = %q", got)
	}
}

func TestBaseCatalogRendersEventID(t *testing.T) {
	got := GetCatalog(BaseLocale).Format("PAYOUT_IN_FLIGHT", map[string]string{"event_id": "match-7"})
	if !strings.Contains(got, "match-7") {
		t.Fatalf("message = %q", got)
	}
}

func TestFormatFallbacks(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "hello {{.Name}}",
	})

	if cat.Format("unknown", nil) != "unknown" {
		t.Fatal("expected code fallback when template missing")
	}
	if cat.Format("code", nil) != "hello <no value>" {
		t.Fatal("expected template to render missing metadata")
	}
}

func TestFormatTemplateErrorFallback(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "{{ if .Name }}",
	})
	if cat.Format("code", map[string]string{"Name": "X"}) != "{{ if .Name }}" {
		t.Fatal("expected template fallback on parse error")
	}
}

func TestRegisterCatalog(t *testing.T) {
	custom := NewCatalog("custom", map[Code]string{"code": "ok"})
	RegisterCatalog("custom", custom)
	if got := GetCatalog("custom"); got != custom {
		t.Fatal("expected registered catalog")
	}
}
