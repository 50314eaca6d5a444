package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	// t.Setenv registers the restore; the vars must be absent for the
	// envDefault fallbacks to apply
	for _, key := range []string{"CAMPWARS_API_URL", "CAMPWARS_SOCKET_URL", "CAMPWARS_CONSTRAINED_NET"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Fatalf("want default base url, got %s", cfg.BaseURL)
	}
	if cfg.SocketURL != "wss://api.campwars.io/ws" {
		t.Fatalf("want derived socket url, got %s", cfg.SocketURL)
	}
	if cfg.Constrained {
		t.Fatal("constrained must default to false")
	}
}

func TestLoad_ExplicitValuesWin(t *testing.T) {
	t.Setenv("CAMPWARS_API_URL", "http://localhost:9000/")
	t.Setenv("CAMPWARS_SOCKET_URL", "ws://localhost:9001/push")
	t.Setenv("CAMPWARS_CONSTRAINED_NET", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SocketURL != "ws://localhost:9001/push" {
		t.Fatalf("explicit socket url must win, got %s", cfg.SocketURL)
	}
	if !cfg.Constrained {
		t.Fatal("constrained flag not read")
	}
}

func TestDeriveSocketURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://api.campwars.io", "wss://api.campwars.io/ws"},
		{"http://localhost:9000", "ws://localhost:9000/ws"},
		{"http://localhost:9000/", "ws://localhost:9000/ws"},
	}
	for _, tc := range cases {
		if got := deriveSocketURL(tc.in); got != tc.want {
			t.Fatalf("deriveSocketURL(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
