package main

import (
	"errors"
	"io"
	"testing"

	"go.salikov.me/argus/internal/cli"
)

func testEnv(vars map[string]string) *cli.Env {
	return &cli.Env{
		Getenv: func(k string) string { return vars[k] },
		Stdin:  io.MultiReader(),
		Stdout: io.Discard,
		Stderr: io.Discard,
	}
}

func TestRunConfigErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]map[string]string{
		"missing token": {},
		"missing admin": {
			"TELEGRAM_TOKEN": "123:abc",
		},
		"non-numeric admin": {
			"TELEGRAM_TOKEN": "123:abc",
			"ADMIN_ID":       "alice",
		},
		"unknown policy": {
			"TELEGRAM_TOKEN":      "123:abc",
			"ADMIN_ID":            "99",
			"REGISTRATION_POLICY": "astrology",
		},
		"channel policy without channel": {
			"TELEGRAM_TOKEN":      "123:abc",
			"ADMIN_ID":            "99",
			"REGISTRATION_POLICY": "channel",
		},
	}

	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			err := cli.Run(t.Context(), new(engine), testEnv(vars))
			if !errors.Is(err, cli.ErrInvalidArgs) {
				t.Fatalf("got %v, want cli.ErrInvalidArgs", err)
			}
		})
	}
}
