package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/wampd/internal/wamp"
	"github.com/danmuck/wampd/internal/wamp/serialize"
)

// parseValue reads a command-line argument as JSON, falling back to the
// raw string so `wampctl call com.app.echo hello` needs no quoting.
func parseValue(arg string) interface{} {
	v, err := serialize.JSON.Unserialize([]byte(arg))
	if err != nil {
		return arg
	}
	return v
}

func parseArgs(args []string) wamp.List {
	if len(args) == 0 {
		return nil
	}
	out := make(wamp.List, 0, len(args))
	for _, a := range args {
		out = append(out, parseValue(a))
	}
	return out
}

// parseKwArgs reads a JSON object. An empty string means no kwargs.
func parseKwArgs(s string) (wamp.Dict, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := serialize.JSON.Unserialize([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("kwargs: %w", err)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("kwargs: want a JSON object, got %T", v)
	}
	return wamp.Dict(m), nil
}

// render prints v as one line of JSON.
func render(v interface{}) string {
	b, err := serialize.JSON.Serialize(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
