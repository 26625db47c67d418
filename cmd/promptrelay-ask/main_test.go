package main

import (
	"strings"
	"testing"
)

func TestReadPromptFromArgs(t *testing.T) {
	p, err := readPrompt([]string{"tell", "me", "a", "joke"}, strings.NewReader("ignored"))
	if err != nil {
		t.Fatalf("readPrompt: %v", err)
	}
	if p != "tell me a joke" {
		t.Fatalf("prompt = %q", p)
	}
}

func TestReadPromptFromStdin(t *testing.T) {
	p, err := readPrompt(nil, strings.NewReader("  hello\n"))
	if err != nil {
		t.Fatalf("readPrompt: %v", err)
	}
	if p != "hello" {
		t.Fatalf("prompt = %q", p)
	}
	if _, err := readPrompt(nil, strings.NewReader(" \n")); err == nil {
		t.Fatalf("expected error for empty stdin")
	}
}
