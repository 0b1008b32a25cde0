package kafka

import (
	"testing"

	"github.com/xdg-go/scram"
)

func TestSCRAMClientBegin(t *testing.T) {
	tests := []struct {
		name string
		fcn  scram.HashGeneratorFcn
	}{
		{name: "sha256", fcn: scramSHA256},
		{name: "sha512", fcn: scramSHA512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scramClient{HashGeneratorFcn: tt.fcn}

			if err := client.Begin("user", "password", ""); err != nil {
				t.Fatalf("Begin() error = %v", err)
			}
			if client.Client == nil {
				t.Error("Begin() did not initialize client")
			}
			if client.ClientConversation == nil {
				t.Error("Begin() did not start conversation")
			}
			if client.Done() {
				t.Error("Done() = true before any step")
			}
		})
	}
}

func TestSCRAMClientStep(t *testing.T) {
	client := &scramClient{HashGeneratorFcn: scramSHA512}
	if err := client.Begin("user", "password", ""); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	first, err := client.Step("")
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if first == "" {
		t.Error("first Step() produced empty client message")
	}
}

func TestHashGenerators(t *testing.T) {
	if got := scramSHA256().Size(); got != 32 {
		t.Errorf("sha256 digest size = %d, want 32", got)
	}
	if got := scramSHA512().Size(); got != 64 {
		t.Errorf("sha512 digest size = %d, want 64", got)
	}
}
