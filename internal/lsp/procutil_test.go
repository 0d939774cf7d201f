package lsp

import (
	"os"
	"testing"
)

func TestPIDAliveForCurrentProcess(t *testing.T) {
	if !pidAlive(os.Getpid()) {
		t.Fatal("the running test process should be considered alive")
	}
}

func TestPIDAliveRejectsNonPositive(t *testing.T) {
	if pidAlive(0) || pidAlive(-1) {
		t.Fatal("non-positive PIDs should never be alive")
	}
}
