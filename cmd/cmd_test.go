package cmd

import (
	"os"
	"strings"
	"testing"
)

func TestExecute_UnknownCommand(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"recap", "no-such-command"}

	err := Execute()
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown command")
	}
	if !strings.Contains(err.Error(), "no-such-command") {
		t.Errorf("error %q does not name the bad command", err)
	}
}

func TestExecute_Help(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"recap", "help"}

	if err := Execute(); err != nil {
		t.Errorf("Execute(help) = %v", err)
	}
}

func TestExecute_Version(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"recap", "version"}

	if err := Execute(); err != nil {
		t.Errorf("Execute(version) = %v", err)
	}
}
