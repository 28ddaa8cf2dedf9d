package main

import (
	"io"
	"testing"

	"github.com/vango-dev/uiwire/internal/errors"
)

func TestErrorsFlag(t *testing.T) {
	t.Cleanup(func() {
		errorFormat = "text"
		errorStyle = errors.StyleText
	})

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"--errors", "json", "version", "--short"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if errorStyle != errors.StyleJSON {
		t.Errorf("errorStyle = %v, want StyleJSON", errorStyle)
	}

	root = newRootCmd()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"--errors", "xml", "version"})
	err := root.Execute()
	if err == nil {
		t.Fatal("--errors xml should fail")
	}
	if ue := asUIWireError(err); ue.Category != errors.CategoryCLI {
		t.Errorf("error category = %q, want cli", ue.Category)
	}
}
