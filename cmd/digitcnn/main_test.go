package main

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

func TestQuietMustReportsOnce(t *testing.T) {
	quietMust()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	want := errors.New("no data")
	err := exceptions.TryCatch[error](func() { must.M1(0, want) })
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if buf.Len() != 0 {
		t.Fatalf("must logged through the standard logger: %q", buf.String())
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a.png, ,b.jpg,")
	if len(got) != 2 || got[0] != "a.png" || got[1] != "b.jpg" {
		t.Fatalf("unexpected list %v", got)
	}
}
