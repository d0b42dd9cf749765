package elog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInfofWritesLineAtDefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Infof("hello %s", "world")
	require.Contains(t, buf.String(), "hello world")
}

func TestDebugfSuppressedAtDefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Debugf("should not appear")
	require.Empty(t, buf.String())
}

func TestSetLevelEnablesDebug(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.SetLevel(Debug)
	l.Debugf("now it appears")
	require.Contains(t, buf.String(), "now it appears")
}

func TestOffLevelSuppressesEverything(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.SetLevel(Off)
	l.Errorf("silenced")
	require.Empty(t, buf.String())
}

func TestAddWriterFansOut(t *testing.T) {
	var a, b bytes.Buffer
	l := New(&a)
	l.AddWriter(&b)
	l.Infof("fan out")
	require.Contains(t, a.String(), "fan out")
	require.Contains(t, b.String(), "fan out")
}

func TestNewDiscardDropsOutput(t *testing.T) {
	l := NewDiscard()
	l.Infof("nowhere")
}
