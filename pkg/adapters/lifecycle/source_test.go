package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/notesync/pkg/core"
)

func TestSource_Forwards(t *testing.T) {
	changes := make(chan core.Change, 2)
	changes <- core.Change{Op: core.OpInserted, Note: core.Note{ID: "n1"}}
	changes <- core.Change{Op: core.OpDeleted, Note: core.Note{ID: "n1"}}
	close(changes)

	src := NewSource(changes)
	require.NoError(t, src.Start(context.Background()))

	var got []string
	for e := range src.Events() {
		got = append(got, e.String())
	}
	assert.Equal(t, []string{"INSERT n1", "DELETE n1"}, got)
}

func TestSource_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := NewSource(make(chan core.Change))
	require.NoError(t, src.Start(ctx))
	cancel()

	select {
	case _, open := <-src.Events():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("source did not stop")
	}
}
