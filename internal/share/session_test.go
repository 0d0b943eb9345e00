package share_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/raphaelgruber/shareingest/internal/share"
	"github.com/raphaelgruber/shareingest/internal/share/sharetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSpec = share.Spec{Host: "nas", Port: 445, Share: "docs"}

func TestOpenConnectionError(t *testing.T) {
	mem := sharetest.New(nil)
	mem.DialErr = errors.New("connection refused")

	_, err := share.Open(context.Background(), mem.Dialer(), testSpec, share.Credentials{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, share.ErrConnection)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSessionExists(t *testing.T) {
	mem := sharetest.New(map[string]string{"reports/q1.pdf": "%PDF"})
	sess, err := share.Open(context.Background(), mem.Dialer(), testSpec, share.Credentials{}, nil)
	require.NoError(t, err)
	defer sess.Close()

	ok, err := sess.Exists("reports/q1.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sess.Exists("reports/q2.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionSerializesRemoteCalls(t *testing.T) {
	files := make(map[string]string)
	for i := 0; i < 20; i++ {
		files[fmt.Sprintf("f%02d.txt", i)] = "x"
	}
	mem := sharetest.New(files)
	sess, err := share.Open(context.Background(), mem.Dialer(), testSpec, share.Credentials{}, nil)
	require.NoError(t, err)
	defer sess.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = sess.Exists(fmt.Sprintf("f%02d.txt", i))
		}(i)
	}
	wg.Wait()

	assert.False(t, mem.Concurrent.Load(), "client handle was used concurrently")
}

func TestSessionCloseIdempotent(t *testing.T) {
	mem := sharetest.New(nil)
	sess, err := share.Open(context.Background(), mem.Dialer(), testSpec, share.Credentials{}, nil)
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Equal(t, int32(1), mem.Closes.Load())

	err = sess.WithLock(func(share.Client) error { return nil })
	assert.ErrorIs(t, err, share.ErrSessionClosed)
}
