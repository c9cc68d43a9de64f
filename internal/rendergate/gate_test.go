package rendergate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snapfetch/snapfetch/internal/content"
)

func newTestGate(t *testing.T, js, pdf int, wait time.Duration) *Gate {
	t.Helper()
	g, err := New(Config{JSCapacity: js, PDFCapacity: pdf, AcquireWait: wait})
	require.NoError(t, err)
	return g
}

func TestNew_RejectsBadCapacities(t *testing.T) {
	t.Parallel()

	_, err := New(Config{JSCapacity: 0, PDFCapacity: 1})
	require.Error(t, err)
	_, err = New(Config{JSCapacity: 1, PDFCapacity: 0})
	require.Error(t, err)
}

func TestAcquire_GrantsUpToCapacity(t *testing.T) {
	t.Parallel()

	g := newTestGate(t, 2, 1, 50*time.Millisecond)

	release1, err := g.Acquire(context.Background(), KindJSRender)
	require.NoError(t, err)
	release2, err := g.Acquire(context.Background(), KindJSRender)
	require.NoError(t, err)
	require.Equal(t, 2, g.InUse(KindJSRender))

	_, err = g.Acquire(context.Background(), KindJSRender)
	require.ErrorIs(t, err, content.ErrCapacity)

	release1()
	release2()
	require.Equal(t, 0, g.InUse(KindJSRender))
}

func TestAcquire_IndependentBudgets(t *testing.T) {
	t.Parallel()

	g := newTestGate(t, 1, 1, 50*time.Millisecond)

	releaseJS, err := g.Acquire(context.Background(), KindJSRender)
	require.NoError(t, err)
	defer releaseJS()

	// Exhausted js budget must not affect pdf.
	releasePDF, err := g.Acquire(context.Background(), KindPDF)
	require.NoError(t, err)
	defer releasePDF()
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	t.Parallel()

	g := newTestGate(t, 1, 1, time.Second)

	release, err := g.Acquire(context.Background(), KindJSRender)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	release2, err := g.Acquire(context.Background(), KindJSRender)
	require.NoError(t, err)
	release2()
}

func TestAcquire_ContextCancellation(t *testing.T) {
	t.Parallel()

	g := newTestGate(t, 1, 1, time.Minute)
	release, err := g.Acquire(context.Background(), KindPDF)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Acquire(ctx, KindPDF)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAcquire_UnknownKind(t *testing.T) {
	t.Parallel()

	g := newTestGate(t, 1, 1, 50*time.Millisecond)
	_, err := g.Acquire(context.Background(), Kind("video"))
	require.Error(t, err)
}

// Two concurrent PDF requests against capacity 1: one proceeds immediately,
// the other either waits for the release or fails with ErrCapacity; the
// guarded sections never overlap.
func TestAcquire_PDFCapacityOneNeverOverlaps(t *testing.T) {
	t.Parallel()

	g := newTestGate(t, 1, 1, 30*time.Millisecond)

	var (
		inside    atomic.Int32
		maxInside atomic.Int32
		granted   atomic.Int32
		busy      atomic.Int32
		wg        sync.WaitGroup
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(context.Background(), KindPDF)
			if err != nil {
				require.ErrorIs(t, err, content.ErrCapacity)
				busy.Add(1)
				return
			}
			granted.Add(1)
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(50 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	require.GreaterOrEqual(t, int(granted.Load()), 1)
	require.Equal(t, int32(2), granted.Load()+busy.Load())
	require.LessOrEqual(t, maxInside.Load(), int32(1))
}
