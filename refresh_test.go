package bifrost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRefreshTokenDeduplicatesConcurrentCallers(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/admin/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(300 * time.Millisecond) // keep the call in flight while followers pile on
		writeGrant(w, "renewed", 3600, false)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	b := newTestController(t, Config{BaseURL: server.URL, DisableBackgroundRefresh: true})
	seedSession(b, "original", 3600)

	const callers = 8
	start := make(chan struct{})
	var wg sync.WaitGroup

	results := make([]*Session, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = b.RefreshToken(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load(), "every concurrent caller must share one network exchange")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		require.Equal(t, "renewed", results[i].Token)
	}
}

func TestRefreshTokenRetriesWithLinearBackoff(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/admin/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		attempt := len(times)
		mu.Unlock()

		if attempt < 3 {
			writeRejection(w, http.StatusInternalServerError, "transient")
			return
		}
		writeGrant(w, "third-time-lucky", 3600, false)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	b := newTestController(t, Config{
		BaseURL:                  server.URL,
		MaxRetries:               3,
		RetryDelay:               100 * time.Millisecond,
		DisableBackgroundRefresh: true,
	})
	seedSession(b, "original", 3600)

	rec := &eventRecorder{}
	remove := b.AddListener(rec.listen)
	defer remove()

	sess, err := b.RefreshToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "third-time-lucky", sess.Token)
	require.Equal(t, 1, rec.count(EventRefreshSuccess))
	require.Zero(t, rec.count(EventRefreshFailed))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 3)

	// Linear backoff: delay*1 before attempt 2, delay*2 before attempt 3.
	first := times[1].Sub(times[0])
	second := times[2].Sub(times[1])
	require.GreaterOrEqual(t, first, 90*time.Millisecond)
	require.Less(t, first, 400*time.Millisecond)
	require.GreaterOrEqual(t, second, 190*time.Millisecond)
	require.Less(t, second, 600*time.Millisecond)
}

func TestRefreshTokenExhaustionClearsSession(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/admin/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeRejection(w, http.StatusInternalServerError, "still broken")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	b := newTestController(t, Config{
		BaseURL:                  server.URL,
		MaxRetries:               3,
		RetryDelay:               20 * time.Millisecond,
		DisableBackgroundRefresh: true,
	})
	seedSession(b, "doomed", 3600)

	rec := &eventRecorder{}
	remove := b.AddListener(rec.listen)
	defer remove()

	sess, err := b.RefreshToken(context.Background())
	require.Nil(t, sess)
	require.ErrorIs(t, err, ErrRefreshExhausted)
	require.EqualValues(t, 3, calls.Load())
	require.Equal(t, 1, rec.count(EventRefreshFailed))

	creds, err := b.creds.Get()
	require.NoError(t, err)
	require.Nil(t, creds)
}

func TestRefreshTokenDeclinesWhenForeignLockHeld(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/admin/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeGrant(w, "renewed", 3600, false)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	b := newTestController(t, Config{BaseURL: server.URL, DisableBackgroundRefresh: true})
	seedSession(b, "tok", 3600)

	rec := &eventRecorder{}
	remove := b.AddListener(rec.listen)
	defer remove()

	// Another process sharing the store is mid-refresh.
	require.NoError(t, b.creds.AcquireRefreshLock(30*time.Second))

	sess, err := b.RefreshToken(context.Background())
	require.Nil(t, sess)
	require.ErrorIs(t, err, ErrRefreshLocked)
	require.Zero(t, calls.Load(), "a fresh foreign lock must prevent the network call")
	require.Empty(t, rec.events)

	// A stale lock is ignored.
	require.NoError(t, b.creds.ReleaseRefreshLock())
	sess, err = b.RefreshToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "renewed", sess.Token)
}

func TestRefreshTokenWithoutSession(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/admin/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeGrant(w, "renewed", 3600, false)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	b := newTestController(t, Config{BaseURL: server.URL, DisableBackgroundRefresh: true})

	rec := &eventRecorder{}
	remove := b.AddListener(rec.listen)
	defer remove()

	sess, err := b.RefreshToken(context.Background())
	require.Nil(t, sess)
	require.ErrorIs(t, err, ErrNoSession)
	require.Zero(t, calls.Load())
	require.Equal(t, 1, rec.count(EventRefreshFailed))
}

// The end-to-end failure scenario: a short-lived session already inside
// its renewal window, a backend that stays down, and a two-attempt budget.
func TestRefreshScenarioExhaustsAndClears(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/admin/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		writeRejection(w, http.StatusBadGateway, "down")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	b := newTestController(t, Config{
		BaseURL:                  server.URL,
		RefreshThreshold:         5 * time.Minute,
		MaxRetries:               2,
		RetryDelay:               100 * time.Millisecond,
		DisableBackgroundRefresh: true,
	})

	seedSession(b, "short-lived", 60)
	require.True(t, b.ShouldRefreshToken(), "refresh-due lies 4 minutes in the past")
	require.InDelta(t, (60 * time.Second).Seconds(), b.TimeUntilExpiry().Seconds(), 2)
	require.Zero(t, b.TimeUntilRefresh())

	sess, err := b.RefreshToken(context.Background())
	require.Nil(t, sess)
	require.ErrorIs(t, err, ErrRefreshExhausted)

	creds, err := b.creds.Get()
	require.NoError(t, err)
	require.Nil(t, creds)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 2)
	gap := times[1].Sub(times[0])
	require.GreaterOrEqual(t, gap, 90*time.Millisecond)
	require.Less(t, gap, 400*time.Millisecond)
}
