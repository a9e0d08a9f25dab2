package dns

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachingResolverCachesAnswers(t *testing.T) {
	var lookups atomic.Int32
	mock := MockResolver{
		TXT:      map[string][]string{"example.com.": {"v=spf1 -all"}},
		A:        map[string][]string{"mail.example.com.": {"192.0.2.1"}},
		OnLookup: func(string) { lookups.Add(1) },
	}
	c := NewCachingResolver(mock, CacheConfig{})
	ctx := context.Background()

	for range 3 {
		res, err := c.LookupTXT(ctx, "example.com")
		require.NoError(t, err)
		assert.Equal(t, []string{"v=spf1 -all"}, res.Records)
	}
	assert.Equal(t, int32(1), lookups.Load())

	// Trailing dot and no trailing dot share one entry.
	_, err := c.LookupTXT(ctx, "example.com.")
	require.NoError(t, err)
	assert.Equal(t, int32(1), lookups.Load())

	ips, err := c.LookupIP(ctx, "ip4", "mail.example.com")
	require.NoError(t, err)
	assert.True(t, ips.Records[0].Equal(net.ParseIP("192.0.2.1")))
	assert.Equal(t, 2, c.Len())
}

func TestCachingResolverNegativeAndTemporary(t *testing.T) {
	var lookups atomic.Int32
	mock := MockResolver{
		Fail:     []string{"mx example.com."},
		OnLookup: func(string) { lookups.Add(1) },
	}
	c := NewCachingResolver(mock, CacheConfig{})
	ctx := context.Background()

	for range 2 {
		_, err := c.LookupTXT(ctx, "missing.example")
		assert.True(t, IsNotFound(err))
	}
	assert.Equal(t, int32(1), lookups.Load(), "not-found answers are cached")

	for range 2 {
		_, err := c.LookupMX(ctx, "example.com")
		assert.True(t, IsServFail(err))
	}
	assert.Equal(t, int32(3), lookups.Load(), "temporary failures are not cached")
}

func TestCachingResolverExpiry(t *testing.T) {
	var lookups atomic.Int32
	mock := MockResolver{
		PTR:      map[string][]string{"192.0.2.1": {"mail.example.com."}},
		OnLookup: func(string) { lookups.Add(1) },
	}
	c := NewCachingResolver(mock, CacheConfig{TTL: time.Minute, MaxEntries: 1})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	ip := net.ParseIP("192.0.2.1")

	_, err := c.LookupAddr(ctx, ip)
	require.NoError(t, err)
	_, err = c.LookupAddr(ctx, ip)
	require.NoError(t, err)
	assert.Equal(t, int32(1), lookups.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.LookupAddr(ctx, ip)
	require.NoError(t, err)
	assert.Equal(t, int32(2), lookups.Load())

	_, _ = c.LookupTXT(ctx, "other.example")
	assert.Equal(t, 1, c.Len(), "cache stays within MaxEntries")
}

func TestCachingResolverConcurrent(t *testing.T) {
	release := make(chan struct{})
	var upstream atomic.Int32
	slow := AsyncResolverFunc(func(q Question, done func(Answer)) {
		upstream.Add(1)
		go func() {
			<-release
			done(Answer{Err: ErrDNSNotFound})
		}()
	})
	c := NewCachingResolver(FromAsync(slow), CacheConfig{})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.LookupTXT(context.Background(), "example.com")
			assert.True(t, IsNotFound(err))
		}()
	}

	// Give the goroutines time to pile up on the in-flight lookup.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), upstream.Load())
}

func TestCachingResolverCallerCancel(t *testing.T) {
	release := make(chan struct{})
	var upstream atomic.Int32
	slow := AsyncResolverFunc(func(q Question, done func(Answer)) {
		upstream.Add(1)
		go func() {
			<-release
			done(Answer{Err: ErrDNSNotFound})
		}()
	})
	c := NewCachingResolver(FromAsync(slow), CacheConfig{})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.LookupTXT(ctxA, "example.com")
		errA <- err
	}()
	require.Eventually(t, func() bool { return upstream.Load() == 1 }, time.Second, 5*time.Millisecond)

	errB := make(chan error, 1)
	go func() {
		_, err := c.LookupTXT(context.Background(), "example.com")
		errB <- err
	}()
	// Let the second caller join the in-flight lookup.
	time.Sleep(50 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	err := <-errB
	assert.True(t, IsNotFound(err), "err = %v", err)
	assert.Equal(t, int32(1), upstream.Load())

	// The answer is cached although the first caller went away.
	_, err = c.LookupTXT(context.Background(), "example.com")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), upstream.Load())
}
