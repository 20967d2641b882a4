package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

// TestKey verifies deterministic key construction with trimming and
// lower-casing, so differently cased city names collide.
func TestKey(t *testing.T) {
	tests := []struct {
		name       string
		namespace  string
		components []string
		want       string
	}{
		{
			name:       "single component",
			namespace:  "weather",
			components: []string{"Moscow"},
			want:       "weather:moscow",
		},
		{
			name:       "already lowercase",
			namespace:  "weather",
			components: []string{"moscow"},
			want:       "weather:moscow",
		},
		{
			name:       "whitespace and caps",
			namespace:  "weather",
			components: []string{" MOSCOW "},
			want:       "weather:moscow",
		},
		{
			name:       "multiple components",
			namespace:  "weather_coords",
			components: []string{"55.75", "37.62"},
			want:       "weather_coords:55.75:37.62",
		},
		{
			name:       "no components",
			namespace:  "forecast",
			components: nil,
			want:       "forecast",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Key(tc.namespace, tc.components...)
			if got != tc.want {
				t.Fatalf("Key(%q, %v) = %q, want %q", tc.namespace, tc.components, got, tc.want)
			}
		})
	}
}

// TestKey_CaseInsensitiveCollision verifies the load-bearing property:
// all casings of a city name produce the same key.
func TestKey_CaseInsensitiveCollision(t *testing.T) {
	a := Key("weather", "Moscow")
	b := Key("weather", "moscow")
	c := Key("weather", " MOSCOW ")
	if a != b || b != c {
		t.Errorf("keys differ: %q, %q, %q", a, b, c)
	}
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get
// retrieves them.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := []byte(`{"city":"seattle"}`)
	if err := c.Set(ctx, "weather:seattle", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "weather:seattle")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if !bytes.Equal(got, val) {
		t.Errorf("Get() = %s, want %s", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false for an
// absent key.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_, ok, err := c.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that expired entries behave
// exactly like absent ones and are removed on access.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	if err := c.Set(ctx, "weather:seattle", []byte("x"), time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "weather:seattle")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 0 {
		t.Error("expired entry should be deleted from cache")
	}
}

// TestInMemoryCache_Set_Overwrite verifies that Set replaces a prior
// entry for the same key.
func TestInMemoryCache_Set_Overwrite(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_ = c.Set(ctx, "k", []byte("old"), time.Minute)
	_ = c.Set(ctx, "k", []byte("new"), time.Minute)

	got, ok, _ := c.Get(ctx, "k")
	if !ok || string(got) != "new" {
		t.Errorf("Get() = %q, %v; want %q, true", got, ok, "new")
	}
}

// TestInMemoryCache_Set_NonPositiveTTL verifies that a non-positive TTL
// is clamped rather than stored without expiry.
func TestInMemoryCache_Set_NonPositiveTTL(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("entry with clamped TTL should be retrievable immediately")
	}
	c.mu.RLock()
	entry := c.data["k"]
	c.mu.RUnlock()
	if entry.expiresAt.IsZero() {
		t.Error("entry stored without expiry")
	}
	if entry.expiresAt.After(time.Now().Add(defaultTTL + time.Minute)) {
		t.Errorf("expiry %v exceeds clamped TTL", entry.expiresAt)
	}
}

// TestInMemoryCache_Invalidate verifies prefix invalidation removes all
// matching entries, leaves others, and is a no-op without matches.
func TestInMemoryCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_ = c.Set(ctx, "weather:moscow", []byte("a"), time.Minute)
	_ = c.Set(ctx, "forecast:moscow", []byte("b"), time.Minute)
	_ = c.Set(ctx, "weather:paris", []byte("c"), time.Minute)

	if err := c.Invalidate(ctx, "weather:moscow"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	if _, ok, _ := c.Get(ctx, "weather:moscow"); ok {
		t.Error("invalidated key still present")
	}
	if _, ok, _ := c.Get(ctx, "forecast:moscow"); !ok {
		t.Error("unrelated namespace was invalidated")
	}
	if _, ok, _ := c.Get(ctx, "weather:paris"); !ok {
		t.Error("unrelated city was invalidated")
	}

	// No matches: must be a no-op, not an error.
	if err := c.Invalidate(ctx, "weather:atlantis"); err != nil {
		t.Fatalf("Invalidate() with no matches error = %v", err)
	}
}

// TestInMemoryCache_ConcurrentAccess is a smoke test for the RWMutex
// protection; run with -race.
func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = c.Set(ctx, "k", []byte("v"), time.Minute)
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		_, _, _ = c.Get(ctx, "k")
	}
	<-done
}
