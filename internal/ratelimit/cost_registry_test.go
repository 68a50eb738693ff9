package ratelimit

import (
	"sync"
	"testing"
)

func TestNewCostRegistry_DefaultConfig(t *testing.T) {
	registry := NewCostRegistry(nil)

	if got := registry.DefaultCost(); got != DefaultCost {
		t.Errorf("DefaultCost() = %d, want %d", got, DefaultCost)
	}
}

func TestNewCostRegistry_CustomDefaultCost(t *testing.T) {
	registry := NewCostRegistry(&CostRegistryConfig{DefaultCost: 5})

	if got := registry.DefaultCost(); got != 5 {
		t.Errorf("DefaultCost() = %d, want 5", got)
	}
	if got := registry.Cost("captions"); got != 5 {
		t.Errorf("Cost(captions) = %d, want 5", got)
	}
}

func TestNewCostRegistry_WithOverrides(t *testing.T) {
	registry := NewCostRegistry(&CostRegistryConfig{
		Overrides: map[string]int{
			ResourceSearch: 150,
			"captions":     50,
			"ignored":      0,
		},
	})

	if got := registry.Cost(ResourceSearch); got != 150 {
		t.Errorf("Cost(%s) = %d, want 150", ResourceSearch, got)
	}
	if got := registry.Cost("captions"); got != 50 {
		t.Errorf("Cost(captions) = %d, want 50", got)
	}
	if got := registry.Cost("ignored"); got != DefaultCost {
		t.Errorf("Cost(ignored) = %d, want %d", got, DefaultCost)
	}
}

func TestCostRegistry_KnownResources(t *testing.T) {
	registry := NewCostRegistry(nil)

	tests := []struct {
		resource string
		expected int
	}{
		{ResourceVideos, CostVideosList},
		{ResourceChannels, CostChannelsList},
		{ResourcePlaylistItems, CostPlaylistItemsList},
		{ResourceSearch, CostSearchList},
	}

	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			if got := registry.Cost(tt.resource); got != tt.expected {
				t.Errorf("Cost(%s) = %d, want %d", tt.resource, got, tt.expected)
			}
		})
	}

	known := registry.KnownResources()
	want := []string{ResourceChannels, ResourcePlaylistItems, ResourceSearch, ResourceVideos}
	if len(known) != len(want) {
		t.Fatalf("KnownResources() = %v, want %v", known, want)
	}
	for i := range want {
		if known[i] != want[i] {
			t.Errorf("KnownResources()[%d] = %s, want %s", i, known[i], want[i])
		}
	}
}

func TestCostRegistry_SetCost(t *testing.T) {
	registry := NewCostRegistry(nil)

	registry.SetCost(ResourceVideos, 3)
	if got := registry.Cost(ResourceVideos); got != 3 {
		t.Errorf("Cost(videos) = %d, want 3", got)
	}

	registry.SetCost(ResourceVideos, -1)
	if got := registry.Cost(ResourceVideos); got != 3 {
		t.Errorf("Cost(videos) after negative SetCost = %d, want 3", got)
	}
}

func TestCostRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewCostRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			registry.SetCost(ResourceSearch, 100+n)
		}(i)
		go func() {
			defer wg.Done()
			_ = registry.Cost(ResourceSearch)
		}()
	}
	wg.Wait()

	if got := registry.Cost(ResourceSearch); got < 100 {
		t.Errorf("Cost(search) = %d, want >= 100", got)
	}
}
