package store

import "testing"

func TestItemExpired(t *testing.T) {
	tests := []struct {
		name string
		item Item
		now  int64
		want bool
	}{
		{"no expiry", Item{}, 1000, false},
		{"future", Item{Expire: 2000}, 1000, false},
		{"exactly now", Item{Expire: 1000}, 1000, false},
		{"past", Item{Expire: 999}, 1000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.Expired(tt.now); got != tt.want {
				t.Errorf("Expired(%d) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}
