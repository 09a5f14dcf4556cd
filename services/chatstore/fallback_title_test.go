package chatstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackTitle(t *testing.T) {
	assert.Equal(t, "Untitled chat", FallbackTitle("   "))
	long := "Which product category had the highest total revenue across all regions last year?"
	got := FallbackTitle(long)
	assert.LessOrEqual(t, len([]rune(got)), maxFallbackTitle+1)
	assert.Contains(t, got, "…")
}
