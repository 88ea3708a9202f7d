package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTopicID_PlainURL(t *testing.T) {
	id, ok := extractTopicID("https://forum.arbitrum.foundation/t/aip-1-2/12345", "https://forum.arbitrum.foundation")
	assert.True(t, ok)
	assert.Equal(t, int64(12345), id)
}

func TestExtractTopicID_TrailingPostNumberAndSlash(t *testing.T) {
	id, ok := extractTopicID("https://forum.example.org/t/my-slug/777/4/", "https://forum.example.org")
	assert.True(t, ok)
	assert.Equal(t, int64(777), id)
}

func TestExtractTopicID_QueryAndFragmentTolerated(t *testing.T) {
	id, ok := extractTopicID("https://forum.example.org/t/my-slug/42?utm=1#post_3", "https://forum.example.org")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestExtractTopicID_WrongForumRejected(t *testing.T) {
	_, ok := extractTopicID("https://otherforum.org/t/my-slug/42", "https://forum.example.org")
	assert.False(t, ok)
}

func TestExtractTopicID_NotATopicURL(t *testing.T) {
	_, ok := extractTopicID("https://forum.example.org/c/governance/12", "https://forum.example.org")
	assert.False(t, ok)
}
