package bloom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBloomFilter_ContainsAfterAdd(t *testing.T) {
	filter := NewWithEstimates(100, 0.01)

	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://sub.example.org/c",
	}
	for _, u := range urls {
		filter.Add([]byte(u))
	}

	for _, u := range urls {
		assert.True(t, filter.Contains([]byte(u)), "expected %s to be present", u)
	}
}

func TestBloomFilter_NoFalseNegatives(t *testing.T) {
	filter := NewWithEstimates(1000, 0.01)

	added := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		u := "https://example.com/page-" + string(rune('a'+i%26))
		added = append(added, u)
		filter.Add([]byte(u))
	}

	for _, u := range added {
		assert.True(t, filter.Contains([]byte(u)))
	}
}

func TestBloomFilter_SerializeRoundTrip(t *testing.T) {
	filter := NewWithEstimates(50, 0.01)
	filter.Add([]byte("https://example.com/x"))
	filter.Add([]byte("https://example.com/y"))

	encoded, err := filter.SerializeToBase64()
	assert.NoError(t, err)

	restored, err := DeserializeFromBase64(encoded)
	assert.NoError(t, err)

	assert.True(t, restored.Contains([]byte("https://example.com/x")))
	assert.True(t, restored.Contains([]byte("https://example.com/y")))
	assert.Equal(t, filter.Count(), restored.Count())
}

func TestDeserializeFromBase64_Invalid(t *testing.T) {
	_, err := DeserializeFromBase64("not-valid-base64!!!")
	assert.Error(t, err)
}
