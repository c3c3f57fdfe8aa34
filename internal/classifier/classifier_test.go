// Copyright 2025 James Ross
package classifier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPrioritizesProbeErrorsAsBadMedia(t *testing.T) {
	c := Classify(errors.New("some generic failure"), true)
	assert.Equal(t, CategoryBadMedia, c.Category)
}

func TestClassifyMatchesKeywordsInPriorityOrder(t *testing.T) {
	cases := []struct {
		msg  string
		want Category
	}{
		{"unsupported codec", CategoryBadMedia},
		{"context deadline exceeded: timed out", CategoryTimeout},
		{"bedrock throttling exception", CategoryProviderError},
		{"dial tcp redis:6379: connection refused", CategoryDependencyUnavailable},
		{"nil pointer dereference", CategoryUnexpectedException},
	}
	for _, tc := range cases {
		got := Classify(errors.New(tc.msg), false)
		assert.Equal(t, tc.want, got.Category, tc.msg)
		assert.NotEmpty(t, got.Recommendation)
	}
}
