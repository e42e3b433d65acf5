// Package recovery classifies failed fetch attempts and applies the retry,
// identity rotation and skip policy.
package recovery

import (
	"errors"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

// Classify maps an attempt error onto the failure taxonomy. Timeouts,
// transport errors and anything unrecognized are transient.
func Classify(err error) crawler.FailureKind {
	if err == nil {
		return crawler.KindSuccess
	}
	var failure *crawler.FailureError
	if errors.As(err, &failure) && failure.Kind != crawler.KindSuccess {
		return failure.Kind
	}
	switch {
	case errors.Is(err, crawler.ErrStructural):
		return crawler.KindStructural
	case errors.Is(err, crawler.ErrChallenge):
		return crawler.KindChallenge
	default:
		return crawler.KindTransient
	}
}
