package main

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/govscope/govscope/analyzer/db/iface"
	"github.com/govscope/govscope/analyzer/types"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", types.Errorf(types.KindValidation, "", "bad input"), exitValidation},
		{"wrapped validation", errors.Wrap(types.Errorf(types.KindValidation, "", "bad input"), "analyze"), exitValidation},
		{"degraded", errDegraded, exitDegraded},
		{"wrapped degraded", errors.Wrap(errDegraded, "analyze"), exitDegraded},
		{"cancelled", types.Errorf(types.KindCancelled, "src", "deadline"), exitCancelled},
		{"bare context cancel", context.Canceled, exitCancelled},
		{"deadline exceeded", context.DeadlineExceeded, exitCancelled},
		{"fetch exhaustion", types.Errorf(types.KindTransientUnavailable, "", "all sources exhausted"), exitFailure},
		{"storage", types.Errorf(types.KindStorageIO, "", "disk full"), exitFailure},
		{"not found", errors.Wrap(iface.ErrNotFound, "compound"), exitFailure},
		{"internal", errors.New("broken invariant"), exitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.err))
		})
	}
}
