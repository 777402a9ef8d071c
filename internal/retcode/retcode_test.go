package retcode

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOfRoundTrips(t *testing.T) {
	err := New(Timeout, "waited %s", "30s")
	require.Equal(t, Timeout, CodeOf(err))
	require.Contains(t, err.Error(), "timeout")
	require.Contains(t, err.Error(), "waited 30s")
}

func TestCodeOfUnknownErrorIsError(t *testing.T) {
	require.Equal(t, Error, CodeOf(fmt.Errorf("boom")))
	require.Equal(t, OK, CodeOf(nil))
}

func TestWrappedErrorStillMatchesCode(t *testing.T) {
	err := fmt.Errorf("insert failed: %w", New(OutOfResources, ""))
	require.Equal(t, OutOfResources, CodeOf(err))
}
