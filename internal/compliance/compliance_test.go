package compliance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUserAgentRotatorRoundRobin(t *testing.T) {
	t.Parallel()

	r := NewUserAgentRotator([]string{"a", "", "b"})
	require.Equal(t, []string{"a", "b", "a"}, []string{r.Next(), r.Next(), r.Next()})

	def := NewUserAgentRotator(nil)
	require.Equal(t, DefaultUserAgents[0], def.Next())
}

func TestBackoffSchedule(t *testing.T) {
	t.Parallel()

	b := NewBackoff(0, 0)
	require.Equal(t, 3, b.MaxAttempts)
	require.Equal(t, time.Second, b.Delay(1))
	require.Equal(t, 2*time.Second, b.Delay(2))
	require.Equal(t, 4*time.Second, b.Delay(3))
	require.True(t, b.ShouldRetry(2))
	require.False(t, b.ShouldRetry(3))
}

func TestTimerSleeperHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := TimerSleeper{}.Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, TimerSleeper{}.Sleep(context.Background(), 0))
}

func TestDetectBlock(t *testing.T) {
	t.Parallel()

	require.Equal(t, "captcha", DetectBlock("<div class=g-recaptcha>Please solve the CAPTCHA</div>"))
	require.Equal(t, "checking your browser", DetectBlock("<title>Checking your browser before accessing</title>"))
	require.Equal(t, "subscribe to continue reading", DetectBlock("Subscribe to continue reading this article"))
	require.Empty(t, DetectBlock("<p>Oak flooring from $45 per sqm</p>"))
	require.Empty(t, DetectBlock(strings.Repeat("x", blockScanLimit)+"captcha"))
}
