package syslogudp

import (
	"fmt"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/logging"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/stats"
)

func TestShardFor_StablePerSource(t *testing.T) {
	gofakeit.Seed(11)
	for i := 0; i < 50; i++ {
		source := fmt.Sprintf("%s:%d", gofakeit.IPv4Address(), gofakeit.Number(1024, 65535))
		first := shardFor(source, numConsumers)
		for j := 0; j < 5; j++ {
			assert.Equal(t, first, shardFor(source, numConsumers))
		}
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, numConsumers)
	}
}

func TestDispatch_SplitsMultiLineDatagrams(t *testing.T) {
	r := New("127.0.0.1:0", stats.New(), logging.Default())
	r.dispatch("10.0.0.1:514", []byte("line-one\r\nline-two\n\nline-three"))

	var got []string
	for _, q := range r.queues {
		for {
			select {
			case line := <-q:
				assert.Equal(t, "10.0.0.1:514", line.Source)
				got = append(got, line.Raw)
				continue
			default:
			}
			break
		}
	}
	assert.ElementsMatch(t, []string{"line-one", "line-two", "line-three"}, got)
}

func TestDispatch_TruncatesOversizeLines(t *testing.T) {
	r := New("127.0.0.1:0", stats.New(), logging.Default())
	r.dispatch("10.0.0.2:514", []byte(strings.Repeat("x", 20*1024)))

	shard := shardFor("10.0.0.2:514", numConsumers)
	line := <-r.queues[shard]
	require.True(t, line.Oversize)
	assert.Len(t, line.Raw, 16*1024)
}

func TestDispatch_DropsWhenQueueFull(t *testing.T) {
	counters := stats.New()
	r := New("127.0.0.1:0", counters, logging.Default())

	source := "10.0.0.3:514"
	perQueue := queueCapacity / numConsumers
	for i := 0; i < perQueue+10; i++ {
		r.dispatch(source, []byte("x"))
	}

	snap := counters.Snapshot()
	assert.EqualValues(t, 10, snap.UDPDrops)
	assert.EqualValues(t, perQueue+10, snap.UDPPackets)
}
