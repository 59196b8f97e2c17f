package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeviceQueueFIFOOrder(t *testing.T) {
	var q deviceQueue
	a := NewRunInfo("a", nil, nil, 1)
	b := NewRunInfo("b", nil, nil, 1)
	c := NewRunInfo("c", nil, nil, 1)

	q.pushBack(a)
	q.pushBack(b)
	q.pushBack(c)
	require.Equal(t, 3, q.len())

	got := q.popFront()
	require.Equal(t, "a", got.rinfo.ID)
	got = q.popFront()
	require.Equal(t, "b", got.rinfo.ID)
	got = q.popFront()
	require.Equal(t, "c", got.rinfo.ID)
	require.Equal(t, 0, q.len())
	require.Nil(t, q.popFront())
}

func TestDeviceQueuePushFront(t *testing.T) {
	var q deviceQueue
	a := NewRunInfo("a", nil, nil, 1)
	b := NewRunInfo("b", nil, nil, 1)
	q.pushBack(a)
	q.pushFront(b)

	require.Equal(t, "b", q.front().rinfo.ID)
	require.Equal(t, 2, q.len())
}

func TestDeviceQueueEvictHead(t *testing.T) {
	var q deviceQueue
	a := NewRunInfo("a", nil, nil, 1)
	b := NewRunInfo("b", nil, nil, 1)
	c := NewRunInfo("c", nil, nil, 1)
	ia := q.pushBack(a)
	q.pushBack(b)
	q.pushBack(c)

	q.evict(ia)
	require.Equal(t, 2, q.len())
	require.Equal(t, "b", q.front().rinfo.ID)
}

func TestDeviceQueueEvictMiddleAndTail(t *testing.T) {
	var q deviceQueue
	q.pushBack(NewRunInfo("a", nil, nil, 1))
	ib := q.pushBack(NewRunInfo("b", nil, nil, 1))
	ic := q.pushBack(NewRunInfo("c", nil, nil, 1))

	q.evict(ib)
	require.Equal(t, 2, q.len())
	require.Equal(t, "a", q.front().rinfo.ID)
	require.Equal(t, "c", q.next(q.front()).rinfo.ID)

	q.evict(ic)
	require.Equal(t, 1, q.len())
	require.Nil(t, q.next(q.front()))
}
