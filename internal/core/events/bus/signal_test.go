package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryFollowsSubscriptionOrder(t *testing.T) {
	var sig Signal[string]
	var got []string
	sig.Subscribe(func(e string) { got = append(got, "a:"+e) })
	sig.Subscribe(func(e string) { got = append(got, "b:"+e) })
	sig.Subscribe(func(e string) { got = append(got, "c:"+e) })

	sig.Publish("x")
	assert.Equal(t, []string{"a:x", "b:x", "c:x"}, got)
}

func TestCancelStopsDelivery(t *testing.T) {
	var sig Signal[int]
	count := 0
	sub := sig.Subscribe(func(int) { count++ })
	sig.Publish(1)
	sub.Cancel()
	sub.Cancel()
	sig.Publish(2)

	assert.Equal(t, 1, count)
	assert.False(t, sub.IsActive())
	assert.Equal(t, 0, sig.Len())
}

func TestCancelDuringDelivery(t *testing.T) {
	var sig Signal[int]
	var second Subscription
	calls := []string{}
	sig.Subscribe(func(int) {
		calls = append(calls, "first")
		second.Cancel()
	})
	second = sig.Subscribe(func(int) { calls = append(calls, "second") })

	sig.Publish(1)
	assert.Equal(t, []string{"first"}, calls)
}

func TestSubscribeDuringDeliveryWaitsForNextEvent(t *testing.T) {
	var sig Signal[int]
	late := 0
	sig.Subscribe(func(int) {
		if late == 0 {
			sig.Subscribe(func(int) { late++ })
		}
	})
	sig.Publish(1)
	assert.Equal(t, 0, late)
	sig.Publish(2)
	assert.Equal(t, 1, late)
}

func TestReset(t *testing.T) {
	var sig Signal[int]
	sub := sig.Subscribe(func(int) { t.Fatal("called after reset") })
	sig.Reset()
	sig.Publish(1)
	assert.False(t, sub.IsActive())
	assert.NotEmpty(t, sub.ID())
}
