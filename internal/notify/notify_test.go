package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyURLsYieldNoopNotifier(t *testing.T) {
	n := New(nil)
	assert.NotPanics(t, func() {
		n.Alert("Title", "message")
		n.Alertf("Title", "formatted %d", 1)
	})
}

func TestInvalidURLDisablesDelivery(t *testing.T) {
	n := New([]string{"not-a-service://"})
	assert.NotPanics(t, func() { n.Alert("Title", "message") })
}
