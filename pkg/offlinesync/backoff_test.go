package offlinesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAudioUploadBackoff(t *testing.T) {
	initial := 1 * time.Second
	max := 10 * time.Second

	assert.Equal(t, 1*time.Second, audioUploadBackoff(0, initial, max))
	assert.Equal(t, 2*time.Second, audioUploadBackoff(1, initial, max))
	assert.Equal(t, 4*time.Second, audioUploadBackoff(2, initial, max))
	assert.Equal(t, 8*time.Second, audioUploadBackoff(3, initial, max))
	assert.Equal(t, max, audioUploadBackoff(10, initial, max))
}
