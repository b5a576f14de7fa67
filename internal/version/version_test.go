package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	orig := Commit
	t.Cleanup(func() { Commit = orig })
	stampOnce.Do(stamp)
	Commit = "abc1234567890"

	info := Info()
	assert.Contains(t, info, "memarena")
	assert.Contains(t, info, "abc1234")
	assert.NotContains(t, info, "abc1234567890")
	assert.Contains(t, info, runtime.GOOS)
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "memarena/"+Version, UserAgent())
}

func TestShort(t *testing.T) {
	assert.Equal(t, "1234567", short("12345678"))
	assert.Equal(t, "abc", short("abc"))
	assert.Equal(t, "", short(""))
}
