package apiclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogSession(t *testing.T) {
	s := NewLogSession(nil)
	assert.Equal(t, "/", s.CurrentPath())
	assert.True(t, s.LoggedIn())

	s.SetCurrentPath("/bulk-deploy")
	s.Logout("/login/sso?continue=%2Fbulk-deploy")
	s.Logout("/login/sso?continue=%2Fbulk-deploy")

	assert.False(t, s.LoggedIn())
	assert.Equal(t, "/login/sso?continue=%2Fbulk-deploy", s.LoginURL())
}
