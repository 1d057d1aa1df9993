package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthHandler(t *testing.T) {
	auth := NewAuthHandler("s3cret")

	t.Run("should generate distinct challenges", func(t *testing.T) {
		a, err := auth.GenerateChallenge()
		require.NoError(t, err)
		b, err := auth.GenerateChallenge()
		require.NoError(t, err)

		assert.Len(t, a, 64)
		assert.NotEqual(t, a, b)
	})

	t.Run("should verify signatures", func(t *testing.T) {
		assert.True(t, auth.VerifySignature("abc", Sign("s3cret", "abc")))
		assert.False(t, auth.VerifySignature("abc", Sign("other", "abc")))
		assert.False(t, auth.VerifySignature("abc", ""))
	})

	t.Run("should verify header secrets", func(t *testing.T) {
		assert.True(t, auth.VerifySecret("s3cret"))
		assert.False(t, auth.VerifySecret("nope"))
		assert.True(t, NewAuthHandler("").VerifySecret(""))
	})

	t.Run("should close after repeated failures", func(t *testing.T) {
		client := &Client{ID: "c1", challenge: "xyz"}

		res, closeConn := auth.HandleAuthResponse(client, "bad")
		assert.False(t, res.OK)
		assert.False(t, closeConn)

		auth.HandleAuthResponse(client, "bad")
		res, closeConn = auth.HandleAuthResponse(client, "bad")
		assert.Equal(t, "too many failed attempts", res.Message)
		assert.True(t, closeConn)
		assert.False(t, client.Authenticated())
	})

	t.Run("should authenticate once and clear the challenge", func(t *testing.T) {
		client := &Client{ID: "c2", challenge: "xyz"}

		res, _ := auth.HandleAuthResponse(client, Sign("s3cret", "xyz"))
		assert.True(t, res.OK)
		assert.True(t, client.Authenticated())

		res, _ = auth.HandleAuthResponse(client, Sign("s3cret", "xyz"))
		assert.Equal(t, "no challenge found", res.Message)
	})
}

func TestClientHistory(t *testing.T) {
	client := &Client{ID: "c"}
	for i := 0; i < maxHistoryTurns+3; i++ {
		client.appendTurn("q", "a")
	}

	history := client.History()
	assert.Len(t, history, 2*maxHistoryTurns)
	assert.Equal(t, "user", history[0].Role)

	assert.True(t, client.setActiveRun("run-1"))
	assert.False(t, client.setActiveRun("run-2"))
	assert.True(t, client.setActiveRun(""))
	assert.Equal(t, "", client.currentRun())
}
