package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNoOpProviderContract(t *testing.T) {
	p := &NoOpProvider{Logger: zap.NewNop()}
	require.NoError(t, p.Publish(context.Background(), Message{BookID: "42", Object: "books/x.epub"}))
	require.NoError(t, p.Close())

	// A zero-value provider must also be safe.
	require.NoError(t, (&NoOpProvider{}).Publish(context.Background(), Message{}))
}

func TestMessageEncoding(t *testing.T) {
	data, err := json.Marshal(Message{BookID: "9781234567890", Object: "books/Some_Book.epub"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"book_id":"9781234567890","object":"books/Some_Book.epub"}`, string(data))
}
