package download

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarpov87/m2mfetch/internal/logging"
	"github.com/akarpov87/m2mfetch/internal/m2m"
)

// fakeAPI answers endpoint calls from a table of handlers.
type fakeAPI struct {
	handlers map[string]func(payload map[string]any) (any, error)
	calls    []string
}

func (f *fakeAPI) Call(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	raw, _ := json.Marshal(payload)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	f.calls = append(f.calls, op)

	h, ok := f.handlers[op]
	if !ok {
		return nil, fmt.Errorf("unexpected op %s", op)
	}
	data, err := h(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(data)
}

func (f *fakeAPI) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func TestCleanerListPending_MapsStatuses(t *testing.T) {
	f := &fakeAPI{handlers: map[string]func(map[string]any) (any, error){
		"download-search": func(payload map[string]any) (any, error) {
			assert.Equal(t, true, payload["activeOnly"])
			return []map[string]any{
				{"downloadId": 1, "entityId": "e1", "statusCode": "P", "filesize": 10},
				{"downloadId": 2, "entityId": "e2", "statusCode": "A", "filesize": 20},
				{"downloadId": 3, "entityId": "e3", "statusCode": "F"},
				{"downloadId": 4, "entityId": "e4", "statusCode": "Q"},
			}, nil
		},
	}}

	pending, err := NewCleaner(f, logging.NewDiscard()).ListPending(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, pending, 4)
	assert.Equal(t, StatusPreparing, pending[0].Status)
	assert.Equal(t, StatusAvailable, pending[1].Status)
	assert.Equal(t, StatusFailed, pending[2].Status)
	assert.Equal(t, StatusQueued, pending[3].Status)
}

func TestCleanerRemove_AlreadyRemovedIsNonFatal(t *testing.T) {
	f := &fakeAPI{handlers: map[string]func(map[string]any) (any, error){
		"download-remove": func(payload map[string]any) (any, error) {
			if payload["downloadId"].(float64) == 2 {
				return nil, fmt.Errorf("remove: %w",
					&m2m.APIError{Code: "DOWNLOAD_NOT_FOUND", Message: "gone"})
			}
			return true, nil
		},
	}}

	outcomes := NewCleaner(f, logging.NewDiscard()).Remove(context.Background(), []int64{1, 2, 3})
	require.Len(t, outcomes, 3)

	assert.NoError(t, outcomes[0].Err)
	assert.False(t, outcomes[0].NotFound)

	assert.NoError(t, outcomes[1].Err, "already-removed id must not be an error")
	assert.True(t, outcomes[1].NotFound)

	assert.NoError(t, outcomes[2].Err)
}

func TestCleanerRemove_KeepsGoingAfterFailure(t *testing.T) {
	f := &fakeAPI{handlers: map[string]func(map[string]any) (any, error){
		"download-remove": func(payload map[string]any) (any, error) {
			if payload["downloadId"].(float64) == 1 {
				return nil, fmt.Errorf("remove: %w",
					&m2m.APIError{Code: "SERVER_ERROR", Message: "boom"})
			}
			return true, nil
		},
	}}

	outcomes := NewCleaner(f, logging.NewDiscard()).Remove(context.Background(), []int64{1, 2})
	require.Len(t, outcomes, 2)
	assert.Error(t, outcomes[0].Err)
	assert.NoError(t, outcomes[1].Err)
	assert.Equal(t, 2, f.count("download-remove"))
}
